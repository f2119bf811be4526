// Package gen derives static terrain properties from the world seed.
package gen

import "hydronet/internal/sim/world/logic/mathx"

// AquiferPermille is the water richness of the region column holding (x,z),
// in permille. Every cell of a regionSize×regionSize column shares it, and it
// never drops below minPermille.
func AquiferPermille(seed int64, x, z, regionSize, minPermille int) int {
	if regionSize <= 0 {
		regionSize = 1
	}
	minPermille = ClampPermille(minPermille)
	rx := mathx.FloorDiv(x, regionSize)
	rz := mathx.FloorDiv(z, regionSize)
	raw := mathx.Permille(mathx.Hash2(seed, rx, rz))
	// Spread the raw value over [min,1000].
	return minPermille + raw*(1000-minPermille)/999
}

// AquiferAt is AquiferPermille as a fraction in [0,1].
func AquiferAt(seed int64, x, z, regionSize, minPermille int) float64 {
	return float64(AquiferPermille(seed, x, z, regionSize, minPermille)) / 1000
}

func ClampPermille(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}
