package mathx

// FloorDiv rounds towards negative infinity. b must be > 0.
func FloorDiv(a, b int) int {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

// splitmix64 finalizer
func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash2(seed int64, x, z int) uint64 {
	return mix64(uint64(seed) ^ lane(x, 0x9e3779b97f4a7c15) ^ lane(z, 0xbf58476d1ce4e5b9))
}

// Permille maps a hash onto 0..999.
func Permille(h uint64) int { return int(h % 1000) }

func lane(v int, k uint64) uint64 { return uint64(uint32(int32(v))) * k }
