package fluid

import "sort"

// Pos is a voxel grid coordinate. It is the only identity a device has
// inside a Network.
type Pos struct {
	X int
	Y int
	Z int
}

func (p Pos) ToArray() [3]int { return [3]int{p.X, p.Y, p.Z} }

// Offset returns the neighbouring cell along d.
func (p Pos) Offset(d Direction) Pos {
	v := d.Vec()
	return Pos{X: p.X + v.X, Y: p.Y + v.Y, Z: p.Z + v.Z}
}

// Compare orders positions by x, then y, then z.
func (p Pos) Compare(o Pos) int {
	switch {
	case p.X != o.X:
		return cmpInt(p.X, o.X)
	case p.Y != o.Y:
		return cmpInt(p.Y, o.Y)
	default:
		return cmpInt(p.Z, o.Z)
	}
}

func (p Pos) Less(o Pos) bool { return p.Compare(o) < 0 }

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func SortPositions(ps []Pos) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Less(ps[j]) })
}

type Direction uint8

const (
	Down Direction = iota
	Up
	North
	South
	West
	East
)

// Directions is the fixed iteration order used everywhere a deterministic
// walk over faces is needed.
var Directions = [6]Direction{Down, Up, North, South, West, East}

var dirVecs = [6]Pos{
	Down:  {X: 0, Y: -1, Z: 0},
	Up:    {X: 0, Y: 1, Z: 0},
	North: {X: 0, Y: 0, Z: -1},
	South: {X: 0, Y: 0, Z: 1},
	West:  {X: -1, Y: 0, Z: 0},
	East:  {X: 1, Y: 0, Z: 0},
}

var dirNames = [6]string{"DOWN", "UP", "NORTH", "SOUTH", "WEST", "EAST"}

func (d Direction) Valid() bool { return d <= East }

func (d Direction) Vec() Pos {
	if !d.Valid() {
		return Pos{}
	}
	return dirVecs[d]
}

func (d Direction) Opposite() Direction {
	// Pairs are laid out as (even, odd).
	return d ^ 1
}

func (d Direction) String() string {
	if !d.Valid() {
		return "INVALID"
	}
	return dirNames[d]
}

func ParseDirection(s string) (Direction, bool) {
	for i, n := range dirNames {
		if n == s {
			return Direction(i), true
		}
	}
	return 0, false
}

// DirectionTo returns the direction from a to b when they are face
// neighbours.
func DirectionTo(a, b Pos) (Direction, bool) {
	for _, d := range Directions {
		if a.Offset(d) == b {
			return d, true
		}
	}
	return 0, false
}

// directionsFrom yields first, then the remaining directions in the fixed
// order.
func directionsFrom(first Direction) []Direction {
	out := make([]Direction, 0, len(Directions))
	if first.Valid() {
		out = append(out, first)
	}
	for _, d := range Directions {
		if d == first {
			continue
		}
		out = append(out, d)
	}
	return out
}
