package mathx

import "testing"

func TestFloorDiv(t *testing.T) {
	cases := []struct{ a, b, q int }{
		{7, 16, 0},
		{16, 16, 1},
		{-1, 16, -1},
		{-16, 16, -1},
		{-17, 16, -2},
	}
	for _, c := range cases {
		if q := FloorDiv(c.a, c.b); q != c.q {
			t.Fatalf("FloorDiv(%d,%d)=%d, want %d", c.a, c.b, q, c.q)
		}
	}
}

func TestHashIsDeterministicAndSeeded(t *testing.T) {
	if Hash2(1, 3, -4) != Hash2(1, 3, -4) {
		t.Fatalf("Hash2 not deterministic")
	}
	if Hash2(1, 3, -4) == Hash2(2, 3, -4) {
		t.Fatalf("Hash2 ignores seed")
	}
	if Hash2(9, 1, 3) == Hash2(9, 3, 1) {
		t.Fatalf("Hash2 symmetric in x/z")
	}
	for i := 0; i < 100; i++ {
		if p := Permille(Hash2(int64(i), i, -i)); p < 0 || p > 999 {
			t.Fatalf("Permille=%d", p)
		}
	}
}
