// Package digestcodec writes fixed-width little-endian fields into a hash
// so state digests do not depend on map order or float formatting.
package digestcodec

import (
	"encoding/binary"
	"hash"
	"math"
)

type Writer struct {
	h   hash.Hash
	tmp [8]byte
}

func NewWriter(h hash.Hash) *Writer { return &Writer{h: h} }

func (w *Writer) U64(v uint64) {
	binary.LittleEndian.PutUint64(w.tmp[:], v)
	w.h.Write(w.tmp[:])
}

func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

// F64 writes the IEEE bits, so -0 and 0 hash differently.
func (w *Writer) F64(v float64) { w.U64(math.Float64bits(v)) }

func (w *Writer) Bool(v bool) {
	w.h.Write([]byte{BoolByte(v)})
}

// String writes a length prefix before the bytes so adjacent strings
// cannot collide.
func (w *Writer) String(s string) {
	w.U64(uint64(len(s)))
	w.h.Write([]byte(s))
}

func (w *Writer) Sum() []byte { return w.h.Sum(nil) }

func BoolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
