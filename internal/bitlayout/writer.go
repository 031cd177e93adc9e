// Package bitlayout provides small fixed-layout little-endian encoders and
// decoders for the on-disk structures nanots maps directly into memory:
// the block header, index entries and frame headers.
package bitlayout

import "encoding/binary"

// Writer encodes fixed-size little-endian fields into a caller-owned byte
// slice, typically a window onto a memory-mapped block. Every layout this
// package encodes has a fixed, known size, so writing past the end of buf
// panics rather than growing it.
type Writer struct {
	pos   int
	data  []byte
	order binary.ByteOrder
}

// NewWriter wraps buf for little-endian fixed-size encoding starting at
// offset 0.
func NewWriter(buf []byte) *Writer {
	return &Writer{data: buf, order: binary.LittleEndian}
}

func (w *Writer) PutUint32(v uint32) {
	w.order.PutUint32(w.data[w.pos:], v)
	w.pos += 4
}

func (w *Writer) PutInt64(v int64) {
	w.order.PutUint64(w.data[w.pos:], uint64(v))
	w.pos += 8
}

func (w *Writer) PutUint64(v uint64) {
	w.order.PutUint64(w.data[w.pos:], v)
	w.pos += 8
}
