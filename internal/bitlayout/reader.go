package bitlayout

import "encoding/binary"

// Reader decodes fixed-size little-endian fields out of a caller-owned
// byte slice. It never copies the backing slice.
type Reader struct {
	data  []byte
	pos   int
	order binary.ByteOrder
}

func NewReader(buf []byte) *Reader {
	return &Reader{data: buf, order: binary.LittleEndian}
}

func (r *Reader) ReadUint32() uint32 {
	v := r.order.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *Reader) ReadInt64() int64 {
	v := r.order.Uint64(r.data[r.pos:])
	r.pos += 8
	return int64(v)
}

func (r *Reader) ReadUint64() uint64 {
	v := r.order.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}
