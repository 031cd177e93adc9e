// Package block encodes and decodes the fixed on-disk layouts nanots maps
// directly into memory: the per-block header and index array, and frame
// headers. It also defines the file header's size; the file header itself
// is encoded by package mmapfile. All integers are little-endian; all offsets
// are relative to the start of the structure they are documented against.
package block

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kvtime/nanots/internal/bitlayout"
)

const (
	// FileHeaderSize is the fixed size of the file's leading header
	// region. block_size is always rounded up to a multiple of this.
	FileHeaderSize = 65536

	// HeaderSize is the size of a block's own header: block_start_ts
	// (int64) + n_valid_indexes (uint32) + reserved (uint32).
	HeaderSize = 16

	// IndexEntrySize is the size of one index array entry: timestamp
	// (int64) + offset (uint64).
	IndexEntrySize = 16

	// FrameHeaderSize is the size of a frame header: uuid (16 bytes) +
	// size (uint32) + flags (uint8).
	FrameHeaderSize = 21

	frameUUIDOffset = 0
	frameSizeOffset = 16
	frameFlagsOffset = 20
)

// PadTo8 rounds n up to the next multiple of 8. Frame payloads are
// always placed on an 8-byte boundary within the block.
func PadTo8(n uint32) uint32 {
	return (n + 7) &^ 7
}

// RoundBlockSize rounds a requested block size up to a multiple of
// FileHeaderSize, matching the writer-side file header convention.
func RoundBlockSize(requested uint32) uint32 {
	if requested == 0 {
		return FileHeaderSize
	}
	return ((requested + FileHeaderSize - 1) / FileHeaderSize) * FileHeaderSize
}

// Header is the decoded form of a block's fixed header fields.
type Header struct {
	StartTimestamp int64
	NValidIndexes  uint32
	Reserved       uint32
}

// LoadNValidIndexes atomically loads n_valid_indexes with acquire
// semantics from the block header embedded at the start of buf.
func LoadNValidIndexes(buf []byte) uint32 {
	p := (*uint32)(ptr(buf[8:12]))
	return atomic.LoadUint32(p)
}

// StoreNValidIndexesRelease atomically stores n_valid_indexes with
// release semantics, publishing every frame/index write that happened
// before the call.
func StoreNValidIndexesRelease(buf []byte, v uint32) {
	p := (*uint32)(ptr(buf[8:12]))
	atomic.StoreUint32(p, v)
}

// IncrementNValidIndexesRelease atomically increments n_valid_indexes by
// one with release semantics, publishing the frame and index entry just
// written to any reader that subsequently loads it with acquire
// semantics.
func IncrementNValidIndexesRelease(buf []byte) {
	p := (*uint32)(ptr(buf[8:12]))
	atomic.AddUint32(p, 1)
}

// IndexEntry is one decoded entry of a block's index array.
type IndexEntry struct {
	Timestamp int64
	Offset    uint64
}

// IndexEntryAt returns the byte offset, within a block, of the index
// entry numbered i.
func IndexEntryAt(i int) int {
	return HeaderSize + i*IndexEntrySize
}

// ReadIndexEntry decodes the index entry numbered i out of a block
// buffer.
func ReadIndexEntry(buf []byte, i int) IndexEntry {
	off := IndexEntryAt(i)
	r := bitlayout.NewReader(buf[off : off+IndexEntrySize])
	return IndexEntry{
		Timestamp: r.ReadInt64(),
		Offset:    r.ReadUint64(),
	}
}

// LowerBoundIndex returns the index of the first entry (of nValid) whose
// timestamp is >= target, or nValid if every entry is smaller. Index
// entries within a block are timestamp-ordered by construction (frames
// are only ever appended with strictly increasing timestamps).
func LowerBoundIndex(buf []byte, nValid uint32, target int64) int {
	lo, hi := 0, int(nValid)
	for lo < hi {
		mid := (lo + hi) / 2
		if ReadIndexEntry(buf, mid).Timestamp < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// WriteIndexEntry encodes an index entry numbered i into a block
// buffer.
func WriteIndexEntry(buf []byte, i int, e IndexEntry) {
	off := IndexEntryAt(i)
	w := bitlayout.NewWriter(buf[off : off+IndexEntrySize])
	w.PutInt64(e.Timestamp)
	w.PutUint64(uint64(e.Offset))
}

// FrameHeader is the decoded form of a frame's 21-byte header.
type FrameHeader struct {
	UUID  uuid.UUID
	Size  uint32
	Flags uint8
}

// WriteFrameHeader encodes a frame header at the start of buf (which
// must be at least FrameHeaderSize long).
func WriteFrameHeader(buf []byte, h FrameHeader) {
	copy(buf[frameUUIDOffset:frameUUIDOffset+16], h.UUID[:])
	w := bitlayout.NewWriter(buf[frameSizeOffset:frameSizeOffset+4])
	w.PutUint32(h.Size)
	buf[frameFlagsOffset] = h.Flags
}

// ValidateFrameHeader checks that the frame at buf carries the expected
// incarnation UUID, returning its decoded size/flags on success. This is
// the sole defense against reading stale bytes left by a previous
// incarnation of a recycled block.
func ValidateFrameHeader(buf []byte, expected uuid.UUID) (size uint32, flags uint8, ok bool) {
	var got uuid.UUID
	copy(got[:], buf[frameUUIDOffset:frameUUIDOffset+16])
	if got != expected {
		return 0, 0, false
	}
	r := bitlayout.NewReader(buf[frameSizeOffset : frameSizeOffset+4])
	size = r.ReadUint32()
	flags = buf[frameFlagsOffset]
	return size, flags, true
}

// WriteBlockHeader encodes the fixed block header fields (used during
// recycle; n_valid_indexes is written separately with explicit memory
// ordering via StoreNValidIndexesRelease).
func WriteBlockHeader(buf []byte, startTimestamp int64) {
	w := bitlayout.NewWriter(buf[0:8])
	w.PutInt64(startTimestamp)
}

// ReadBlockHeader decodes the fixed block header fields. NValidIndexes
// is read with the same acquire semantics as LoadNValidIndexes.
func ReadBlockHeader(buf []byte) Header {
	ts := bitlayout.NewReader(buf[0:8]).ReadInt64()
	return Header{
		StartTimestamp: ts,
		NValidIndexes:  LoadNValidIndexes(buf),
		Reserved:       bitlayout.NewReader(buf[12:16]).ReadUint32(),
	}
}

// ZeroReserved clears the reserved header field.
func ZeroReserved(buf []byte) {
	buf[12], buf[13], buf[14], buf[15] = 0, 0, 0, 0
}

// ZeroIndexRange zeroes the first n index entries, used during recycle
// to erase any stale entries the previous incarnation left behind.
func ZeroIndexRange(buf []byte, n uint32) {
	start := HeaderSize
	end := start + int(n)*IndexEntrySize
	if end > start {
		clear(buf[start:end])
	}
}
