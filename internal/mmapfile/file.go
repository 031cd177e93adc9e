// Package mmapfile implements the file-primitive layer of nanots: fixed
// preallocation of the data file and page-aligned memory-mapped windows
// onto it. It is the only path through which block bytes are read or
// written, per spec.
package mmapfile

import (
	"encoding/binary"
	"os"

	"github.com/kvtime/nanots/internal/block"
)

// File wraps an open data file for mapping.
type File struct {
	f        *os.File
	readOnly bool
}

// Open opens an existing data file for reading and writing. Used by the
// writer, which is the only role allowed to mutate block bytes.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// OpenReadOnly opens an existing data file for reading only. Used by
// NewReader: one read-only handle per Reader, which every Iterator
// created from that Reader shares. Every Mapping taken from a File
// opened this way is itself read-only.
func OpenReadOnly(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &File{f: f, readOnly: true}, nil
}

// Close closes the underlying file descriptor. Any live Mapping must be
// unmapped first.
func (f *File) Close() error {
	return f.f.Close()
}

// Fd returns the raw file descriptor, used by Mmap.
func (f *File) Fd() uintptr {
	return f.f.Fd()
}

// Allocate preallocates a new data file at path: a FileHeaderSize-byte
// header (block_size, n_blocks at bytes 0-7) followed by n_blocks
// zero-filled blocks of blockSize bytes each. blockSize is rounded up to
// a multiple of block.FileHeaderSize, matching the writer's own
// rounding of requested block sizes.
func Allocate(path string, blockSize uint32, nBlocks uint32) error {
	blockSize = block.RoundBlockSize(blockSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	totalSize := int64(block.FileHeaderSize) + int64(blockSize)*int64(nBlocks)
	if err := f.Truncate(totalSize); err != nil {
		return err
	}

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], blockSize)
	binary.LittleEndian.PutUint32(header[4:8], nBlocks)
	if _, err := f.WriteAt(header, 0); err != nil {
		return err
	}

	return f.Sync()
}

// ReadFileHeader reads block_size and n_blocks from an already-open
// data file.
func ReadFileHeader(f *File) (blockSize uint32, nBlocks uint32, err error) {
	buf := make([]byte, 8)
	if _, err := f.f.ReadAt(buf, 0); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint32(buf[0:4]), binary.LittleEndian.Uint32(buf[4:8]), nil
}

// BlockOffset returns the file offset of block index idx, given the
// file's block size.
func BlockOffset(blockSize uint32, idx uint32) int64 {
	return int64(block.FileHeaderSize) + int64(blockSize)*int64(idx)
}
