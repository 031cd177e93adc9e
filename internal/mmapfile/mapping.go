package mmapfile

import (
	"golang.org/x/sys/unix"
)

// Mapping is a scope-guarded memory-mapped window onto a data file.
// There are no destructors in Go, so every caller that obtains a
// Mapping is responsible for calling Close when it is done with it —
// the write-context and Read scope a Mapping's lifetime to a single
// block's worth of work, matching the reference implementation's
// nts_memory_map scoping; the iterator's block cache keeps every
// visited block mapped until Iterator.Close.
type Mapping struct {
	data []byte
}

// Map creates a shared mapping of length bytes starting at offset in f.
// It is read-write if f was opened with Open, read-only if f was opened
// with OpenReadOnly — a Reader or Iterator therefore never holds a
// writable view onto the file, matching the spec's read-only-handle
// guarantee. offset and length are expected to already be aligned to
// whatever the caller's block layout requires; mmap itself only
// requires page alignment, which block offsets (multiples of a
// 64KiB-rounded block size) always satisfy.
func Map(f *File, offset int64, length int) (*Mapping, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if f.readOnly {
		prot = unix.PROT_READ
	}
	data, err := unix.Mmap(int(f.Fd()), offset, length, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data}, nil
}

// Bytes returns the mapped window.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Flush synchronizes the mapped bytes in data[:n] to disk. When sync is
// true it blocks until the flush completes (MS_SYNC); otherwise it
// schedules the flush and returns immediately (MS_ASYNC). The recycle
// procedure always flushes synchronously, since a crash before that
// flush completes must not be able to expose stale index entries.
func (m *Mapping) Flush(n int, sync bool) error {
	flags := unix.MS_ASYNC
	if sync {
		flags = unix.MS_SYNC
	}
	return unix.Msync(m.data[:n], flags)
}

// Advise hints the kernel about the mapping's expected access pattern.
func (m *Mapping) Advise(advice int) error {
	return unix.Madvise(m.data, advice)
}

// Close unmaps the window. The Mapping must not be used afterward.
func (m *Mapping) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
