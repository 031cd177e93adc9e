package nanots

import (
	"fmt"
	"testing"

	"github.com/kvtime/nanots/internal/block"
)

// TestCrashRecoveryTruncatesPartialFrame simulates a process dying
// after the index for a frame was published but before its payload's
// UUID tag made it to disk intact: the recovery scan run at the next
// writer open must truncate the block back to the last frame that
// actually validates and leave the rest unreadable.
func TestCrashRecoveryTruncatesPartialFrame(t *testing.T) {
	path := allocateTestFile(t, 1<<20, 4)

	w1, err := NewWriter(path, false, DefaultConfig())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	wc1, err := w1.CreateWriteContext("test_stream", "")
	if err != nil {
		t.Fatalf("CreateWriteContext: %v", err)
	}

	for i := 1; i <= 10; i++ {
		if err := wc1.Write([]byte(fmt.Sprintf("f%d", i)), int64(i), uint8(i)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	// Corrupt the 10th frame's incarnation UUID in place, as a torn
	// write leaving the index entry published but the frame header
	// invalid would. wc1 is never Close()'d: the block's
	// segment_block row is still unfinalized, exactly as a crash
	// would leave it.
	buf := wc1.mapping.Bytes()
	entry := block.ReadIndexEntry(buf, 9)
	buf[entry.Offset] ^= 0xFF
	if err := wc1.mapping.Flush(int(w1.blockSize), true); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	w2, err := NewWriter(path, false, DefaultConfig())
	if err != nil {
		t.Fatalf("NewWriter (post-crash): %v", err)
	}
	defer w2.Close()
	defer w1.file.Close()
	defer w1.cat.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var seen []int64
	if err := r.Read("test_stream", 0, 100, func(f Frame) {
		seen = append(seen, f.Timestamp)
	}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(seen) != 9 {
		t.Fatalf("got %d surviving frames, want 9: %v", len(seen), seen)
	}
	for i, ts := range seen {
		if ts != int64(i+1) {
			t.Errorf("surviving frame %d timestamp = %d, want %d", i, ts, i+1)
		}
	}
}

// TestCrashRecoveryAllFramesCorrupt exercises the branch where no
// trailing frame validates at all: the segment_block stays
// unfinalized and the reader sees nothing for that block.
func TestCrashRecoveryAllFramesCorrupt(t *testing.T) {
	path := allocateTestFile(t, 1<<20, 4)

	w1, err := NewWriter(path, false, DefaultConfig())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	wc1, err := w1.CreateWriteContext("test_stream", "")
	if err != nil {
		t.Fatalf("CreateWriteContext: %v", err)
	}

	if err := wc1.Write([]byte("only"), 1, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := wc1.mapping.Bytes()
	entry := block.ReadIndexEntry(buf, 0)
	buf[entry.Offset] ^= 0xFF
	if err := wc1.mapping.Flush(int(w1.blockSize), true); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	w2, err := NewWriter(path, false, DefaultConfig())
	if err != nil {
		t.Fatalf("NewWriter (post-crash): %v", err)
	}
	defer w2.Close()
	defer w1.file.Close()
	defer w1.cat.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var seen int
	if err := r.Read("test_stream", 0, 100, func(Frame) { seen++ }); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if seen != 0 {
		t.Errorf("got %d frames, want 0 (block has no recoverable frames)", seen)
	}
}
