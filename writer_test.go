package nanots

import (
	"errors"
	"path/filepath"
	"testing"
)

func allocateTestFile(t *testing.T, blockSize, nBlocks uint32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.nts")
	if err := Allocate(path, blockSize, nBlocks); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return path
}

func TestWriterBasicSequence(t *testing.T) {
	path := allocateTestFile(t, 1<<20, 4)

	w, err := NewWriter(path, false, DefaultConfig())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	wc, err := w.CreateWriteContext("test_stream", "")
	if err != nil {
		t.Fatalf("CreateWriteContext: %v", err)
	}

	frames := []struct {
		data  string
		ts    int64
		flags uint8
	}{
		{"Hello, World!", 1000, 0x01},
		{"This is frame 2 with more data", 2000, 0x02},
		{"Frame 3", 3000, 0x03},
	}
	for _, f := range frames {
		if err := wc.Write([]byte(f.data), f.ts, f.flags); err != nil {
			t.Fatalf("Write(%q): %v", f.data, err)
		}
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("wc.Close: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	it := r.Iterator("test_stream")
	defer it.Close()
	if err := it.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	for i, want := range frames {
		if !it.Valid() {
			t.Fatalf("iterator invalid at frame %d, expected %q", i, want.data)
		}
		got := it.Current()
		if string(got.Data) != want.data {
			t.Errorf("frame %d data = %q, want %q", i, got.Data, want.data)
		}
		if got.Timestamp != want.ts {
			t.Errorf("frame %d timestamp = %d, want %d", i, got.Timestamp, want.ts)
		}
		if got.Flags != want.flags {
			t.Errorf("frame %d flags = %#x, want %#x", i, got.Flags, want.flags)
		}
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if it.Valid() {
		t.Errorf("iterator should be invalid after the last frame")
	}
}

func TestWriteNonMonotonicTimestampRejected(t *testing.T) {
	path := allocateTestFile(t, 1<<20, 4)

	w, err := NewWriter(path, false, DefaultConfig())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	wc, err := w.CreateWriteContext("test_stream", "")
	if err != nil {
		t.Fatalf("CreateWriteContext: %v", err)
	}

	if err := wc.Write([]byte("a"), 1000, 0); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := wc.Write([]byte("b"), 2000, 0); err != nil {
		t.Fatalf("Write b: %v", err)
	}
	if err := wc.Write([]byte("dup"), 2000, 0); !errors.Is(err, ErrNonMonotonicTimestamp) {
		t.Errorf("Write at same timestamp: got %v, want ErrNonMonotonicTimestamp", err)
	}
	if err := wc.Write([]byte("back"), 1500, 0); !errors.Is(err, ErrNonMonotonicTimestamp) {
		t.Errorf("Write at earlier timestamp: got %v, want ErrNonMonotonicTimestamp", err)
	}
	if err := wc.Write([]byte("c"), 3000, 0); err != nil {
		t.Fatalf("Write c: %v", err)
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("wc.Close: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var got []string
	if err := r.Read("test_stream", 0, 10000, func(f Frame) {
		got = append(got, string(f.Data))
	}); err != nil {
		t.Fatalf("Read: %v", err)
	}

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %d surviving frames, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDuplicateWriteContextRejected(t *testing.T) {
	path := allocateTestFile(t, 1<<20, 4)

	w, err := NewWriter(path, false, DefaultConfig())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	wc, err := w.CreateWriteContext("video", "")
	if err != nil {
		t.Fatalf("CreateWriteContext: %v", err)
	}
	defer wc.Close()

	if _, err := w.CreateWriteContext("video", ""); !errors.Is(err, ErrDuplicateStreamTag) {
		t.Errorf("second CreateWriteContext(video) = %v, want ErrDuplicateStreamTag", err)
	}

	if err := wc.Close(); err != nil {
		t.Fatalf("wc.Close: %v", err)
	}

	wc2, err := w.CreateWriteContext("video", "")
	if err != nil {
		t.Errorf("CreateWriteContext(video) after Close: %v", err)
	} else {
		wc2.Close()
	}
}

func TestRowSizeTooBigRejected(t *testing.T) {
	path := allocateTestFile(t, 64*1024, 2)

	w, err := NewWriter(path, false, DefaultConfig())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	wc, err := w.CreateWriteContext("test_stream", "")
	if err != nil {
		t.Fatalf("CreateWriteContext: %v", err)
	}
	defer wc.Close()

	huge := make([]byte, 64*1024)
	if err := wc.Write(huge, 1000, 0); !errors.Is(err, ErrRowSizeTooBig) {
		t.Errorf("Write(huge) = %v, want ErrRowSizeTooBig", err)
	}
}
