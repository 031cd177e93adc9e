package nanots

import (
	"fmt"
	"testing"
)

func writeSeekFixture(t *testing.T) string {
	t.Helper()
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
	for i := 0; i < 10; i++ {
		ts := int64(1000 + 500*i)
		data := fmt.Sprintf("frame_%d", i)
		if err := wc.Write([]byte(data), ts, uint8(i)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("wc.Close: %v", err)
	}
	return path
}

func TestIteratorFind(t *testing.T) {
	path := writeSeekFixture(t)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	it := r.Iterator("test_stream")
	defer it.Close()

	cases := []struct {
		seek      int64
		wantValid bool
		wantTs    int64
		wantFlags uint8
	}{
		{2000, true, 2000, 2},
		{2250, true, 2500, 3},
		{500, true, 1000, 0},
		{10000, false, 0, 0},
	}

	for _, c := range cases {
		ok, err := it.Find(c.seek)
		if err != nil {
			t.Fatalf("Find(%d): %v", c.seek, err)
		}
		if ok != c.wantValid {
			t.Errorf("Find(%d) valid = %v, want %v", c.seek, ok, c.wantValid)
			continue
		}
		if !c.wantValid {
			continue
		}
		got := it.Current()
		if got.Timestamp != c.wantTs {
			t.Errorf("Find(%d) timestamp = %d, want %d", c.seek, got.Timestamp, c.wantTs)
		}
		if got.Flags != c.wantFlags {
			t.Errorf("Find(%d) flags = %d, want %d", c.seek, got.Flags, c.wantFlags)
		}
	}
}

func TestIteratorFindLandsOnEveryWrittenTimestamp(t *testing.T) {
	path := writeSeekFixture(t)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	it := r.Iterator("test_stream")
	defer it.Close()

	for i := 0; i < 10; i++ {
		ts := int64(1000 + 500*i)
		ok, err := it.Find(ts)
		if err != nil {
			t.Fatalf("Find(%d): %v", ts, err)
		}
		if !ok || !it.Valid() {
			t.Fatalf("Find(%d) invalid, want entry %d", ts, i)
		}
		got := it.Current()
		if got.Timestamp != ts || got.Flags != uint8(i) {
			t.Errorf("Find(%d) = {ts=%d flags=%d}, want {ts=%d flags=%d}", ts, got.Timestamp, got.Flags, ts, i)
		}
	}
}

func TestIteratorForwardAndBackwardWalk(t *testing.T) {
	path := writeSeekFixture(t)

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

	var forward []int64
	for it.Valid() {
		forward = append(forward, it.Current().Timestamp)
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if len(forward) != 10 {
		t.Fatalf("forward walk visited %d frames, want 10: %v", len(forward), forward)
	}
	for i := 0; i < 10; i++ {
		want := int64(1000 + 500*i)
		if forward[i] != want {
			t.Errorf("forward[%d] = %d, want %d", i, forward[i], want)
		}
	}

	// Walking backward from the last valid frame should retrace the
	// exact same sequence in reverse.
	if _, err := it.Find(5500); err != nil {
		t.Fatalf("Find(5500): %v", err)
	}
	var backward []int64
	for it.Valid() {
		backward = append(backward, it.Current().Timestamp)
		if err := it.Prev(); err != nil {
			t.Fatalf("Prev: %v", err)
		}
	}
	if len(backward) != 10 {
		t.Fatalf("backward walk visited %d frames, want 10: %v", len(backward), backward)
	}
	for i := 0; i < 10; i++ {
		want := int64(1000 + 500*(9-i))
		if backward[i] != want {
			t.Errorf("backward[%d] = %d, want %d", i, backward[i], want)
		}
	}
}
