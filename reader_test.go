package nanots

import (
	"fmt"
	"sort"
	"testing"
)

func TestMultiStreamNoCrossContamination(t *testing.T) {
	path := allocateTestFile(t, 1<<20, 8)

	w, err := NewWriter(path, false, DefaultConfig())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	tags := []string{"video", "audio", "metadata"}
	contexts := make(map[string]*WriteContext)
	for _, tag := range tags {
		wc, err := w.CreateWriteContext(tag, "")
		if err != nil {
			t.Fatalf("CreateWriteContext(%s): %v", tag, err)
		}
		contexts[tag] = wc
	}

	// Interleave writes across the three streams.
	for i := 0; i < 5; i++ {
		for ti, tag := range tags {
			ts := int64(i*10 + ti)
			data := fmt.Sprintf("%s-%d", tag, i)
			if err := contexts[tag].Write([]byte(data), ts, uint8(ti)); err != nil {
				t.Fatalf("Write(%s, %d): %v", tag, i, err)
			}
		}
	}

	for _, tag := range tags {
		if err := contexts[tag].Close(); err != nil {
			t.Fatalf("Close(%s): %v", tag, err)
		}
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	allTags, err := r.QueryStreamTags(0, 1000)
	if err != nil {
		t.Fatalf("QueryStreamTags: %v", err)
	}
	sort.Strings(allTags)
	wantTags := append([]string{}, tags...)
	sort.Strings(wantTags)
	if fmt.Sprint(allTags) != fmt.Sprint(wantTags) {
		t.Errorf("QueryStreamTags = %v, want %v", allTags, wantTags)
	}

	for ti, tag := range tags {
		var got []string
		if err := r.Read(tag, 0, 1000, func(f Frame) {
			got = append(got, string(f.Data))
			if int(f.Flags) != ti {
				t.Errorf("%s frame has flags %d, want %d", tag, f.Flags, ti)
			}
		}); err != nil {
			t.Fatalf("Read(%s): %v", tag, err)
		}
		if len(got) != 5 {
			t.Fatalf("%s: got %d frames, want 5: %v", tag, len(got), got)
		}
		for i, data := range got {
			want := fmt.Sprintf("%s-%d", tag, i)
			if data != want {
				t.Errorf("%s frame %d = %q, want %q", tag, i, data, want)
			}
		}
	}
}

func TestReadRangeBounds(t *testing.T) {
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
	for i := 1; i <= 10; i++ {
		if err := wc.Write([]byte(fmt.Sprintf("f%d", i)), int64(i*100), 0); err != nil {
			t.Fatalf("Write %d: %v", i, err)
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

	var got []int64
	if err := r.Read("test_stream", 300, 700, func(f Frame) {
		got = append(got, f.Timestamp)
	}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []int64{300, 400, 500, 600, 700}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %d, want %d", i, got[i], want[i])
		}
	}
}
