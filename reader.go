package nanots

import (
	"github.com/google/uuid"
	"github.com/kvtime/nanots/internal/block"
	"github.com/kvtime/nanots/internal/catalog"
	"github.com/kvtime/nanots/internal/mmapfile"
)

// Frame is one frame delivered to a Reader's callback.
type Frame struct {
	Data          []byte
	Flags         uint8
	Timestamp     int64
	BlockSequence int64
	Metadata      string
}

// ContiguousSegment is a maximal run of blocks of one segment in a stream
// tag's history with consecutive sequence numbers.
type ContiguousSegment struct {
	SegmentID int64
	StartTs   int64
	EndTs     int64
}

// Reader gives callback-based range access to a nanots file's frames.
type Reader struct {
	file      *mmapfile.File
	cat       *catalog.Catalog
	blockSize uint32
}

// NewReader opens fileName for reading. Multiple Readers, and Readers
// alongside a Writer, may be open on the same file concurrently — reads
// never take the process-wide stream-tag lock.
func NewReader(fileName string) (*Reader, error) {
	f, err := mmapfile.OpenReadOnly(fileName)
	if err != nil {
		return nil, wrapErr("NewReader", CodeCantOpen, err)
	}
	blockSize, _, err := mmapfile.ReadFileHeader(f)
	if err != nil {
		f.Close()
		return nil, wrapErr("NewReader", CodeCantOpen, err)
	}

	cat, err := catalog.Open(databaseName(fileName), catalog.Config{
		BusyTimeout: DefaultConfig().BusyTimeout,
		OpenRetries: DefaultConfig().OpenRetries,
	}, false)
	if err != nil {
		f.Close()
		return nil, wrapErr("NewReader", CodeCantOpen, err)
	}

	return &Reader{file: f, cat: cat, blockSize: blockSize}, nil
}

// Close releases the reader's catalog and file handles.
func (r *Reader) Close() error {
	if err := r.cat.Close(); err != nil {
		return err
	}
	return r.file.Close()
}

// Read invokes callback for the frames of streamTag with timestamp in
// [startTs, endTs]. Overlapping blocks are visited in segment_block
// sequence order: the first is entered with a binary search on its
// index, every later one is scanned from its first entry, and the whole
// scan stops at the first entry later than endTs. Within one segment
// this is ascending timestamp order. Sequence numbers restart at zero in
// every segment, so when the range spans several segments the frames are
// not delivered in timestamp order and blocks after the first are not
// filtered by startTs.
func (r *Reader) Read(streamTag string, startTs, endTs int64, callback func(Frame)) error {
	rows, err := r.cat.OverlappingSegmentBlocks(streamTag, startTs, endTs)
	if err != nil {
		return wrapErr("Read", CodeSchema, err)
	}

	needBinarySearch := true

	for _, row := range rows {
		expected, err := uuid.Parse(row.UUIDHex)
		if err != nil {
			continue
		}

		offset := mmapfile.BlockOffset(r.blockSize, uint32(row.BlockIdx))
		m, err := mmapfile.Map(r.file, offset, int(r.blockSize))
		if err != nil {
			return wrapErr("Read", CodeCantOpen, err)
		}

		buf := m.Bytes()
		nValid := block.LoadNValidIndexes(buf)

		startIndex := 0
		if needBinarySearch {
			startIndex = block.LowerBoundIndex(buf, nValid, startTs)
			needBinarySearch = false
		}

		for i := startIndex; i < int(nValid); i++ {
			entry := block.ReadIndexEntry(buf, i)
			if entry.Timestamp > endTs {
				m.Close()
				return nil
			}

			size, flags, ok := block.ValidateFrameHeader(buf[entry.Offset:], expected)
			if !ok {
				continue
			}

			frameData := buf[entry.Offset+block.FrameHeaderSize : entry.Offset+block.FrameHeaderSize+uint64(size)]
			callback(Frame{
				Data:          frameData,
				Flags:         flags,
				Timestamp:     entry.Timestamp,
				BlockSequence: row.BlockSequence,
				Metadata:      row.Metadata,
			})
		}

		if err := m.Close(); err != nil {
			return wrapErr("Read", CodeSchema, err)
		}
	}

	return nil
}

// QueryStreamTags returns every stream tag with a segment_block
// overlapping [startTs, endTs].
func (r *Reader) QueryStreamTags(startTs, endTs int64) ([]string, error) {
	tags, err := r.cat.QueryStreamTags(startTs, endTs)
	if err != nil {
		return nil, wrapErr("QueryStreamTags", CodeSchema, err)
	}
	return tags, nil
}

// QueryContiguousSegments returns the maximal gap-free runs of blocks
// for streamTag overlapping [startTs, endTs].
func (r *Reader) QueryContiguousSegments(streamTag string, startTs, endTs int64) ([]ContiguousSegment, error) {
	rows, err := r.cat.QueryContiguousSegments(streamTag, startTs, endTs)
	if err != nil {
		return nil, wrapErr("QueryContiguousSegments", CodeSchema, err)
	}
	out := make([]ContiguousSegment, len(rows))
	for i, row := range rows {
		out[i] = ContiguousSegment{SegmentID: row.SegmentID, StartTs: row.StartTs, EndTs: row.EndTs}
	}
	return out, nil
}
