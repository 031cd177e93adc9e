package nanots

import (
	"errors"
	"os"

	"github.com/google/uuid"
	"github.com/kvtime/nanots/internal/block"
	"github.com/kvtime/nanots/internal/catalog"
	"github.com/kvtime/nanots/internal/mmapfile"
	"github.com/kvtime/nanots/internal/recovery"
	"github.com/kvtime/nanots/internal/streamtag"
)

// Allocate creates a new nanots data file and its side-car catalog.
// block_size is rounded up to a multiple of 65536; the file is
// preallocated to its full size up front and every block starts free.
// Any catalog left behind by a prior life of fileName is dropped first,
// so calling Allocate again against the same path never leaves stale
// blocks/segments/segment_blocks rows behind.
func Allocate(fileName string, blockSize uint32, nBlocks uint32) error {
	if err := mmapfile.Allocate(fileName, blockSize, nBlocks); err != nil {
		return wrapErr("Allocate", CodeUnableToAllocateFile, err)
	}

	dbName := databaseName(fileName)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(dbName + suffix); err != nil && !os.IsNotExist(err) {
			return wrapErr("Allocate", CodeUnableToAllocateFile, err)
		}
	}

	cat, err := catalog.Open(dbName, catalog.Config{
		BusyTimeout: DefaultConfig().BusyTimeout,
		OpenRetries: DefaultConfig().OpenRetries,
	}, true)
	if err != nil {
		return wrapErr("Allocate", CodeCantOpen, err)
	}
	defer cat.Close()

	if err := cat.SeedBlocks(nBlocks); err != nil {
		return wrapErr("Allocate", CodeSchema, err)
	}
	return nil
}

func databaseName(fileName string) string {
	const suffix = ".nts"
	for i := len(fileName) - len(suffix); i >= 0; i-- {
		if fileName[i:i+len(suffix)] == suffix {
			return fileName[:i] + ".db"
		}
	}
	return fileName + ".db"
}

// Writer holds the open handles shared by every write context created
// against one nanots file: the file header's block_size/n_blocks and
// the catalog connection.
type Writer struct {
	fileName    string
	file        *mmapfile.File
	cat         *catalog.Catalog
	blockSize   uint32
	nBlocks     uint32
	autoReclaim bool
	cfg         Config
}

// NewWriter opens an existing nanots file for writing. It runs the
// crash-recovery scan once, synchronously, before returning — any
// segment_block left unfinalized by a prior crash is repaired here.
// autoReclaim, when true, lets block acquisition fall back to reclaiming
// the oldest finalized block instead of raising NoFreeBlocks.
func NewWriter(fileName string, autoReclaim bool, cfg Config) (*Writer, error) {
	f, err := mmapfile.Open(fileName)
	if err != nil {
		return nil, wrapErr("NewWriter", CodeCantOpen, err)
	}

	blockSize, nBlocks, err := mmapfile.ReadFileHeader(f)
	if err != nil {
		f.Close()
		return nil, wrapErr("NewWriter", CodeCantOpen, err)
	}
	if blockSize < 4096 || blockSize > 1024*1024*1024 {
		f.Close()
		return nil, wrapErr("NewWriter", CodeInvalidBlockSize, nil)
	}

	cat, err := catalog.Open(databaseName(fileName), catalog.Config{
		BusyTimeout: cfg.BusyTimeout,
		OpenRetries: cfg.OpenRetries,
	}, false)
	if err != nil {
		f.Close()
		return nil, wrapErr("NewWriter", CodeCantOpen, err)
	}

	if err := recovery.Scan(f, cat, blockSize, cfg.logger(), cfg.Debug); err != nil {
		cat.Close()
		f.Close()
		return nil, wrapErr("NewWriter", CodeSchema, err)
	}

	return &Writer{
		fileName:    fileName,
		file:        f,
		cat:         cat,
		blockSize:   blockSize,
		nBlocks:     nBlocks,
		autoReclaim: autoReclaim,
		cfg:         cfg,
	}, nil
}

// Close releases the writer's catalog and file handles. Any
// WriteContext created from this writer must be closed first.
func (w *Writer) Close() error {
	if err := w.cat.Close(); err != nil {
		return err
	}
	return w.file.Close()
}

// FreeBlocks deletes every segment_block for streamTag whose range is
// fully contained in [startTs, endTs] and frees the blocks they no
// longer reference.
func (w *Writer) FreeBlocks(streamTag string, startTs, endTs int64) error {
	if err := w.cat.FreeRange(streamTag, startTs, endTs); err != nil {
		return wrapErr("FreeBlocks", CodeSchema, err)
	}
	return nil
}

// WriteContext is the writer-side handle for a single stream tag's
// incarnation: at most one may be open per stream tag and data file name
// at a time, process-wide.
type WriteContext struct {
	writer       *Writer
	streamTag    string
	metadata     string
	lastSet      bool
	lastTs       int64
	segment      catalog.Segment
	currentBlock *catalog.SegmentBlock
	blockUUID    uuid.UUID
	mapping      *mmapfile.Mapping
	closed       bool
}

// CreateWriteContext claims streamTag for writing and creates a new
// segment to hold the frames this context will append. Returns
// ErrDuplicateStreamTag if streamTag already has an open write context
// for the same data file name anywhere in the process. The check is
// keyed by file name: contexts for the same stream tag on different data
// files do not conflict.
func (w *Writer) CreateWriteContext(streamTag, metadata string) (*WriteContext, error) {
	if !streamtag.Global().Acquire(w.fileName, streamTag) {
		return nil, wrapErr("CreateWriteContext", CodeDuplicateStreamTag, nil)
	}

	seg, err := w.cat.CreateSegment(streamTag, metadata)
	if err != nil {
		streamtag.Global().Release(w.fileName, streamTag)
		return nil, wrapErr("CreateWriteContext", CodeUnableToCreateSegment, err)
	}

	return &WriteContext{
		writer:    w,
		streamTag: streamTag,
		metadata:  metadata,
		segment:   seg,
	}, nil
}

// Write appends one frame to wctx. timestamp must be strictly greater
// than the timestamp of every frame previously written through this
// context. size is bounded by the block size minus the space reserved
// for one frame header, one index entry and the block header.
func (wc *WriteContext) Write(data []byte, timestamp int64, flags uint8) error {
	if wc.closed {
		return wrapErr("Write", CodeInvalidArgument, errors.New("write context is closed"))
	}
	if wc.lastSet && timestamp <= wc.lastTs {
		return wrapErr("Write", CodeNonMonotonicTimestamp, nil)
	}

	maxSize := wc.writer.blockSize - (block.FrameHeaderSize + block.IndexEntrySize + block.HeaderSize)
	if uint32(len(data)) > maxSize {
		return wrapErr("Write", CodeRowSizeTooBig, nil)
	}

	if wc.currentBlock == nil {
		if err := wc.acquireBlock(timestamp); err != nil {
			return err
		}
	}

	buf := wc.mapping.Bytes()
	blockSize := wc.writer.blockSize

	nValid := block.LoadNValidIndexes(buf)
	indexEnd := uint64(block.IndexEntryAt(int(nValid) + 1))

	totalFrameSize := uint32(block.FrameHeaderSize) + uint32(len(data))
	paddedFrameSize := block.PadTo8(totalFrameSize)

	newBlockOfs := uint64(blockSize) - uint64(paddedFrameSize)
	if nValid > 0 {
		lastEntry := block.ReadIndexEntry(buf, int(nValid)-1)
		if lastEntry.Offset >= uint64(paddedFrameSize) {
			candidate := lastEntry.Offset - uint64(paddedFrameSize)
			if candidate >= indexEnd {
				newBlockOfs = candidate
			} else {
				newBlockOfs = indexEnd
			}
		} else {
			newBlockOfs = indexEnd
		}
	}

	if indexEnd >= newBlockOfs {
		if err := wc.rollover(); err != nil {
			return err
		}
		return wc.Write(data, timestamp, flags)
	}

	frame := buf[newBlockOfs:]
	block.WriteFrameHeader(frame, block.FrameHeader{UUID: wc.blockUUID, Size: uint32(len(data)), Flags: flags})
	copy(frame[block.FrameHeaderSize:], data)

	block.WriteIndexEntry(buf, int(nValid), block.IndexEntry{Timestamp: timestamp, Offset: newBlockOfs})
	block.IncrementNValidIndexesRelease(buf)

	wc.lastSet = true
	wc.lastTs = timestamp
	return nil
}

// acquireBlock claims a fresh block from the catalog and chains it onto
// the current segment in one transaction, so a create_segment_block
// failure rolls back the block reservation too instead of leaving it
// stuck in 'reserved' with no owning segment_block row. It then maps
// the block and recycles it (writes the new block_start_timestamp,
// atomically zeroes n_valid_indexes, clears reserved, zero-fills the
// stale index range and flushes synchronously) before any frame is
// written into it.
func (wc *WriteContext) acquireBlock(timestamp int64) error {
	frameUUID := uuid.New()

	blk, sb, err := wc.writer.cat.AcquireBlockForSegment(wc.writer.autoReclaim, wc.segment.ID, wc.segment.Sequence, timestamp, frameUUID.String())
	if err != nil {
		if errors.Is(err, catalog.ErrNoFreeBlock) {
			return wrapErr("Write", CodeNoFreeBlocks, nil)
		}
		return wrapErr("Write", CodeUnableToCreateSegmentBlock, err)
	}
	wc.segment.Sequence++
	wc.currentBlock = &sb
	wc.blockUUID = frameUUID

	offset := mmapfile.BlockOffset(wc.writer.blockSize, uint32(blk.Idx))
	m, err := mmapfile.Map(wc.writer.file, offset, int(wc.writer.blockSize))
	if err != nil {
		return wrapErr("Write", CodeCantOpen, err)
	}
	wc.mapping = m

	recycleBlock(m, timestamp)
	return nil
}

// recycleBlock prepares a newly claimed block for writing: write order
// matters here. The timestamp is written first, n_valid_indexes is
// atomically zeroed with release semantics, the reserved field is
// cleared, the previous incarnation's index entries are zero-filled, and
// only then is everything flushed synchronously — before any frame is
// written. This ordering is what makes a crash between recycle and the
// first frame write leave no stale index entries visible.
func recycleBlock(m *mmapfile.Mapping, timestamp int64) {
	buf := m.Bytes()
	oldNValid := block.LoadNValidIndexes(buf)

	block.WriteBlockHeader(buf, timestamp)
	block.StoreNValidIndexesRelease(buf, 0)
	block.ZeroReserved(buf)
	block.ZeroIndexRange(buf, oldNValid)

	m.Flush(block.IndexEntryAt(int(oldNValid)), true)
}

// rollover flushes and finalizes the current block, then drops the
// context's hold on it so the next Write call acquires a fresh one.
func (wc *WriteContext) rollover() error {
	if err := wc.mapping.Flush(int(wc.writer.blockSize), true); err != nil {
		return wrapErr("Write", CodeSchema, err)
	}
	if err := wc.writer.cat.FinalizeBlock(wc.currentBlock.ID, wc.lastTs); err != nil {
		return wrapErr("Write", CodeSchema, err)
	}
	if err := wc.mapping.Close(); err != nil {
		return wrapErr("Write", CodeSchema, err)
	}
	wc.mapping = nil
	wc.currentBlock = nil
	return nil
}

// Close finalizes the context's current block (if any), runs the
// reserved-block maintenance sweep, and releases the stream tag so a new
// write context may claim it. It is safe to call Close more than once.
func (wc *WriteContext) Close() error {
	if wc.closed {
		return nil
	}
	wc.closed = true
	streamtag.Global().Release(wc.writer.fileName, wc.streamTag)

	var firstErr error
	if wc.currentBlock != nil && wc.lastSet {
		if err := wc.writer.cat.FinalizeBlock(wc.currentBlock.ID, wc.lastTs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if wc.mapping != nil {
		if err := wc.mapping.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	sweepSeconds := int(wc.writer.cfg.ReservedSweepAge.Seconds())
	if err := wc.writer.cat.FinalizeReservedBlocksOlderThan(sweepSeconds); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		return wrapErr("Close", CodeSchema, firstErr)
	}
	return nil
}
