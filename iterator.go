package nanots

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kvtime/nanots/internal/block"
	"github.com/kvtime/nanots/internal/catalog"
	"github.com/kvtime/nanots/internal/mmapfile"
)

// Iterator walks a stream tag's frames one at a time, forward or
// backward, with random-access seeking by timestamp. Unlike Read, it
// never returns until told to stop: callers drive it with Next/Prev and
// read whatever Current holds after each move.
//
// Blocks it has visited stay mapped and cached for the iterator's
// lifetime, keyed by "segmentID:sequence" — the same coordinate the
// reference implementation caches on — so reading frames of a cached
// block needs no catalog query. Crossing a block boundary still queries
// the catalog for the neighbouring block.
type Iterator struct {
	file      *mmapfile.File
	cat       *catalog.Catalog
	blockSize uint32
	streamTag string

	mu        sync.Mutex
	cache     map[string]*cachedBlock
	loadGroup singleflight.Group

	currentSegmentID     int64
	currentBlockSequence int64
	currentFrameIdx      int
	valid                bool
	currentFrame         Frame
}

type cachedBlock struct {
	info   catalog.BlockInfo
	uuid   uuid.UUID
	mapping *mmapfile.Mapping
	buf    []byte
	nValid uint32
}

// Iterator returns a fresh, unpositioned Iterator over streamTag. Call
// Reset or Find before reading Current.
func (r *Reader) Iterator(streamTag string) *Iterator {
	return &Iterator{
		file:      r.file,
		cat:       r.cat,
		blockSize: r.blockSize,
		streamTag: streamTag,
		cache:     make(map[string]*cachedBlock),
	}
}

// Close releases every block mapping the iterator opened while walking
// the stream. The Reader it was created from remains usable.
func (it *Iterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()

	var firstErr error
	for _, cb := range it.cache {
		if err := cb.mapping.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	it.cache = nil
	return firstErr
}

// Valid reports whether Current holds a frame. It is false before the
// first Reset/Find call, and after walking off either end of the
// stream.
func (it *Iterator) Valid() bool {
	return it.valid
}

// Current returns the frame the iterator is positioned on. Its result
// is meaningless when Valid is false.
func (it *Iterator) Current() Frame {
	return it.currentFrame
}

func cacheKey(segmentID, sequence int64) string {
	return fmt.Sprintf("%d:%d", segmentID, sequence)
}

// getBlock returns the cached block at (segmentID, sequence), loading
// and mapping it on first access. Concurrent callers asking for the
// same coordinate collapse onto a single load via loadGroup.
func (it *Iterator) getBlock(segmentID, sequence int64) (*cachedBlock, bool, error) {
	key := cacheKey(segmentID, sequence)

	it.mu.Lock()
	if cb, ok := it.cache[key]; ok {
		it.mu.Unlock()
		return cb, true, nil
	}
	it.mu.Unlock()

	v, err, _ := it.loadGroup.Do(key, func() (any, error) {
		it.mu.Lock()
		if cb, ok := it.cache[key]; ok {
			it.mu.Unlock()
			return cb, nil
		}
		it.mu.Unlock()

		info, found, err := it.cat.BlockBySegmentAndSequence(segmentID, sequence)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		return it.loadAndCache(info)
	})
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v.(*cachedBlock), true, nil
}

// loadAndCache maps info's block and stores it in the cache keyed by
// its own segment/sequence coordinate, so a result fetched via
// FirstBlock/NextBlock/PrevBlock/BlockForTimestamp doesn't need a
// second round trip through getBlock.
func (it *Iterator) loadAndCache(info catalog.BlockInfo) (*cachedBlock, error) {
	frameUUID, err := uuid.Parse(info.UUIDHex)
	if err != nil {
		return nil, err
	}

	offset := mmapfile.BlockOffset(it.blockSize, uint32(info.BlockIdx))
	m, err := mmapfile.Map(it.file, offset, int(it.blockSize))
	if err != nil {
		return nil, err
	}

	buf := m.Bytes()
	cb := &cachedBlock{
		info:    info,
		uuid:    frameUUID,
		mapping: m,
		buf:     buf,
		nValid:  block.LoadNValidIndexes(buf),
	}

	key := cacheKey(info.SegmentID, info.BlockSequence)
	it.mu.Lock()
	if existing, ok := it.cache[key]; ok {
		it.mu.Unlock()
		m.Close()
		return existing, nil
	}
	it.cache[key] = cb
	it.mu.Unlock()
	return cb, nil
}

// loadCurrentFrame decodes the frame at the iterator's current
// position from its cached block, setting Valid/Current. A validation
// failure or an index past the block's valid range invalidates the
// iterator rather than returning an error. Unlike Read, which skips a
// frame that fails validation and goes on, the iterator stops there.
func (it *Iterator) loadCurrentFrame() error {
	cb, ok, err := it.getBlock(it.currentSegmentID, it.currentBlockSequence)
	if err != nil {
		it.valid = false
		return err
	}
	if !ok || it.currentFrameIdx >= int(cb.nValid) {
		it.valid = false
		return nil
	}

	entry := block.ReadIndexEntry(cb.buf, it.currentFrameIdx)
	size, flags, ok := block.ValidateFrameHeader(cb.buf[entry.Offset:], cb.uuid)
	if !ok {
		it.valid = false
		return nil
	}

	it.currentFrame = Frame{
		Data:          cb.buf[entry.Offset+block.FrameHeaderSize : entry.Offset+block.FrameHeaderSize+uint64(size)],
		Flags:         flags,
		Timestamp:     entry.Timestamp,
		BlockSequence: cb.info.BlockSequence,
		Metadata:      cb.info.Metadata,
	}
	it.valid = true
	return nil
}

// Reset moves the iterator to the very first frame of the stream tag.
func (it *Iterator) Reset() error {
	info, ok, err := it.cat.FirstBlock(it.streamTag)
	if err != nil {
		it.valid = false
		return err
	}
	if !ok {
		it.valid = false
		return nil
	}
	if _, err := it.loadAndCache(info); err != nil {
		it.valid = false
		return err
	}

	it.currentSegmentID = info.SegmentID
	it.currentBlockSequence = info.BlockSequence
	it.currentFrameIdx = 0
	return it.loadCurrentFrame()
}

// Find seeks the iterator to the first frame with timestamp >= ts. If
// ts falls before the stream's first frame, Find lands on that first
// frame; if it falls after the last, the iterator becomes invalid.
func (it *Iterator) Find(ts int64) (bool, error) {
	info, ok, err := it.cat.BlockForTimestamp(it.streamTag, ts)
	if err != nil {
		it.valid = false
		return false, err
	}
	if !ok {
		it.valid = false
		return false, nil
	}

	cb, err := it.loadAndCache(info)
	if err != nil {
		it.valid = false
		return false, err
	}

	it.currentSegmentID = info.SegmentID
	it.currentBlockSequence = info.BlockSequence
	it.currentFrameIdx = block.LowerBoundIndex(cb.buf, cb.nValid, ts)

	if it.currentFrameIdx >= int(cb.nValid) {
		next, ok, err := it.cat.NextBlock(it.streamTag, info.SegmentID, info.BlockSequence)
		if err != nil {
			it.valid = false
			return false, err
		}
		if !ok {
			it.valid = false
			return false, nil
		}
		if _, err := it.loadAndCache(next); err != nil {
			it.valid = false
			return false, err
		}
		it.currentSegmentID = next.SegmentID
		it.currentBlockSequence = next.BlockSequence
		it.currentFrameIdx = 0
	}

	if err := it.loadCurrentFrame(); err != nil {
		return false, err
	}
	return it.valid, nil
}

// Next advances the iterator by one frame, crossing into the next
// block when the current one is exhausted. It is a no-op once the
// iterator is invalid.
func (it *Iterator) Next() error {
	if !it.valid {
		return nil
	}

	cb, ok, err := it.getBlock(it.currentSegmentID, it.currentBlockSequence)
	if err != nil || !ok {
		it.valid = false
		return err
	}

	it.currentFrameIdx++
	if it.currentFrameIdx >= int(cb.nValid) {
		next, ok, err := it.cat.NextBlock(it.streamTag, it.currentSegmentID, it.currentBlockSequence)
		if err != nil {
			it.valid = false
			return err
		}
		if !ok {
			it.valid = false
			return nil
		}
		if _, err := it.loadAndCache(next); err != nil {
			it.valid = false
			return err
		}
		it.currentSegmentID = next.SegmentID
		it.currentBlockSequence = next.BlockSequence
		it.currentFrameIdx = 0
	}

	return it.loadCurrentFrame()
}

// Prev moves the iterator back by one frame, crossing into the
// previous block's last frame when positioned on the current block's
// first. It is a no-op once the iterator is invalid.
func (it *Iterator) Prev() error {
	if !it.valid {
		return nil
	}

	if it.currentFrameIdx == 0 {
		prev, ok, err := it.cat.PrevBlock(it.streamTag, it.currentSegmentID, it.currentBlockSequence)
		if err != nil {
			it.valid = false
			return err
		}
		if !ok {
			it.valid = false
			return nil
		}
		cb, err := it.loadAndCache(prev)
		if err != nil {
			it.valid = false
			return err
		}

		it.currentSegmentID = prev.SegmentID
		it.currentBlockSequence = prev.BlockSequence
		if cb.nValid > 0 {
			it.currentFrameIdx = int(cb.nValid) - 1
		} else {
			it.currentFrameIdx = 0
		}
	} else {
		it.currentFrameIdx--
	}

	return it.loadCurrentFrame()
}

// CurrentMetadata returns the segment metadata for the iterator's
// current position, or "" if nothing has been loaded yet.
func (it *Iterator) CurrentMetadata() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	if cb, ok := it.cache[cacheKey(it.currentSegmentID, it.currentBlockSequence)]; ok {
		return cb.info.Metadata
	}
	return ""
}
