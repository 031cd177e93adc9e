package catalog

import (
	"database/sql"
	"errors"
)

// BlockInfo is the catalog-side identity of one block visited by an
// Iterator: enough to map it and validate its frames, plus the
// segment/sequence coordinate the iterator's cursor is built from.
type BlockInfo struct {
	SegmentID      int64
	BlockSequence  int64
	BlockIdx       int64
	StartTimestamp int64
	EndTimestamp   int64
	UUIDHex        string
	Metadata       string
}

func scanBlockInfo(row interface {
	Scan(dest ...any) error
}) (BlockInfo, error) {
	var b BlockInfo
	err := row.Scan(&b.Metadata, &b.SegmentID, &b.BlockSequence, &b.BlockIdx, &b.StartTimestamp, &b.EndTimestamp, &b.UUIDHex)
	return b, err
}

const blockInfoColumns = `
	s.metadata AS metadata,
	sb.segment_id AS segment_id,
	sb.sequence AS block_sequence,
	sb.block_idx AS block_idx,
	sb.start_timestamp AS start_timestamp,
	sb.end_timestamp AS end_timestamp,
	sb.uuid AS uuid`

// BlockBySegmentAndSequence looks up one block by its exact
// (segment_id, sequence) coordinate. The iterator caches this by
// "segmentID:sequence" so repeated cursor moves over the same block
// don't re-query.
func (c *Catalog) BlockBySegmentAndSequence(segmentID, sequence int64) (BlockInfo, bool, error) {
	row := c.db.QueryRow(`
		SELECT `+blockInfoColumns+`
		FROM segments s
		JOIN segment_blocks sb ON sb.segment_id = s.id
		WHERE sb.segment_id = ? AND sb.sequence = ?`,
		segmentID, sequence)
	b, err := scanBlockInfo(row)
	return maybeNotFound(b, err)
}

// FirstBlock returns the earliest block (lowest segment id, then lowest
// sequence) belonging to streamTag.
func (c *Catalog) FirstBlock(streamTag string) (BlockInfo, bool, error) {
	row := c.db.QueryRow(`
		SELECT `+blockInfoColumns+`
		FROM segments s
		JOIN segment_blocks sb ON sb.segment_id = s.id
		WHERE s.stream_tag = ?
		ORDER BY s.id ASC, sb.sequence ASC
		LIMIT 1`,
		streamTag)
	b, err := scanBlockInfo(row)
	return maybeNotFound(b, err)
}

// NextBlock returns the block immediately after (segmentID, sequence)
// in append order: the next sequence within segmentID if one exists,
// otherwise the first block of the next segment belonging to
// streamTag.
func (c *Catalog) NextBlock(streamTag string, segmentID, sequence int64) (BlockInfo, bool, error) {
	row := c.db.QueryRow(`
		SELECT `+blockInfoColumns+`
		FROM segments s
		JOIN segment_blocks sb ON sb.segment_id = s.id
		WHERE sb.segment_id = ? AND sb.sequence > ?
		ORDER BY sb.sequence ASC
		LIMIT 1`,
		segmentID, sequence)
	if b, ok, err := maybeNotFound(scanBlockInfo(row)); ok || err != nil {
		return b, ok, err
	}

	row = c.db.QueryRow(`
		SELECT `+blockInfoColumns+`
		FROM segments s
		JOIN segment_blocks sb ON sb.segment_id = s.id
		WHERE s.stream_tag = ? AND s.id > ?
		ORDER BY s.id ASC, sb.sequence ASC
		LIMIT 1`,
		streamTag, segmentID)
	return maybeNotFound(scanBlockInfo(row))
}

// PrevBlock is the symmetric counterpart of NextBlock: the previous
// sequence within segmentID if one exists, otherwise the last block of
// the previous segment belonging to streamTag.
func (c *Catalog) PrevBlock(streamTag string, segmentID, sequence int64) (BlockInfo, bool, error) {
	row := c.db.QueryRow(`
		SELECT `+blockInfoColumns+`
		FROM segments s
		JOIN segment_blocks sb ON sb.segment_id = s.id
		WHERE sb.segment_id = ? AND sb.sequence < ?
		ORDER BY sb.sequence DESC
		LIMIT 1`,
		segmentID, sequence)
	if b, ok, err := maybeNotFound(scanBlockInfo(row)); ok || err != nil {
		return b, ok, err
	}

	row = c.db.QueryRow(`
		SELECT `+blockInfoColumns+`
		FROM segments s
		JOIN segment_blocks sb ON sb.segment_id = s.id
		WHERE s.stream_tag = ? AND s.id < ?
		ORDER BY s.id DESC, sb.sequence DESC
		LIMIT 1`,
		streamTag, segmentID)
	return maybeNotFound(scanBlockInfo(row))
}

// BlockForTimestamp locates the block an Iterator should land on for
// timestamp: the block whose range contains it if one exists,
// otherwise the first block starting at or after it — so a Find call
// before the stream's first timestamp still lands on the first block.
func (c *Catalog) BlockForTimestamp(streamTag string, timestamp int64) (BlockInfo, bool, error) {
	row := c.db.QueryRow(`
		SELECT `+blockInfoColumns+`
		FROM segments s
		JOIN segment_blocks sb ON sb.segment_id = s.id
		WHERE s.stream_tag = ?
		  AND sb.start_timestamp <= ?
		  AND (sb.end_timestamp >= ? OR sb.end_timestamp = 0)
		ORDER BY s.id ASC, sb.sequence ASC
		LIMIT 1`,
		streamTag, timestamp, timestamp)
	if b, ok, err := maybeNotFound(scanBlockInfo(row)); ok || err != nil {
		return b, ok, err
	}

	row = c.db.QueryRow(`
		SELECT `+blockInfoColumns+`
		FROM segments s
		JOIN segment_blocks sb ON sb.segment_id = s.id
		WHERE s.stream_tag = ? AND sb.start_timestamp >= ?
		ORDER BY s.id ASC, sb.sequence ASC
		LIMIT 1`,
		streamTag, timestamp)
	return maybeNotFound(scanBlockInfo(row))
}

func maybeNotFound(b BlockInfo, err error) (BlockInfo, bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return BlockInfo{}, false, nil
	}
	if err != nil {
		return BlockInfo{}, false, err
	}
	return b, true, nil
}
