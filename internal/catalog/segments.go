package catalog

import "database/sql"

// CreateSegment inserts a new segment row for streamTag and returns it
// with its assigned ID.
func (c *Catalog) CreateSegment(streamTag, metadata string) (seg Segment, err error) {
	err = c.withTx(func(tx *sql.Tx) error {
		res, execErr := tx.Exec(`INSERT INTO segments (stream_tag, metadata) VALUES (?, ?)`, streamTag, metadata)
		if execErr != nil {
			return execErr
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return idErr
		}
		seg = Segment{ID: id, StreamTag: streamTag, Metadata: metadata}
		return nil
	})
	return seg, err
}

// CreateSegmentBlock inserts a new segment_block row chaining blockID
// (at blockIdx) onto segmentID at the given sequence number, with an
// initial end_timestamp of 0 (not yet finalized).
func (c *Catalog) CreateSegmentBlock(segmentID, sequence, blockID, blockIdx, startTimestamp int64, uuidHex string) (sb SegmentBlock, err error) {
	err = c.withTx(func(tx *sql.Tx) error {
		sb, err = createSegmentBlockTx(tx, segmentID, sequence, blockID, blockIdx, startTimestamp, uuidHex)
		return err
	})
	return sb, err
}

// createSegmentBlockTx is CreateSegmentBlock's body, reusable inside a
// caller-supplied transaction.
func createSegmentBlockTx(tx *sql.Tx, segmentID, sequence, blockID, blockIdx, startTimestamp int64, uuidHex string) (SegmentBlock, error) {
	res, execErr := tx.Exec(`
		INSERT INTO segment_blocks
		(segment_id, sequence, block_id, block_idx, start_timestamp, end_timestamp, uuid)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		segmentID, sequence, blockID, blockIdx, startTimestamp, uuidHex)
	if execErr != nil {
		return SegmentBlock{}, execErr
	}
	id, idErr := res.LastInsertId()
	if idErr != nil {
		return SegmentBlock{}, idErr
	}
	return SegmentBlock{
		ID: id, SegmentID: segmentID, Sequence: sequence, BlockID: blockID,
		BlockIdx: blockIdx, StartTimestamp: startTimestamp, UUIDHex: uuidHex,
	}, nil
}

// FinalizeBlock stamps end_timestamp on a segment_block row, marking
// the last frame actually written to that block.
func (c *Catalog) FinalizeBlock(segmentBlockID, timestamp int64) error {
	return c.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE segment_blocks SET end_timestamp = ? WHERE id = ?`, timestamp, segmentBlockID)
		return err
	})
}

// FinalizeBlockByUUID is used by the recovery scanner, which identifies
// a segment_block by block_idx and uuid rather than by a live ID it
// already holds.
func (c *Catalog) FinalizeBlockByUUID(blockIdx int64, uuidHex string, timestamp int64) error {
	return c.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE segment_blocks SET end_timestamp = ? WHERE block_idx = ? AND uuid = ?`, timestamp, blockIdx, uuidHex)
		return err
	})
}

// UnfinalizedSegmentBlocks returns every segment_block with
// end_timestamp = 0, the set the recovery scanner must walk at writer
// open.
func (c *Catalog) UnfinalizedSegmentBlocks() ([]SegmentBlock, error) {
	rows, err := c.db.Query(`
		SELECT sb.id, sb.segment_id, sb.sequence, sb.block_id, sb.block_idx,
		       sb.start_timestamp, sb.end_timestamp, sb.uuid
		FROM segment_blocks sb
		WHERE sb.end_timestamp = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SegmentBlock
	for rows.Next() {
		var sb SegmentBlock
		if err := rows.Scan(&sb.ID, &sb.SegmentID, &sb.Sequence, &sb.BlockID, &sb.BlockIdx,
			&sb.StartTimestamp, &sb.EndTimestamp, &sb.UUIDHex); err != nil {
			return nil, err
		}
		out = append(out, sb)
	}
	return out, rows.Err()
}

// This package has no setter for n_valid_indexes: that counter lives
// only in the mapped block header, and the recovery scanner updates it
// directly through the block package. The catalog stops at the
// segment_block boundary.
