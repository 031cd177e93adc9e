package catalog

import (
	"database/sql"
	"errors"
)

// ErrNoFreeBlock is returned by GetBlock and AcquireBlockForSegment when
// no free or reclaimable block exists.
var ErrNoFreeBlock = errors.New("catalog: no free block")

// GetBlock returns a free block, flipping its status to 'reserved'. If
// none is free and autoReclaim is set, it reclaims the oldest finalized
// used/reserved block instead. Returns ErrNoFreeBlock if neither path
// yields a block.
func (c *Catalog) GetBlock(autoReclaim bool) (blk Block, err error) {
	err = c.withTx(func(tx *sql.Tx) error {
		blk, err = getBlockTx(tx, autoReclaim)
		return err
	})
	return blk, err
}

// getBlockTx is GetBlock's body, reusable inside a caller-supplied
// transaction so it can be composed with other catalog writes that must
// commit or roll back together.
func getBlockTx(tx *sql.Tx, autoReclaim bool) (blk Block, err error) {
	row := tx.QueryRow(`SELECT id, idx FROM blocks WHERE status = 'free' LIMIT 1`)
	scanErr := row.Scan(&blk.ID, &blk.Idx)
	if scanErr == nil {
		_, execErr := tx.Exec(`UPDATE blocks SET status = 'reserved', reserved_at = CURRENT_TIMESTAMP WHERE id = ?`, blk.ID)
		return blk, execErr
	}
	if scanErr != sql.ErrNoRows {
		return Block{}, scanErr
	}

	if !autoReclaim {
		return Block{}, ErrNoFreeBlock
	}

	return reclaimOldestUsedBlock(tx)
}

// AcquireBlockForSegment runs get_block and create_segment_block as one
// atomic unit, mirroring the reference implementation's
// nanots_writer::write, which wraps both calls in a single
// nts_sqlite_transaction so a create_segment_block failure rolls back
// the block reservation too instead of leaving the block stuck in
// 'reserved' with no owning segment_block row.
func (c *Catalog) AcquireBlockForSegment(autoReclaim bool, segmentID, sequence, startTimestamp int64, uuidHex string) (blk Block, sb SegmentBlock, err error) {
	err = c.withTx(func(tx *sql.Tx) error {
		var streamTag, metadata string
		segErr := tx.QueryRow(`SELECT stream_tag, metadata FROM segments WHERE id = ?`, segmentID).Scan(&streamTag, &metadata)
		if segErr != nil && segErr != sql.ErrNoRows {
			return segErr
		}
		blk, err = getBlockTx(tx, autoReclaim)
		if err != nil {
			return err
		}
		// Reclaiming the segment's own last block fires
		// delete_empty_segments; restore the row so the new
		// segment_block still joins to its segment.
		if segErr == nil {
			if _, err = tx.Exec(`INSERT OR IGNORE INTO segments (id, stream_tag, metadata) VALUES (?, ?, ?)`, segmentID, streamTag, metadata); err != nil {
				return err
			}
		}
		sb, err = createSegmentBlockTx(tx, segmentID, sequence, blk.ID, blk.Idx, startTimestamp, uuidHex)
		return err
	})
	return blk, sb, err
}

// reclaimOldestUsedBlock finds the oldest finalized segment_block whose
// block is used or reserved, deletes that segment_block row (the
// delete_empty_segments trigger cleans up any now-empty segment) and
// flips the block back to reserved.
func reclaimOldestUsedBlock(tx *sql.Tx) (Block, error) {
	row := tx.QueryRow(`
		SELECT sb.block_id, b.idx, sb.id
		FROM segment_blocks sb
		JOIN blocks b ON sb.block_id = b.id
		WHERE sb.end_timestamp != 0 AND (b.status = 'used' OR b.status = 'reserved')
		ORDER BY sb.end_timestamp ASC, b.reserved_at ASC
		LIMIT 1`)

	var blockID, idx, segmentBlockID int64
	if err := row.Scan(&blockID, &idx, &segmentBlockID); err != nil {
		if err == sql.ErrNoRows {
			return Block{}, ErrNoFreeBlock
		}
		return Block{}, err
	}

	if _, err := tx.Exec(`DELETE FROM segment_blocks WHERE id = ?`, segmentBlockID); err != nil {
		return Block{}, err
	}
	if _, err := tx.Exec(`UPDATE blocks SET status = 'reserved', reserved_at = CURRENT_TIMESTAMP WHERE id = ?`, blockID); err != nil {
		return Block{}, err
	}

	return Block{ID: blockID, Idx: idx}, nil
}

// FinalizeReservedBlocksOlderThan promotes every block that has sat in
// 'reserved' status longer than maxAgeSeconds back to 'used', the
// periodic maintenance task run on every write-context drop.
func (c *Catalog) FinalizeReservedBlocksOlderThan(maxAgeSeconds int) error {
	return c.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE blocks SET status = 'used' WHERE status = 'reserved' AND reserved_at < datetime('now', ?)`,
			sprintfSeconds(maxAgeSeconds),
		)
		return err
	})
}

func sprintfSeconds(n int) string {
	return "-" + itoa(n) + " seconds"
}

// FreeRange deletes every segment_block for streamTag whose time range
// is fully contained within [startTs, endTs], and flips the
// corresponding blocks back to 'free' whenever no other segment_block
// still references them.
func (c *Catalog) FreeRange(streamTag string, startTs, endTs int64) error {
	return c.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT sb.id, sb.block_id
			FROM segment_blocks sb
			JOIN segments s ON sb.segment_id = s.id
			WHERE s.stream_tag = ? AND sb.start_timestamp >= ? AND
			      (sb.end_timestamp != 0 AND sb.end_timestamp <= ?)`,
			streamTag, startTs, endTs)
		if err != nil {
			return err
		}

		type pair struct{ sbID, blockID int64 }
		var toFree []pair
		for rows.Next() {
			var p pair
			if err := rows.Scan(&p.sbID, &p.blockID); err != nil {
				rows.Close()
				return err
			}
			toFree = append(toFree, p)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		for _, p := range toFree {
			if _, err := tx.Exec(`DELETE FROM segment_blocks WHERE id = ?`, p.sbID); err != nil {
				return err
			}
			var still int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM segment_blocks WHERE block_id = ?`, p.blockID).Scan(&still); err != nil {
				return err
			}
			if still == 0 {
				if _, err := tx.Exec(`UPDATE blocks SET status = 'free' WHERE id = ?`, p.blockID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
