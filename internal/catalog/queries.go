package catalog

// QueryStreamTags returns every distinct stream tag with a segment_block
// overlapping [startTs, endTs].
func (c *Catalog) QueryStreamTags(startTs, endTs int64) ([]string, error) {
	rows, err := c.db.Query(`
		SELECT DISTINCT s.stream_tag
		FROM segments s
		JOIN segment_blocks sb ON s.id = sb.segment_id
		WHERE sb.start_timestamp <= ? AND (sb.end_timestamp >= ? OR sb.end_timestamp = 0)`,
		endTs, startTs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ReadRow is one segment_block joined with its segment's metadata, in
// the shape the reader's range scan needs.
type ReadRow struct {
	Metadata       string
	BlockSequence  int64
	BlockIdx       int64
	StartTimestamp int64
	EndTimestamp   int64
	UUIDHex        string
}

// OverlappingSegmentBlocks returns, in sequence order, every
// segment_block for streamTag whose range overlaps [startTs, endTs]. An
// unfinalized block (end_timestamp = 0) is treated as open-ended and is
// included whenever its start is <= endTs. Ordering by sequence (rather
// than start_timestamp) matches the reference implementation and is
// what lets the reader do a single binary search on the first returned
// block and then scan forward.
func (c *Catalog) OverlappingSegmentBlocks(streamTag string, startTs, endTs int64) ([]ReadRow, error) {
	rows, err := c.db.Query(`
		SELECT
			s.metadata,
			sb.sequence,
			sb.block_idx,
			sb.start_timestamp,
			sb.end_timestamp,
			sb.uuid
		FROM segments s
		JOIN segment_blocks sb ON sb.segment_id = s.id
		WHERE s.stream_tag = ?
		  AND sb.start_timestamp <= ?
		  AND (sb.end_timestamp >= ? OR sb.end_timestamp = 0)
		ORDER BY sb.sequence ASC`,
		streamTag, endTs, startTs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReadRow
	for rows.Next() {
		var r ReadRow
		if err := rows.Scan(&r.Metadata, &r.BlockSequence, &r.BlockIdx,
			&r.StartTimestamp, &r.EndTimestamp, &r.UUIDHex); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryContiguousSegments collapses a stream tag's segment_blocks in
// [startTs, endTs] into maximal runs of consecutive sequence numbers
// within a segment, using the same ROW_NUMBER()-minus-sequence
// gap-collapsing technique as the reference implementation: a
// contiguous run of sequence numbers produces a constant group_key,
// since both the row number and the sequence advance by exactly one
// per row within the run.
func (c *Catalog) QueryContiguousSegments(streamTag string, startTs, endTs int64) ([]ContiguousSegment, error) {
	rows, err := c.db.Query(`
		WITH contiguous_groups AS (
			SELECT
				sb.segment_id,
				sb.sequence,
				sb.start_timestamp,
				sb.end_timestamp,
				ROW_NUMBER() OVER (PARTITION BY sb.segment_id ORDER BY sb.sequence) - sb.sequence AS group_key
			FROM segment_blocks sb
			JOIN segments s ON sb.segment_id = s.id
			WHERE sb.start_timestamp <= ?
			  AND (sb.end_timestamp >= ? OR sb.end_timestamp = 0)
			  AND s.stream_tag = ?
		),
		region_boundaries AS (
			SELECT segment_id, group_key,
			       MIN(start_timestamp) AS region_start,
			       MAX(end_timestamp) AS region_end
			FROM contiguous_groups
			GROUP BY segment_id, group_key
		)
		SELECT segment_id, region_start, region_end
		FROM region_boundaries
		ORDER BY segment_id, region_start`,
		endTs, startTs, streamTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContiguousSegment
	for rows.Next() {
		var cs ContiguousSegment
		if err := rows.Scan(&cs.SegmentID, &cs.StartTs, &cs.EndTs); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
