// Package recovery implements the writer-open crash-recovery scan:
// walking every unfinalized segment_block's index backward to find the
// last frame that actually made it to disk, and truncating
// n_valid_indexes to match. Grounded line-for-line on
// original_source/nanots.cpp's _validate_blocks/_validate_frame_header.
package recovery

import (
	"log"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/kvtime/nanots/internal/block"
	"github.com/kvtime/nanots/internal/catalog"
	"github.com/kvtime/nanots/internal/mmapfile"
)

// Scan walks every segment_block with end_timestamp = 0 in cat,
// validates its block's trailing index entries against the mapped
// bytes, and repairs both the catalog's end_timestamp and the block's
// n_valid_indexes to reflect only frames that pass validation.
// Validation failures are logged through logger and are never returned
// as errors — a block that recovers to zero valid frames simply stays
// unfinalized and empty.
func Scan(f *mmapfile.File, cat *catalog.Catalog, blockSize uint32, logger *log.Logger, debug bool) error {
	pending, err := cat.UnfinalizedSegmentBlocks()
	if err != nil {
		return err
	}

	for _, sb := range pending {
		if err := scanOne(f, cat, blockSize, sb, logger, debug); err != nil {
			return err
		}
	}
	return nil
}

func scanOne(f *mmapfile.File, cat *catalog.Catalog, blockSize uint32, sb catalog.SegmentBlock, logger *log.Logger, debug bool) error {
	expected, err := uuid.Parse(sb.UUIDHex)
	if err != nil {
		logger.Print(color.RedString("nanots: recovery: segment_block %d has unparsable uuid %q, skipping", sb.ID, sb.UUIDHex))
		return nil
	}

	offset := mmapfile.BlockOffset(blockSize, uint32(sb.BlockIdx))
	m, err := mmapfile.Map(f, offset, int(blockSize))
	if err != nil {
		return err
	}
	defer m.Close()

	buf := m.Bytes()
	nValid := block.LoadNValidIndexes(buf)

	lastValid := -1
	for i := int(nValid) - 1; i >= 0; i-- {
		entry := block.ReadIndexEntry(buf, i)
		if entry.Timestamp == 0 || entry.Offset == 0 {
			continue
		}

		indexRegionEnd := uint64(block.IndexEntryAt(int(nValid) + 1))
		if entry.Offset < indexRegionEnd || entry.Offset > uint64(blockSize)-block.FrameHeaderSize {
			continue
		}

		frameSize, _, ok := block.ValidateFrameHeader(buf[entry.Offset:], expected)
		if !ok {
			continue
		}
		if uint64(frameSize) > uint64(blockSize)-entry.Offset-block.FrameHeaderSize {
			continue
		}

		lastValid = i
		break
	}

	if lastValid >= 0 {
		actualTimestamp := block.ReadIndexEntry(buf, lastValid).Timestamp
		if err := cat.FinalizeBlockByUUID(sb.BlockIdx, sb.UUIDHex, actualTimestamp); err != nil {
			return err
		}
	} else {
		logger.Print(color.RedString("nanots: recovery: segment_block %d (block_idx %d) has no recoverable frames", sb.ID, sb.BlockIdx))
		if debug {
			dumpEnd := int(nValid) + 1
			if dumpEnd > len(buf)/block.IndexEntrySize {
				dumpEnd = len(buf) / block.IndexEntrySize
			}
			spew.Dump("nanots recovery: trailing index entries", buf[block.HeaderSize:block.IndexEntryAt(dumpEnd)])
		}
	}

	if lastValid+1 != int(nValid) {
		logger.Print(color.YellowString("nanots: recovery: truncating block_idx %d from %d to %d valid indexes", sb.BlockIdx, nValid, lastValid+1))
		block.StoreNValidIndexesRelease(buf, uint32(lastValid+1))
		if err := m.Flush(int(blockSize), true); err != nil {
			return err
		}
	}

	return nil
}
