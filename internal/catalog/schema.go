package catalog

// DDL mirrors the reference implementation's schema exactly (table
// names, columns, the delete_empty_segments trigger, and the four
// secondary indexes), translated from sqlite3's C API calls into Go
// database/sql Exec calls.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS blocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		idx INTEGER,
		status TEXT,
		reserved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stream_tag TEXT,
		metadata TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS segment_blocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		segment_id INTEGER,
		sequence INTEGER,
		block_id INTEGER,
		block_idx INTEGER,
		start_timestamp INTEGER,
		end_timestamp INTEGER,
		uuid TEXT,
		FOREIGN KEY (segment_id) REFERENCES segments(id)
	)`,
	`CREATE TRIGGER IF NOT EXISTS delete_empty_segments
		AFTER DELETE ON segment_blocks
		BEGIN
			DELETE FROM segments
			WHERE id = OLD.segment_id
			AND NOT EXISTS (
				SELECT 1 FROM segment_blocks WHERE segment_id = OLD.segment_id
			);
		END`,
	`CREATE INDEX IF NOT EXISTS idx_segment_blocks_segment_id ON segment_blocks(segment_id)`,
	`CREATE INDEX IF NOT EXISTS idx_segment_blocks_time_range ON segment_blocks(start_timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_segments_stream_tag ON segments(stream_tag)`,
	`CREATE INDEX IF NOT EXISTS idx_blocks_status ON blocks(status)`,
}

const currentSchemaVersion = 1

// schemaVersion reads PRAGMA user_version, the scalar schema-version
// slot the reference implementation uses in place of a dedicated
// version table.
func (c *Catalog) schemaVersion() (int, error) {
	var v int
	if err := c.db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (c *Catalog) setSchemaVersion(v int) error {
	_, err := c.db.Exec(`PRAGMA user_version = ` + itoa(v))
	return err
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// upgrade applies schema migrations up to currentSchemaVersion. There is
// only one version today; the switch mirrors the reference
// implementation's fallthrough-based upgrade ladder so a future version
// bump follows the same shape.
func (c *Catalog) upgrade() error {
	v, err := c.schemaVersion()
	if err != nil {
		return err
	}
	switch v {
	case 0:
		if err := c.setSchemaVersion(1); err != nil {
			return err
		}
		fallthrough
	default:
	}
	return nil
}
