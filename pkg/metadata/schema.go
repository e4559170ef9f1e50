package metadata

// schemaVersion identifies the DDL below. Bump it and add a migration
// path if the schema ever changes shape.
const schemaVersion = 1

// ddlStatements creates the events/blob_index/chunks tables and their
// indexes. Grounded on the teacher's schema-init idiom of a flat slice
// of CREATE TABLE statements executed in order at open time.
var ddlStatements = []string{
	`CREATE TABLE IF NOT EXISTS blob_index (
		blob_hash  TEXT PRIMARY KEY,
		blob_path  TEXT NOT NULL,
		ref_count  INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		event_id        TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		source          TEXT NOT NULL,
		app             TEXT NOT NULL,
		content_pointer TEXT NOT NULL,
		content_hash    TEXT NOT NULL,
		size_bytes      INTEGER NOT NULL,
		tags            TEXT NOT NULL,
		privacy_flag    TEXT NOT NULL,
		created_at      TEXT NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY (content_hash) REFERENCES blob_index(blob_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		chunk_id      TEXT PRIMARY KEY,
		event_id      TEXT NOT NULL,
		start_offset  INTEGER NOT NULL,
		end_offset    INTEGER NOT NULL,
		content_type  TEXT NOT NULL,
		created_at    TEXT NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY (event_id) REFERENCES events(event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_events_app ON events(app)`,
	`CREATE INDEX IF NOT EXISTS idx_events_content_hash ON events(content_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_event_id ON chunks(event_id)`,
}
