package migrations

// InitialSchema creates the message and change tables
var InitialSchema = &Migration{
	Name: "001_initial_schema",
	UpSQL: `
		-- Product documents, one per (type, unique_name)
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			unique_name TEXT NOT NULL,
			subtype TEXT NOT NULL DEFAULT '',
			station TEXT NOT NULL DEFAULT '',
			has_text BOOLEAN NOT NULL DEFAULT FALSE,
			has_geo BOOLEAN NOT NULL DEFAULT FALSE,
			insert_time TIMESTAMPTZ NOT NULL,
			expiration_time TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		);

		-- Create indexes
		CREATE INDEX IF NOT EXISTS idx_messages_type ON messages (type);
		CREATE INDEX IF NOT EXISTS idx_messages_insert_time ON messages (insert_time);
		CREATE INDEX IF NOT EXISTS idx_messages_expiration_time ON messages (expiration_time);

		-- Change journal, used to skip idempotent rewrites
		CREATE TABLE IF NOT EXISTS changes (
			id TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			changed_at TIMESTAMPTZ NOT NULL,
			cancel TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_changes_changed_at ON changes (changed_at);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS changes;
		DROP TABLE IF EXISTS messages;
	`,
}
