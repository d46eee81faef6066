package store

// schemaSQL creates the three logical tables: local, mirror, and staging.
// staging is a connection-scoped TEMP table: Store pins a single *sql.Conn
// for its whole lifetime (see store.go), so "connection-scoped" and
// "one reconciliation cycle" coincide in practice.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS local (
	ext_id TEXT PRIMARY KEY,
	data TEXT,
	sync_change_counter INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS mirror (
	guid TEXT PRIMARY KEY,
	ext_id TEXT UNIQUE NOT NULL,
	data TEXT,
	server_modified REAL NOT NULL DEFAULT 0
);
CREATE TEMP TABLE IF NOT EXISTS staging (
	guid TEXT PRIMARY KEY,
	ext_id TEXT NOT NULL,
	data TEXT
);
`
