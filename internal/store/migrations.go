package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed (
	uid          INTEGER PRIMARY KEY,
	message_id   TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	processed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS action_log (
	id         TEXT PRIMARY KEY,
	uid        INTEGER NOT NULL,
	action     TEXT NOT NULL,
	target     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_processed_at ON processed(processed_at);
CREATE INDEX IF NOT EXISTS idx_action_log_uid ON action_log(uid);
CREATE INDEX IF NOT EXISTS idx_action_log_created_at ON action_log(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
