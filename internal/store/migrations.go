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

CREATE TABLE IF NOT EXISTS downloads (
	id            TEXT PRIMARY KEY,
	uid           INTEGER NOT NULL,
	mailbox       TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	filename      TEXT NOT NULL,
	path          TEXT NOT NULL,
	encoding      TEXT NOT NULL DEFAULT '',
	size          INTEGER NOT NULL DEFAULT 0,
	downloaded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_downloads_downloaded_at ON downloads(downloaded_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_downloads_mailbox_uid
	ON downloads(mailbox, uid);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
