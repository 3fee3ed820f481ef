package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create standups and audit log",
		SQL: `
			CREATE TABLE standups (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				round_id     TEXT NOT NULL,
				agent        TEXT NOT NULL,
				report       TEXT NOT NULL,
				collected_at TEXT NOT NULL,
				created_at   TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_standups_round ON standups (round_id);
			CREATE INDEX idx_standups_agent ON standups (agent, id);

			CREATE TABLE audit_log (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				source     TEXT NOT NULL,
				message    TEXT NOT NULL,
				created_at TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_audit_source ON audit_log (source, id);
		`,
	},
}
