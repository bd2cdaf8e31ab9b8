package db

// DBName is the logical name of the on-device database.
const DBName = "shillongTeerDB"

// SchemaVersion is the current database schema version
const SchemaVersion = 4

// Collection names
const (
	CollectionPendingOps   = "pending_ops"
	CollectionResults      = "results"
	CollectionBets         = "bets"
	CollectionSession      = "session"
	CollectionTransactions = "transactions"
	CollectionLostWrites   = "lost_writes"
	CollectionUsers        = "users"
)

// Migration defines a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all database migrations in order. Migrations only
// add tables and collections; nothing is ever dropped.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "Create record collections and seed the sync session",
		SQL: `
CREATE TABLE IF NOT EXISTS collections (
    name TEXT PRIMARY KEY,
    key_field TEXT NOT NULL DEFAULT 'id',
    since_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
    collection TEXT NOT NULL,
    key TEXT NOT NULL,
    data TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (collection, key)
);

INSERT OR IGNORE INTO collections (name, key_field, since_version) VALUES
    ('pending_ops', 'id', 1),
    ('results', 'id', 1),
    ('bets', 'id', 1),
    ('session', 'id', 1);

INSERT OR IGNORE INTO records (collection, key, data) VALUES
    ('session', 'main-session', '{"id":"main-session","userId":-1,"lastSync":null}');
`,
	},
	{
		Version:     2,
		Description: "Add transactions and lost_writes collections",
		SQL: `
INSERT OR IGNORE INTO collections (name, key_field, since_version) VALUES
    ('transactions', 'id', 2),
    ('lost_writes', 'id', 2);
`,
	},
	{
		Version:     3,
		Description: "Add sync_history and agent_messages tables",
		SQL: `
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    direction TEXT NOT NULL,
    action TEXT NOT NULL,
    collection TEXT NOT NULL DEFAULT '',
    entity_id TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS agent_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    origin TEXT NOT NULL DEFAULT '',
    sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_agent_messages_kind ON agent_messages(kind, id);
`,
	},
	{
		Version:     4,
		Description: "Add users collection",
		SQL: `
INSERT OR IGNORE INTO collections (name, key_field, since_version) VALUES
    ('users', 'id', 4);
`,
	},
}
