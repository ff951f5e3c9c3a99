package storage

// SchemaVersion is the current ledger schema version.
const SchemaVersion = 1

// Schema creates the ledger tables.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_counter (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    next_seq INTEGER NOT NULL
);

INSERT INTO ledger_counter (id, next_seq) VALUES (1, 1)
ON CONFLICT(id) DO NOTHING;

CREATE TABLE IF NOT EXISTS audit_records (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    role TEXT NOT NULL,
    verdict TEXT NOT NULL,
    status TEXT,
    recorded_at INTEGER NOT NULL, -- unix nanoseconds, UTC
    payload TEXT NOT NULL,        -- canonical JSON, hashed
    hash TEXT NOT NULL
);

CREATE TRIGGER IF NOT EXISTS audit_records_no_update
BEFORE UPDATE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit records are immutable');
END;

CREATE TRIGGER IF NOT EXISTS audit_records_no_delete
BEFORE DELETE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit records are immutable');
END;

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_records_actor ON audit_records(actor_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_records_recorded_at ON audit_records(recorded_at);
CREATE INDEX IF NOT EXISTS idx_audit_records_verdict ON audit_records(verdict, seq);
`

// InsertSchemaVersion records the schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
