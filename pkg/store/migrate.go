package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step. Each runs in its own
// transaction; the version bump is the last statement of that transaction.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

// migrations is the ordered list of schema steps. Append only; never edit a
// shipped entry.
var migrations = []migration{
	{1, migrate001CreateSchema},
	{2, migrate002SeedSettings},
}

// SchemaVersion is the version the current code expects.
const SchemaVersion = 2

// Migrate brings the database up to SchemaVersion. Only the gateway process
// runs migrations; siblings call CheckVersion instead. A database newer than
// the code aborts with an error; the store never downgrades.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMetadata(ctx); err != nil {
		return err
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	if current > SchemaVersion {
		return fmt.Errorf("store: database schema version %d is newer than supported version %d; refusing to run", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		s.logger.Info("applying migration", "version", m.version)
		err := s.runTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(tx); err != nil {
				return err
			}
			_, err := tx.Exec(
				`INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				fmt.Sprintf("%d", m.version),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("store: migration %03d failed: %w", m.version, err)
		}
	}

	return nil
}

// CheckVersion verifies the database matches the schema this code expects.
func (s *Store) CheckVersion(ctx context.Context) error {
	if err := s.ensureMetadata(ctx); err != nil {
		return err
	}
	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if current != SchemaVersion {
		return fmt.Errorf("store: schema version mismatch: database has %d, code expects %d", current, SchemaVersion)
	}
	return nil
}

func (s *Store) ensureMetadata(ctx context.Context) error {
	_, err := s.exec(ctx, `CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	return err
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.reader.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM metadata WHERE key = 'schema_version'`,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return version, nil
}

// migrate001CreateSchema creates every table and index. Table, index, and
// column names are shared by the gateway, bridge, and control plane and must
// stay stable across minor versions.
func migrate001CreateSchema(tx *sql.Tx) error {
	const schema = `
CREATE TABLE providers (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    type        TEXT NOT NULL,
    enabled     INTEGER NOT NULL DEFAULT 1,
    priority    INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE provider_configs (
    provider_id  TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
    key          TEXT NOT NULL,
    value        TEXT NOT NULL,
    is_sensitive INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (provider_id, key)
);

CREATE TABLE models (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    capabilities TEXT NOT NULL DEFAULT '[]',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);

CREATE TABLE provider_models (
    provider_id TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
    model_id    TEXT NOT NULL REFERENCES models(id) ON DELETE CASCADE,
    is_default  INTEGER NOT NULL DEFAULT 0,
    config      TEXT,
    PRIMARY KEY (provider_id, model_id)
);

CREATE TABLE credentials (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    token      TEXT NOT NULL,
    cookies    TEXT NOT NULL,
    expires_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE sessions (
    id                 TEXT PRIMARY KEY,
    chat_id            TEXT,
    parent_id          TEXT,
    first_user_message TEXT NOT NULL,
    message_count      INTEGER NOT NULL DEFAULT 0,
    created_at         INTEGER NOT NULL,
    last_accessed      INTEGER NOT NULL,
    expires_at         INTEGER NOT NULL
);

CREATE INDEX idx_sessions_expires_at ON sessions(expires_at);

CREATE TABLE requests (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id       TEXT NOT NULL UNIQUE,
    session_id       TEXT REFERENCES sessions(id) ON DELETE CASCADE,
    timestamp        INTEGER NOT NULL,
    method           TEXT NOT NULL,
    path             TEXT NOT NULL,
    openai_request   TEXT,
    provider_request TEXT,
    model            TEXT,
    provider         TEXT,
    stream           INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_requests_session_id ON requests(session_id);
CREATE INDEX idx_requests_timestamp ON requests(timestamp);

CREATE TABLE responses (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    response_id       TEXT NOT NULL UNIQUE,
    request_id        TEXT NOT NULL UNIQUE REFERENCES requests(request_id) ON DELETE CASCADE,
    session_id        TEXT REFERENCES sessions(id) ON DELETE CASCADE,
    timestamp         INTEGER NOT NULL,
    provider_response TEXT,
    openai_response   TEXT,
    parent_id         TEXT,
    prompt_tokens     INTEGER,
    completion_tokens INTEGER,
    total_tokens      INTEGER,
    finish_reason     TEXT,
    error             TEXT,
    duration_ms       INTEGER
);

CREATE INDEX idx_responses_request_id ON responses(request_id);
CREATE INDEX idx_responses_session_id ON responses(session_id);
CREATE INDEX idx_responses_timestamp ON responses(timestamp);
`
	_, err := tx.Exec(schema)
	return err
}

// migrate002SeedSettings seeds the defaults the control plane and router
// expect to find on first boot.
func migrate002SeedSettings(tx *sql.Tx) error {
	defaults := map[string]string{
		"active_provider":               "",
		"server.timeout":                "120000",
		"logging.level":                 "info",
		"persistence.storeStreamChunks": "false",
	}
	for key, value := range defaults {
		_, err := tx.Exec(
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO NOTHING`,
			key, value, nowMS(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
