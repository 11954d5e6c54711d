// Package persistence stores the world in SQL: sqlite by default (pure
// Go driver), postgres when pointed at one. Queries are written with `?`
// placeholders and rebound per dialect.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a point read matches no row.
var ErrNotFound = errors.New("not found")

// Dialect selects the SQL flavor in use.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func init() {
	// sqlx does not know the modernc driver name out of the box.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store wraps the database connection and owns schema migration.
type Store struct {
	q
	db      *sqlx.DB
	dialect Dialect
}

// Tx is a transaction-scoped view of the store with the same query
// surface.
type Tx struct {
	q
	tx *sqlx.Tx
}

// q holds the shared query implementation; embedded by Store and Tx so
// every entity method works both inside and outside a transaction.
type q struct {
	ext sqlx.ExtContext
}

// Open connects to the database named by url and migrates the schema.
// Postgres URLs (postgres:// or postgresql://) go through pgx; anything
// else is treated as a sqlite path.
func Open(url string) (*Store, error) {
	var (
		conn    *sqlx.DB
		dialect Dialect
		err     error
	)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		dialect = DialectPostgres
		conn, err = sqlx.Open("pgx", url)
	} else {
		dialect = DialectSQLite
		conn, err = sqlx.Open("sqlite", url+"?_journal_mode=WAL&_busy_timeout=5000")
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{q: q{ext: conn}, db: conn, dialect: dialect}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the SQL flavor in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Tx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *Store) Tx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{q: q{ext: tx}, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	location TEXT NOT NULL,
	balance TEXT NOT NULL,
	reputation INTEGER NOT NULL DEFAULT 0,
	cult_id TEXT,
	jailed_until INTEGER,
	last_action_tick INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS commodities (
	slug TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	base_price TEXT NOT NULL,
	current_price TEXT NOT NULL,
	supply INTEGER NOT NULL DEFAULT 0,
	volatility REAL NOT NULL DEFAULT 1.0,
	perishable INTEGER NOT NULL DEFAULT 0,
	decay_rate REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS inventory (
	agent_id TEXT NOT NULL,
	commodity_slug TEXT NOT NULL,
	counterfeit INTEGER NOT NULL DEFAULT 0,
	quantity TEXT NOT NULL,
	PRIMARY KEY (agent_id, commodity_slug, counterfeit)
);

CREATE TABLE IF NOT EXISTS cults (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	doctrine TEXT NOT NULL DEFAULT '',
	founder_id TEXT NOT NULL,
	treasury TEXT NOT NULL DEFAULT '0.00',
	influence INTEGER NOT NULL DEFAULT 0,
	tithe_rate REAL NOT NULL DEFAULT 0,
	member_count INTEGER NOT NULL DEFAULT 0,
	at_war_with TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rituals (
	id TEXT PRIMARY KEY,
	cult_id TEXT NOT NULL,
	type TEXT NOT NULL,
	target TEXT,
	required INTEGER NOT NULL,
	status TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_tick INTEGER NOT NULL,
	participants INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ritual_participants (
	ritual_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	PRIMARY KEY (ritual_id, agent_id)
);

CREATE TABLE IF NOT EXISTS offers (
	id TEXT PRIMARY KEY,
	seller_id TEXT NOT NULL,
	commodity_slug TEXT NOT NULL,
	counterfeit INTEGER NOT NULL DEFAULT 0,
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS world_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	effects TEXT NOT NULL DEFAULT '{}',
	tick INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS world_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_tick ON world_events(tick);
CREATE INDEX IF NOT EXISTS idx_rituals_pending ON rituals(cult_id, type, status);
CREATE INDEX IF NOT EXISTS idx_inventory_commodity ON inventory(commodity_slug);
CREATE INDEX IF NOT EXISTS idx_agents_jailed ON agents(jailed_until);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	location TEXT NOT NULL,
	balance TEXT NOT NULL,
	reputation BIGINT NOT NULL DEFAULT 0,
	cult_id TEXT,
	jailed_until BIGINT,
	last_action_tick BIGINT NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS commodities (
	slug TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	base_price TEXT NOT NULL,
	current_price TEXT NOT NULL,
	supply BIGINT NOT NULL DEFAULT 0,
	volatility DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	perishable BOOLEAN NOT NULL DEFAULT FALSE,
	decay_rate DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS inventory (
	agent_id TEXT NOT NULL,
	commodity_slug TEXT NOT NULL,
	counterfeit BOOLEAN NOT NULL DEFAULT FALSE,
	quantity TEXT NOT NULL,
	PRIMARY KEY (agent_id, commodity_slug, counterfeit)
);

CREATE TABLE IF NOT EXISTS cults (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	doctrine TEXT NOT NULL DEFAULT '',
	founder_id TEXT NOT NULL,
	treasury TEXT NOT NULL DEFAULT '0.00',
	influence BIGINT NOT NULL DEFAULT 0,
	tithe_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	member_count BIGINT NOT NULL DEFAULT 0,
	at_war_with TEXT,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS rituals (
	id TEXT PRIMARY KEY,
	cult_id TEXT NOT NULL,
	type TEXT NOT NULL,
	target TEXT,
	required BIGINT NOT NULL,
	status TEXT NOT NULL,
	expires_at BIGINT NOT NULL,
	created_tick BIGINT NOT NULL,
	participants BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ritual_participants (
	ritual_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	PRIMARY KEY (ritual_id, agent_id)
);

CREATE TABLE IF NOT EXISTS offers (
	id TEXT PRIMARY KEY,
	seller_id TEXT NOT NULL,
	commodity_slug TEXT NOT NULL,
	counterfeit BOOLEAN NOT NULL DEFAULT FALSE,
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS world_events (
	id BIGSERIAL PRIMARY KEY,
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	effects TEXT NOT NULL DEFAULT '{}',
	tick BIGINT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS world_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_tick ON world_events(tick);
CREATE INDEX IF NOT EXISTS idx_rituals_pending ON rituals(cult_id, type, status);
CREATE INDEX IF NOT EXISTS idx_inventory_commodity ON inventory(commodity_slug);
CREATE INDEX IF NOT EXISTS idx_agents_jailed ON agents(jailed_until);
`

func (s *Store) migrate() error {
	schema := schemaSQLite
	if s.dialect == DialectPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.Exec(schema)
	return err
}
