package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const defaultMirrorTable = "gateway_accounts"

// PostgresMirror optionally durable-backs the credential file with a
// Postgres table, so an operator running multiple gateway processes behind
// a shared database can recover the account list without the local
// accounts.json surviving. It never becomes the primary source of truth —
// Store's file remains authoritative; the mirror is best-effort.
type PostgresMirror struct {
	db    *sql.DB
	table string
}

// NewPostgresMirror opens the DSN and ensures the mirror table exists.
func NewPostgresMirror(ctx context.Context, dsn, table string) (*PostgresMirror, error) {
	if table == "" {
		table = defaultMirrorTable
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("account: open postgres mirror: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("account: ping postgres mirror: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		email TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`, table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("account: create mirror table: %w", err)
	}
	return &PostgresMirror{db: db, table: table}, nil
}

// Sync upserts every account's persisted form keyed by email, logging
// (rather than failing) on a single row's error so one bad row never blocks
// the rest.
func (m *PostgresMirror) Sync(ctx context.Context, accounts []*Account) error {
	query := fmt.Sprintf(`INSERT INTO %s (email, payload, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`, m.table)

	now := time.Now().UTC()
	for _, a := range accounts {
		if a.Email == "" {
			continue
		}
		payload, err := json.Marshal(toPersisted(a))
		if err != nil {
			log.WithError(err).Warn("account: failed to marshal account for postgres mirror")
			continue
		}
		if _, err := m.db.ExecContext(ctx, query, a.Email, payload, now); err != nil {
			log.WithError(err).Warnf("account: failed to mirror account %s to postgres", a.Email)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (m *PostgresMirror) Close() error {
	return m.db.Close()
}
