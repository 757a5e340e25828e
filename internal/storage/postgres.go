package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	logx "relaybot/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	coll       TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (coll, id)
);`

var postgresDialect = dialect{
	name:   "postgres",
	schema: postgresSchema,
	get:    `SELECT body FROM documents WHERE coll = $1 AND id = $2`,
	put: `INSERT INTO documents(coll, id, body, updated_at) VALUES($1, $2, $3::jsonb, $4)
		ON CONFLICT (coll, id) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
	del:  `DELETE FROM documents WHERE coll = $1 AND id = $2`,
	page: `SELECT id, body FROM documents WHERE coll = $1 AND id > $2 ORDER BY id LIMIT $3`,
	find: `SELECT id, body FROM documents WHERE coll = $1 AND body->>$2 = $3 ORDER BY id LIMIT 1`,
	findArgs: func(coll, field string, value any) []any {
		// ->> yields text, so compare against the printed value.
		return []any{coll, field, fmt.Sprint(value)}
	},
	stamp: func(t time.Time) any { return t },
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	st, err := newSQLStore(ctx, db, postgresDialect, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("postgres store opened")
	return st, nil
}
