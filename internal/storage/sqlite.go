package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "relaybot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	coll       TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (coll, id)
);`

var sqliteDialect = dialect{
	name:   "sqlite",
	schema: sqliteSchema,
	get:    `SELECT body FROM documents WHERE coll = ? AND id = ?`,
	put: `INSERT INTO documents(coll, id, body, updated_at) VALUES(?,?,?,?)
		ON CONFLICT(coll, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
	del:  `DELETE FROM documents WHERE coll = ? AND id = ?`,
	page: `SELECT id, body FROM documents WHERE coll = ? AND id > ? ORDER BY id LIMIT ?`,
	find: `SELECT id, body FROM documents WHERE coll = ? AND json_extract(body, ?) = ? ORDER BY id LIMIT 1`,
	findArgs: func(coll, field string, value any) []any {
		return []any{coll, "$." + field, value}
	},
	stamp: func(t time.Time) any { return t.Format(time.RFC3339Nano) },
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st, err := newSQLStore(context.Background(), db, sqliteDialect, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}
