package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"time"

	logx "relaybot/pkg/logx"
)

const streamPageSize = 200

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// dialect holds the per-database statements of sqlStore.
type dialect struct {
	name   string
	schema string

	get  string
	put  string
	del  string
	page string // (coll, after id, limit)
	find string // (coll, field, value)

	findArgs func(coll, field string, value any) []any
	stamp    func(t time.Time) any
}

// sqlStore keeps every collection in one documents table.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, log logx.Logger) (*sqlStore, error) {
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("%s: migrate: %w", d.name, err)
	}
	return &sqlStore{db: db, d: d, log: log}, nil
}

func (s *sqlStore) Get(ctx context.Context, coll, id string) (json.RawMessage, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, s.d.get, coll, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *sqlStore) Put(ctx context.Context, coll, id string, body json.RawMessage) error {
	if !json.Valid(body) {
		return fmt.Errorf("storage: %s/%s: body is not valid JSON", coll, id)
	}
	_, err := s.db.ExecContext(ctx, s.d.put, coll, id, string(body), s.d.stamp(time.Now().UTC()))
	return err
}

func (s *sqlStore) Delete(ctx context.Context, coll, id string) error {
	_, err := s.db.ExecContext(ctx, s.d.del, coll, id)
	return err
}

// Stream pages by id (keyset pagination) so no connection is held between pages.
func (s *sqlStore) Stream(ctx context.Context, coll string) iter.Seq2[Doc, error] {
	return func(yield func(Doc, error) bool) {
		after := ""
		for {
			docs, err := s.page(ctx, coll, after)
			if err != nil {
				yield(Doc{}, err)
				return
			}
			for _, d := range docs {
				if !yield(d, nil) {
					return
				}
			}
			if len(docs) < streamPageSize {
				return
			}
			after = docs[len(docs)-1].ID
		}
	}
}

func (s *sqlStore) page(ctx context.Context, coll, after string) ([]Doc, error) {
	rows, err := s.db.QueryContext(ctx, s.d.page, coll, after, streamPageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]Doc, 0, streamPageSize)
	for rows.Next() {
		var d Doc
		var body []byte
		if err := rows.Scan(&d.ID, &body); err != nil {
			return nil, err
		}
		d.Body = body
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *sqlStore) FindBy(ctx context.Context, coll, field string, value any) (Doc, error) {
	if !fieldName.MatchString(field) {
		return Doc{}, fmt.Errorf("storage: invalid field name %q", field)
	}
	var d Doc
	var body []byte
	err := s.db.QueryRowContext(ctx, s.d.find, s.d.findArgs(coll, field, value)...).Scan(&d.ID, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, err
	}
	d.Body = body
	return d, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
