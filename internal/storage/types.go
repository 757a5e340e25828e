package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"
)

var (
	ErrNotFound = errors.New("storage: document not found")
	ErrClosed   = errors.New("storage: closed")
)

// Collections.
const (
	Students      = "students"
	Officials     = "officials"
	Messages      = "messages"
	Mailboxes     = "mailboxes"
	Conversations = "conversations"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go driver)
//   - "postgres": PostgreSQL via DSN
//   - "pebble": embedded LSM key-value directory
//   - "memory": process-local, for tests and dry runs
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Doc is one stored document.
type Doc struct {
	ID   string
	Body json.RawMessage
}

// Store is the document API used by the bots.
type Store interface {
	Get(ctx context.Context, coll, id string) (json.RawMessage, error)
	Put(ctx context.Context, coll, id string, body json.RawMessage) error
	Delete(ctx context.Context, coll, id string) error

	// Stream yields every document of coll ordered by id. Drivers page through
	// the collection, so iteration never holds the whole set in memory.
	Stream(ctx context.Context, coll string) iter.Seq2[Doc, error]

	// FindBy returns the first document whose top-level field equals value.
	FindBy(ctx context.Context, coll, field string, value any) (Doc, error)

	Close() error
}

// GetJSON loads coll/id into a T.
func GetJSON[T any](ctx context.Context, s Store, coll, id string) (T, error) {
	var v T
	raw, err := s.Get(ctx, coll, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("storage: decode %s/%s: %w", coll, id, err)
	}
	return v, nil
}

// PutJSON stores v as coll/id.
func PutJSON(ctx context.Context, s Store, coll, id string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s/%s: %w", coll, id, err)
	}
	return s.Put(ctx, coll, id, b)
}

// Exists reports whether coll/id is present.
func Exists(ctx context.Context, s Store, coll, id string) (bool, error) {
	_, err := s.Get(ctx, coll, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
