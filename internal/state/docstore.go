package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"relaybot/internal/storage"
)

type docRecord struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type docStore struct {
	docs storage.Store
	ttl  time.Duration
	now  func() time.Time
}

// NewDocStore keeps snapshots in the conversations collection. Expired
// records read as ErrNotFound and are removed.
func NewDocStore(docs storage.Store, ttl time.Duration) Store {
	return &docStore{docs: docs, ttl: ttl, now: time.Now}
}

func (s *docStore) Load(ctx context.Context, key string) ([]byte, error) {
	rec, err := storage.GetJSON[docRecord](ctx, s.docs, storage.Conversations, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.IsZero() && s.now().After(rec.ExpiresAt) {
		_ = s.docs.Delete(ctx, storage.Conversations, key)
		return nil, ErrNotFound
	}
	return rec.Value, nil
}

func (s *docStore) Save(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return errors.New("state: snapshot is not valid JSON")
	}
	return storage.PutJSON(ctx, s.docs, storage.Conversations, key, docRecord{
		Value:     value,
		ExpiresAt: s.now().Add(s.ttl),
	})
}

func (s *docStore) Delete(ctx context.Context, key string) error {
	return s.docs.Delete(ctx, storage.Conversations, key)
}

// Close is a no-op; the document store is owned by the caller.
func (s *docStore) Close() error { return nil }
