package storage

import (
	"context"
	"encoding/json"
	"iter"
	"slices"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	colls  map[string]map[string][]byte
	closed bool
}

// NewMemory returns an in-process store.
func NewMemory() Store {
	return &memoryStore{colls: map[string]map[string][]byte{}}
}

func (s *memoryStore) Get(ctx context.Context, coll, id string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	b, ok := s.colls[coll][id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(b), nil
}

func (s *memoryStore) Put(ctx context.Context, coll, id string, body json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	c := s.colls[coll]
	if c == nil {
		c = map[string][]byte{}
		s.colls[coll] = c
	}
	c[id] = slices.Clone(body)
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, coll, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.colls[coll], id)
	return nil
}

// Stream snapshots the ids, then reads each document lazily; documents
// deleted mid-stream are skipped.
func (s *memoryStore) Stream(ctx context.Context, coll string) iter.Seq2[Doc, error] {
	return func(yield func(Doc, error) bool) {
		s.mu.RLock()
		ids := make([]string, 0, len(s.colls[coll]))
		for id := range s.colls[coll] {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
		slices.Sort(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(Doc{}, err)
				return
			}
			body, err := s.Get(ctx, coll, id)
			if err == ErrNotFound {
				continue
			}
			if !yield(Doc{ID: id, Body: body}, err) || err != nil {
				return
			}
		}
	}
}

func (s *memoryStore) FindBy(ctx context.Context, coll, field string, value any) (Doc, error) {
	for d, err := range s.Stream(ctx, coll) {
		if err != nil {
			return Doc{}, err
		}
		if fieldEquals(d.Body, field, value) {
			return d, nil
		}
	}
	return Doc{}, ErrNotFound
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
