package storage

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"os"
	"slices"
	"strings"

	"github.com/cockroachdb/pebble"

	logx "relaybot/pkg/logx"
)

// pebbleStore keys documents as "<coll>\x00<id>".
type pebbleStore struct {
	db  *pebble.DB
	log logx.Logger
}

func openPebble(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("pebble path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	log.Info("pebble store opened", logx.String("path", path))
	return &pebbleStore{db: db, log: log}, nil
}

func docKey(coll, id string) []byte {
	return []byte(coll + "\x00" + id)
}

// collBounds returns [lower, upper) covering every key of coll.
func collBounds(coll string) ([]byte, []byte) {
	return []byte(coll + "\x00"), []byte(coll + "\x01")
}

func (s *pebbleStore) Get(ctx context.Context, coll, id string) (json.RawMessage, error) {
	v, closer, err := s.db.Get(docKey(coll, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return slices.Clone(v), nil
}

func (s *pebbleStore) Put(ctx context.Context, coll, id string, body json.RawMessage) error {
	return s.db.Set(docKey(coll, id), body, pebble.Sync)
}

func (s *pebbleStore) Delete(ctx context.Context, coll, id string) error {
	return s.db.Delete(docKey(coll, id), pebble.Sync)
}

// Stream walks an iterator over the collection's key range. Pebble iterators
// read a consistent snapshot without blocking writers.
func (s *pebbleStore) Stream(ctx context.Context, coll string) iter.Seq2[Doc, error] {
	return func(yield func(Doc, error) bool) {
		lower, upper := collBounds(coll)
		it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
		if err != nil {
			yield(Doc{}, err)
			return
		}
		defer it.Close()

		for valid := it.First(); valid; valid = it.Next() {
			if err := ctx.Err(); err != nil {
				yield(Doc{}, err)
				return
			}
			d := Doc{
				ID:   string(it.Key()[len(lower):]),
				Body: slices.Clone(it.Value()),
			}
			if !yield(d, nil) {
				return
			}
		}
		if err := it.Error(); err != nil {
			yield(Doc{}, err)
		}
	}
}

func (s *pebbleStore) FindBy(ctx context.Context, coll, field string, value any) (Doc, error) {
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

func (s *pebbleStore) Close() error {
	return s.db.Close()
}
