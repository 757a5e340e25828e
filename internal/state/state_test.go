package state

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"relaybot/internal/storage"
)

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := Key("official", 42)

	if _, err := s.Load(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on empty = %v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, key, []byte(`{"kind":"idle"}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, key)
	if err != nil || string(got) != `{"kind":"idle"}` {
		t.Fatalf("Load = %s, %v", got, err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after delete = %v", err)
	}
}

func TestDocStore(t *testing.T) {
	exercise(t, NewDocStore(storage.NewMemory(), time.Hour))
}

func TestDocStoreExpiry(t *testing.T) {
	ctx := context.Background()
	docs := storage.NewMemory()
	s := NewDocStore(docs, time.Minute).(*docStore)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	if err := s.Save(ctx, "k", []byte(`{}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := s.Load(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired Load = %v", err)
	}
	if ok, _ := storage.Exists(ctx, docs, storage.Conversations, "k"); ok {
		t.Fatal("expired record should be removed")
	}
}

func TestDocStoreRejectsInvalidJSON(t *testing.T) {
	if err := NewDocStore(storage.NewMemory(), time.Hour).Save(context.Background(), "k", []byte("{")); err == nil {
		t.Fatal("expected invalid JSON error")
	}
}

func TestOpen(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "etcd"}, storage.NewMemory()); err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("unknown driver error = %v", err)
	}
	if _, err := Open(context.Background(), Config{}, nil); err == nil {
		t.Fatal("store driver without docs should fail")
	}
	s, err := Open(context.Background(), Config{Driver: "store"}, storage.NewMemory())
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	exercise(t, s)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("RELAYBOT_TEST_REDIS")
	if addr == "" {
		t.Skip("RELAYBOT_TEST_REDIS not set")
	}
	s, err := OpenRedis(context.Background(), addr, 0, time.Minute)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer s.Close()
	exercise(t, s)
}
