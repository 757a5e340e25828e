package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"relaybot/internal/state"
)

// envelope is the persisted form of a State.
type envelope struct {
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func Encode(s State, now time.Time) ([]byte, error) {
	if s == nil {
		s = Idle{}
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: s.Kind(), Payload: payload, UpdatedAt: now.UTC()})
}

func Decode(b []byte) (State, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("conversation: decode envelope: %w", err)
	}
	switch env.Kind {
	case KindIdle:
		return Idle{}, nil
	case KindAwaitingMessage:
		return decodeAs[AwaitingMessage](env.Payload)
	case KindAwaitingAttachments:
		return decodeAs[AwaitingAttachments](env.Payload)
	case KindAwaitingConfirmation:
		return decodeAs[AwaitingConfirmation](env.Payload)
	default:
		return nil, fmt.Errorf("conversation: unknown state kind %q", env.Kind)
	}
}

func decodeAs[T State](b json.RawMessage) (State, error) {
	var v T
	if len(b) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("conversation: decode payload: %w", err)
	}
	return v, nil
}

// Repo loads and saves conversation states keyed by state.Key.
type Repo struct {
	store state.Store
	now   func() time.Time
}

func NewRepo(store state.Store) *Repo { return &Repo{store: store, now: time.Now} }

// Load returns Idle when nothing is stored.
func (r *Repo) Load(ctx context.Context, key string) (State, error) {
	b, err := r.store.Load(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		return Idle{}, nil
	}
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// Save stores s, deleting the record when s is Idle.
func (r *Repo) Save(ctx context.Context, key string, s State) error {
	if s == nil || s.Kind() == KindIdle {
		return r.store.Delete(ctx, key)
	}
	b, err := Encode(s, r.now())
	if err != nil {
		return err
	}
	return r.store.Save(ctx, key, b)
}
