// Package roster reads and writes the authorized Officials and Students.
// Records are keyed by Telegram user id and created when the external
// OAuth flow completes.
package roster

import (
	"context"
	"errors"
	"iter"
	"strconv"

	"relaybot/internal/storage"
)

type Role string

const (
	RoleOfficial Role = "official"
	RoleStudent  Role = "student"
)

func (r Role) collection() string {
	if r == RoleOfficial {
		return storage.Officials
	}
	return storage.Students
}

// Profile is the persisted record of an Official or a Student.
type Profile struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	UserID  int64  `json:"user_id,omitempty"`
}

// Roster is the store-backed view of both roles.
type Roster struct {
	store storage.Store
}

func New(store storage.Store) *Roster { return &Roster{store: store} }

func key(userID int64) string { return strconv.FormatInt(userID, 10) }

// Lookup returns the profile of userID in role, or storage.ErrNotFound.
func (r *Roster) Lookup(ctx context.Context, role Role, userID int64) (Profile, error) {
	return storage.GetJSON[Profile](ctx, r.store, role.collection(), key(userID))
}

// IsAuthorized reports whether userID holds role.
func (r *Roster) IsAuthorized(ctx context.Context, role Role, userID int64) (bool, error) {
	_, err := r.Lookup(ctx, role, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Save records a profile for userID. The OAuth completion callback is its only writer.
func (r *Roster) Save(ctx context.Context, role Role, userID int64, p Profile) error {
	p.UserID = userID
	return storage.PutJSON(ctx, r.store, role.collection(), key(userID), p)
}

// Recipients streams the document ids of every Student.
func (r *Roster) Recipients(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for d, err := range r.store.Stream(ctx, storage.Students) {
			if !yield(d.ID, err) || err != nil {
				return
			}
		}
	}
}
