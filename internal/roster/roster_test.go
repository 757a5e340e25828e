package roster

import (
	"context"
	"errors"
	"testing"

	"relaybot/internal/storage"
)

func TestSaveLookupAuthorize(t *testing.T) {
	ctx := context.Background()
	r := New(storage.NewMemory())

	if ok, err := r.IsAuthorized(ctx, RoleOfficial, 7); ok || err != nil {
		t.Fatalf("IsAuthorized before save = %v, %v", ok, err)
	}
	if err := r.Save(ctx, RoleOfficial, 7, Profile{Email: "dean@x.edu", Name: "Dean"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	p, err := r.Lookup(ctx, RoleOfficial, 7)
	if err != nil || p.Email != "dean@x.edu" || p.UserID != 7 {
		t.Fatalf("Lookup = %+v, %v", p, err)
	}
	if _, err := r.Lookup(ctx, RoleStudent, 7); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("roles must be separate, got %v", err)
	}
}

func TestRecipientsStreamsStudentIDs(t *testing.T) {
	ctx := context.Background()
	r := New(storage.NewMemory())
	for _, id := range []int64{3, 1, 2} {
		_ = r.Save(ctx, RoleStudent, id, Profile{Name: "s"})
	}
	var got []string
	for id, err := range r.Recipients(ctx) {
		if err != nil {
			t.Fatalf("Recipients: %v", err)
		}
		got = append(got, id)
	}
	if len(got) != 3 || got[0] != "1" || got[2] != "3" {
		t.Fatalf("Recipients = %v", got)
	}
}
