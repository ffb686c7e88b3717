package directory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db.SQL(), logx.Nop())
}

func TestUpsertKeepsJoinTimestamp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	joined := time.Now().Add(-48 * time.Hour)
	if err := st.Upsert(ctx, Recipient{UserID: 7, FirstName: "Ann", CreatedAt: joined}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.Upsert(ctx, Recipient{UserID: 7, FirstName: "Anna", Username: "anna"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	all, err := st.FindAll(ctx, Filter{})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d recipients, want 1", len(all))
	}
	got := all[0]
	if got.FirstName != "Anna" || got.Username != "anna" {
		t.Fatalf("profile not refreshed: %+v", got)
	}
	if got.CreatedAt.UnixMilli() != joined.UnixMilli() {
		t.Fatalf("join timestamp changed: got %v want %v", got.CreatedAt, joined)
	}
}

func TestFindAllOrderAndFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seed := []Recipient{
		{UserID: 1, FirstName: "a", CreatedAt: now.Add(-96 * time.Hour)},
		{UserID: 2, FirstName: "b", CreatedAt: now.Add(-72 * time.Hour)},
		{UserID: 3, FirstName: "c", CreatedAt: now.Add(-2 * time.Hour)},
		{UserID: 4, FirstName: "d", CreatedAt: now.Add(-1 * time.Hour)},
	}
	for _, r := range seed {
		if err := st.Upsert(ctx, r); err != nil {
			t.Fatalf("upsert %d: %v", r.UserID, err)
		}
	}

	all, err := st.FindAll(ctx, Filter{})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	for i, r := range all {
		if r.UserID != seed[i].UserID {
			t.Fatalf("order not stable: pos %d got %d want %d", i, r.UserID, seed[i].UserID)
		}
	}

	cutoff := now.Add(-24 * time.Hour)

	recent, err := st.FindAll(ctx, Filter{JoinedAfter: cutoff})
	if err != nil {
		t.Fatalf("joined after: %v", err)
	}
	if len(recent) != 2 || recent[0].UserID != 3 || recent[1].UserID != 4 {
		t.Fatalf("joined-after segment wrong: %+v", recent)
	}

	old, err := st.FindAll(ctx, Filter{JoinedBefore: cutoff})
	if err != nil {
		t.Fatalf("joined before: %v", err)
	}
	if len(old) != 2 || old[0].UserID != 1 || old[1].UserID != 2 {
		t.Fatalf("joined-before segment wrong: %+v", old)
	}

	// A join timestamp exactly on the cutoff counts as "before".
	exact, err := st.FindAll(ctx, Filter{JoinedBefore: seed[1].CreatedAt})
	if err != nil {
		t.Fatalf("joined before boundary: %v", err)
	}
	if len(exact) != 2 || exact[1].UserID != 2 {
		t.Fatalf("boundary join not included: %+v", exact)
	}

	first, err := st.FindAll(ctx, Filter{Limit: 3})
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	if len(first) != 3 || first[2].UserID != 3 {
		t.Fatalf("limit segment wrong: %+v", first)
	}
}

func TestLegacyRowFallsBackToUpdatedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Simulate a roster row imported without a join timestamp.
	updated := time.Now().Add(-30 * time.Minute)
	if _, err := st.db.ExecContext(ctx,
		`INSERT INTO recipients(user_id, first_name, updated_at) VALUES(?,?,?)`,
		int64(99), "legacy", updated.UnixMilli(),
	); err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}

	recent, err := st.FindAll(ctx, Filter{JoinedAfter: time.Now().Add(-1 * time.Hour)})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recent) != 1 || recent[0].UserID != 99 {
		t.Fatalf("legacy row not matched via updated_at: %+v", recent)
	}
	if got := recent[0].JoinedAt(); got.UnixMilli() != updated.UnixMilli() {
		t.Fatalf("JoinedAt fallback wrong: got %v want %v", got, updated)
	}
}

func TestExistsRemoveCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.Upsert(ctx, Recipient{UserID: 5, FirstName: "e"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, err := st.Exists(ctx, 5)
	if err != nil || !ok {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}
	if err := st.Remove(ctx, 5); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ok, err = st.Exists(ctx, 5)
	if err != nil || ok {
		t.Fatalf("exists after remove: ok=%v err=%v", ok, err)
	}
	n, err := st.Count(ctx)
	if err != nil || n != 0 {
		t.Fatalf("count: n=%d err=%v", n, err)
	}
}
