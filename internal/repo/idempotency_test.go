package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
)

func TestGetIdempotency_EmptyKey_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, true)
	rec, err := GetIdempotency(context.Background(), db, "u1", "/api/chat/query", "  ", time.Now().UTC())
	if rec != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (nil, ErrNotFound), got (%v, %v)", rec, err)
	}
}

func TestIdempotency_CreateGetDuplicate(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "u1", "scope", "k1", "s1", "m1", time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	got, err := GetIdempotency(ctx, db, "u1", "scope", "k1", time.Now().UTC())
	if err != nil || got.ID != rec.ID || got.SessionID != "s1" || got.MessageID != "m1" {
		t.Fatalf("GetIdempotency: %+v %v", got, err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "scope", "k1", "s2", "m2", time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "u2", "scope", "k1", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user must not see the record, got %v", err)
	}
}

func TestIdempotency_ExpiredIsReplaced(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &domain.Idempotency{ID: "old", UserID: "u1", Scope: "s", Key: "k", SessionID: "s0", MessageID: "m0",
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	if err := db.Create(old).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "s", "k", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record must be invisible, got %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "s", "k", "s1", "m1", time.Hour); err != nil {
		t.Fatalf("create over expired: %v", err)
	}

	n, err := PurgeExpiredIdempotency(ctx, db, now.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
}
