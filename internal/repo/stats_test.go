package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
)

func TestSessionsStats_NoTable(t *testing.T) {
	db := newRepoDB(t, false)
	if _, _, err := SessionsStats(context.Background(), db, "u1", ""); err == nil {
		t.Fatalf("expected error due to missing table")
	}
}

func TestSessionsStats_FilterAndMax(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	seedDocument(t, db, "d1", "u1")
	seedDocument(t, db, "d2", "u1")

	count, maxAt, err := SessionsStats(ctx, db, "u1", "")
	if err != nil || count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil, nil), got (%d, %v, %v)", count, maxAt, err)
	}

	a, _ := CreateSession(ctx, db, "d1", "u1")
	b, _ := CreateSession(ctx, db, "d2", "u1")
	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)
	db.Model(&domain.ChatSession{}).Where("id = ?", a.ID).UpdateColumn("updated_at", t1)
	db.Model(&domain.ChatSession{}).Where("id = ?", b.ID).UpdateColumn("updated_at", t2)

	count, maxAt, err = SessionsStats(ctx, db, "u1", "")
	if err != nil || count != 2 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("all: got (%d, %v, %v)", count, maxAt, err)
	}
	count, maxAt, err = SessionsStats(ctx, db, "u1", "d1")
	if err != nil || count != 1 || maxAt == nil || !maxAt.Equal(t1) {
		t.Fatalf("d1: got (%d, %v, %v)", count, maxAt, err)
	}
}

func TestMessagesStats(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	seedDocument(t, db, "d1", "u1")
	s, _ := CreateSession(ctx, db, "d1", "u1")

	if n, at, err := MessagesStats(ctx, db, s.ID); err != nil || n != 0 || at != nil {
		t.Fatalf("empty: (%d, %v, %v)", n, at, err)
	}
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, _ = AppendMessages(ctx, db, s.ID, []domain.Message{{Sender: domain.SenderUser, Text: "a", CreatedAt: ts}, {Sender: domain.SenderAI, Text: "b", CreatedAt: ts.Add(time.Second)}})
	n, at, err := MessagesStats(ctx, db, s.ID)
	if err != nil || n != 2 || at == nil || !at.Equal(ts.Add(time.Second)) {
		t.Fatalf("got (%d, %v, %v)", n, at, err)
	}
}
