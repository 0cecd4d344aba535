package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Document{}).TableName():    "documents",
		(ChatSession{}).TableName(): "chat_sessions",
		(Message{}).TableName():     "chat_messages",
		(Idempotency{}).TableName(): "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	for _, mdl := range Models() {
		if !m.HasTable(mdl) {
			t.Fatalf("expected table for %T to exist", mdl)
		}
	}
	if !m.HasIndex(&Document{}, "idx_user_docs") {
		t.Fatalf("expected index idx_user_docs on documents")
	}
	if !m.HasIndex(&ChatSession{}, "idx_doc_user_sessions") {
		t.Fatalf("expected index idx_doc_user_sessions on chat_sessions")
	}
	if !m.HasIndex(&Message{}, "ux_session_seq") {
		t.Fatalf("expected unique index ux_session_seq on chat_messages")
	}
	if !m.HasIndex(&Idempotency{}, "ux_user_scope_key") {
		t.Fatalf("expected unique index ux_user_scope_key on idempotency")
	}
}

func seedSession(t *testing.T, db *gorm.DB) (Document, ChatSession) {
	t.Helper()
	now := time.Now().UTC()
	doc := Document{ID: "d1", UserID: "u1", Filename: "a.pdf", StorageKey: "documents/u1/d1.pdf", Status: DocumentStatusProcessed, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(&doc).Error; err != nil {
		t.Fatalf("insert doc: %v", err)
	}
	s := ChatSession{ID: "s1", DocumentID: "d1", UserID: "u1", CreatedAt: now, UpdatedAt: now}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return doc, s
}

func TestMessage_SourcesStoredAsJSON(t *testing.T) {
	db := newDomainDB(t)
	seedSession(t, db)

	in := Message{ID: "m1", SessionID: "s1", Seq: 1, Sender: SenderAI, Text: "answer",
		Sources: []string{"Chunk 1: alpha...", "Chunk 2: beta"}, CreatedAt: time.Now().UTC()}
	if err := db.Create(&in).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}

	var out Message
	if err := db.First(&out, "id = ?", "m1").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out.Sources) != 2 || out.Sources[0] != "Chunk 1: alpha..." || out.Sources[1] != "Chunk 2: beta" {
		t.Fatalf("sources mismatch: %#v", out.Sources)
	}
}

func TestMessage_SenderCheckAndSeqUnique(t *testing.T) {
	db := newDomainDB(t)
	seedSession(t, db)
	now := time.Now().UTC()

	bad := Message{ID: "mx", SessionID: "s1", Seq: 1, Sender: "assistant", Text: "x", CreatedAt: now}
	if err := db.Create(&bad).Error; err == nil {
		t.Fatalf("expected check constraint violation for sender=assistant")
	}

	if err := db.Create(&Message{ID: "m1", SessionID: "s1", Seq: 1, Sender: SenderUser, Text: "a", CreatedAt: now}).Error; err != nil {
		t.Fatalf("insert m1: %v", err)
	}
	if err := db.Create(&Message{ID: "m2", SessionID: "s1", Seq: 1, Sender: SenderAI, Text: "b", CreatedAt: now}).Error; err == nil {
		t.Fatalf("expected unique violation on (session_id, seq)")
	}
}

func TestCascades_DocumentToSessionsToMessages(t *testing.T) {
	db := newDomainDB(t)
	seedSession(t, db)
	now := time.Now().UTC()
	for i, sender := range []string{SenderUser, SenderAI} {
		m := Message{ID: fmt.Sprintf("m%d", i), SessionID: "s1", Seq: int64(i + 1), Sender: sender, Text: "t", CreatedAt: now}
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}

	if err := db.Delete(&Document{}, "id = ?", "d1").Error; err != nil {
		t.Fatalf("delete doc: %v", err)
	}
	var cnt int64
	db.Model(&ChatSession{}).Where("document_id = ?", "d1").Count(&cnt)
	if cnt != 0 {
		t.Fatalf("expected sessions to cascade-delete, got %d", cnt)
	}
	db.Model(&Message{}).Where("session_id = ?", "s1").Count(&cnt)
	if cnt != 0 {
		t.Fatalf("expected messages to cascade-delete, got %d", cnt)
	}
}

func TestIdempotency_UniquePerUserScopeKey(t *testing.T) {
	db := newDomainDB(t)
	exp := time.Now().Add(time.Hour).UTC()

	first := Idempotency{ID: "i1", UserID: "u1", Scope: "/api/chat/query", Key: "k", SessionID: "s", MessageID: "m", ExpiresAt: exp}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := first
	dup.ID = "i2"
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected unique violation for same (user, scope, key)")
	}
	other := first
	other.ID, other.UserID = "i3", "u2"
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("different user should be allowed: %v", err)
	}
}
