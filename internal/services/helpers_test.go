package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
	"github.com/tbourn/pdf-chat-backend/internal/events"
	"github.com/tbourn/pdf-chat-backend/internal/llm"
	"github.com/tbourn/pdf-chat-backend/internal/repo"
	"github.com/tbourn/pdf-chat-backend/internal/search"
	"github.com/tbourn/pdf-chat-backend/internal/storage"
)

// newSvcDB opens a migrated private in-memory database with a single
// connection, so shared-cache table locks never surface as test flakes.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedDoc(t *testing.T, db *gorm.DB, id, userID string) {
	t.Helper()
	d := &domain.Document{ID: id, UserID: userID, Filename: id + ".pdf", StorageKey: storage.DocumentKey(userID, id)}
	if err := repo.CreateDocument(context.Background(), db, d); err != nil {
		t.Fatalf("seed document: %v", err)
	}
}

// ----- fakes -----

type fakeModel struct {
	mu    sync.Mutex
	reply string
	err   error
	delay time.Duration
	got   [][]llm.Message
}

func (f *fakeModel) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	f.mu.Lock()
	f.got = append(f.got, msgs)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type fakeRetriever struct {
	results []search.Result
	err     error
	delay   time.Duration
}

func (f *fakeRetriever) Search(ctx context.Context, _, _ string, k int) ([]search.Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > k {
		return f.results[:k], nil
	}
	return f.results, nil
}

type failingIndexer struct {
	indexErr  error
	deleteErr error
	deleted   []string
}

func (f *failingIndexer) Index(context.Context, string, []string) error { return f.indexErr }
func (f *failingIndexer) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// memCache is an in-process cache.SessionCache.
type memCache struct {
	mu   sync.Mutex
	m    map[string]domain.ChatSession
	hits int
}

func (c *memCache) Get(_ context.Context, id string) (*domain.ChatSession, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[id]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	cp := s
	cp.Messages = append([]domain.Message(nil), s.Messages...)
	return &cp, true, nil
}

func (c *memCache) Set(_ context.Context, s *domain.ChatSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]domain.ChatSession{}
	}
	cp := *s
	cp.Messages = append([]domain.Message(nil), s.Messages...)
	c.m[s.ID] = cp
	return nil
}

func (c *memCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	return nil
}

// stack wires every service over one database, a temp-dir blob store, and
// the keyword index.
type stack struct {
	db       *gorm.DB
	store    *storage.LocalStore
	index    *search.KeywordIndex
	pub      *recordingPublisher
	model    *fakeModel
	docs     *DocumentService
	sessions *SessionService
	query    *QueryService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	db := newSvcDB(t)
	store, err := storage.NewLocalStore(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	chunks, err := search.NewFileChunkStore(filepath.Join(dir, "index"))
	if err != nil {
		t.Fatalf("chunk store: %v", err)
	}
	index := search.NewKeywordIndex(chunks)
	pub := &recordingPublisher{}
	model := &fakeModel{reply: "The answer."}
	sessions := NewSessionService(db, nil)

	return &stack{
		db: db, store: store, index: index, pub: pub, model: model, sessions: sessions,
		docs: &DocumentService{
			DB: db, Store: store, Index: index, Events: pub, Sessions: sessions,
			ChunkSize: 40, ChunkOverlap: 5,
		},
		query: &QueryService{
			DB: db, Sessions: sessions, Retriever: index, Events: pub,
			Generator:     &Generator{Model: model, Timeout: time.Second},
			K:             3,
			MaxQueryRunes: 100,
		},
	}
}
