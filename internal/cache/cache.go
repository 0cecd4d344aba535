// Package cache keeps read-through copies of chat sessions in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
)

// SessionCache stores fully loaded sessions keyed by id.
type SessionCache interface {
	Get(ctx context.Context, sessionID string) (*domain.ChatSession, bool, error)
	Set(ctx context.Context, s *domain.ChatSession) error
	Delete(ctx context.Context, sessionID string) error
}

// Nop never hits.
type Nop struct{}

func (Nop) Get(context.Context, string) (*domain.ChatSession, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, *domain.ChatSession) error                 { return nil }
func (Nop) Delete(context.Context, string) error                           { return nil }

// NewClient dials Redis and pings it.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}
	return client, nil
}

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisSessionCache is a SessionCache over go-redis.
type RedisSessionCache struct {
	client kv
	ttl    time.Duration
}

// NewRedisSessionCache uses ttl for every entry; ttl <= 0 means 10 minutes.
func NewRedisSessionCache(client *redis.Client, ttl time.Duration) *RedisSessionCache {
	return newRedisSessionCache(client, ttl)
}

func newRedisSessionCache(client kv, ttl time.Duration) *RedisSessionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisSessionCache{client: client, ttl: ttl}
}

// entry keeps Seq, which the public JSON shape of Message omits.
type entry struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	UserID     string         `json:"user_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Messages   []entryMessage `json:"messages"`
}

type entryMessage struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *RedisSessionCache) Get(ctx context.Context, sessionID string) (*domain.ChatSession, bool, error) {
	raw, err := c.client.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get session failed: %w", err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached session failed: %w", err)
	}
	s := &domain.ChatSession{
		ID:         e.ID,
		DocumentID: e.DocumentID,
		UserID:     e.UserID,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
		Messages:   make([]domain.Message, len(e.Messages)),
	}
	for i, m := range e.Messages {
		s.Messages[i] = domain.Message{
			ID:        m.ID,
			SessionID: e.ID,
			Seq:       m.Seq,
			Sender:    m.Sender,
			Text:      m.Text,
			Sources:   m.Sources,
			CreatedAt: m.CreatedAt,
		}
	}
	return s, true, nil
}

func (c *RedisSessionCache) Set(ctx context.Context, s *domain.ChatSession) error {
	e := entry{
		ID:         s.ID,
		DocumentID: s.DocumentID,
		UserID:     s.UserID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		Messages:   make([]entryMessage, len(s.Messages)),
	}
	for i, m := range s.Messages {
		e.Messages[i] = entryMessage{
			ID:        m.ID,
			Seq:       m.Seq,
			Sender:    m.Sender,
			Text:      m.Text,
			Sources:   m.Sources,
			CreatedAt: m.CreatedAt,
		}
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal session cache failed: %w", err)
	}
	if err := c.client.Set(ctx, key(s.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session failed: %w", err)
	}
	return nil
}

func (c *RedisSessionCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete session failed: %w", err)
	}
	return nil
}

func key(sessionID string) string { return "chat:session:" + sessionID }
