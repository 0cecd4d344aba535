// Package domain defines the persistence models for documents, chat sessions,
// and messages. These types are mapped with GORM and shared by the repository
// and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Sender values for Message.Sender.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// DocumentStatusProcessed marks a document whose text has been extracted,
// chunked, and indexed.
const DocumentStatusProcessed = "processed"

// Document is an uploaded PDF owned by a user. It is immutable once processed.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owner; indexed for listing.
//   - Filename: original client-side file name.
//   - PageCount / TextLength / ChunkCount: extraction statistics.
//   - StorageKey: blob key, "documents/{user}/{id}.pdf".
//   - Status: processing status ("processed").
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Document struct {
	ID         string    `json:"document_id" gorm:"type:char(36);primaryKey"`
	UserID     string    `json:"user_id"     gorm:"type:varchar(64);not null;index:idx_user_docs,priority:1"`
	Filename   string    `json:"filename"    gorm:"type:varchar(255);not null"`
	PageCount  int       `json:"page_count"  gorm:"not null;default:0"`
	TextLength int       `json:"text_length" gorm:"not null;default:0"`
	ChunkCount int       `json:"chunk_count" gorm:"not null;default:0"`
	StorageKey string    `json:"-"           gorm:"type:varchar(512);not null"`
	Status     string    `json:"status"      gorm:"type:varchar(32);not null;default:'processed'"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index:idx_user_docs,priority:2"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string { return "documents" }

// ChatSession is a conversation thread about one document, owned by one user.
// Deleting the document removes its sessions.
type ChatSession struct {
	ID         string    `json:"session_id"  gorm:"type:char(36);primaryKey"`
	DocumentID string    `json:"document_id" gorm:"type:char(36);not null;index:idx_doc_user_sessions,priority:1"`
	UserID     string    `json:"user_id"     gorm:"type:varchar(64);not null;index:idx_doc_user_sessions,priority:2;index:idx_user_sessions"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"  gorm:"index"`

	// Messages is filled by the repository in (created_at, seq) order.
	Messages []Message `json:"messages,omitempty" gorm:"-"`

	Document Document `json:"-" gorm:"foreignKey:DocumentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatSession.
func (ChatSession) TableName() string { return "chat_sessions" }

// Message is a single immutable turn inside a session.
//
// Fields:
//   - ID: UUID primary key.
//   - SessionID: owning session (cascade on delete).
//   - Seq: per-session insertion counter, unique with SessionID.
//   - Sender: "user" or "ai" (DB check constraint).
//   - Text: message body.
//   - Sources: chunk previews cited by an ai message, stored as JSON.
//   - CreatedAt: append time.
type Message struct {
	ID        string                      `json:"message_id" gorm:"type:char(36);primaryKey"`
	SessionID string                      `json:"session_id" gorm:"type:char(36);not null;uniqueIndex:ux_session_seq,priority:1"`
	Seq       int64                       `json:"-"          gorm:"not null;uniqueIndex:ux_session_seq,priority:2"`
	Sender    string                      `json:"sender"     gorm:"type:varchar(8);not null;check:sender IN ('user','ai')"`
	Text      string                      `json:"text"       gorm:"type:text;not null"`
	Sources   datatypes.JSONSlice[string] `json:"sources"`
	CreatedAt time.Time                   `json:"timestamp"`

	Session ChatSession `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "chat_messages" }

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{&Document{}, &ChatSession{}, &Message{}, &Idempotency{}}
}
