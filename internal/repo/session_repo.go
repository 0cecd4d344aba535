package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
)

// SessionSummary is a session row plus its message count and newest message.
type SessionSummary struct {
	Session      domain.ChatSession
	MessageCount int64
	LastMessage  *domain.Message
}

// CreateSession inserts an empty session for (documentID, userID).
func CreateSession(ctx context.Context, db *gorm.DB, documentID, userID string) (*domain.ChatSession, error) {
	now := time.Now().UTC()
	s := &domain.ChatSession{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		UserID:     userID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession fetches a session row without messages.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSession fetches a session and fills Messages in (created_at, seq) order.
func LoadSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error) {
	s, err := GetSession(ctx, db, id)
	if err != nil {
		return nil, err
	}
	msgs, err := ListMessages(ctx, db, id)
	if err != nil {
		return nil, err
	}
	s.Messages = msgs
	return s, nil
}

// ListMessages returns a session's messages in append order.
func ListMessages(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.Message, error) {
	out := []domain.Message{}
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc, seq asc").
		Find(&out).Error
	return out, err
}

// AppendMessages appends msgs to a session in one transaction and bumps the
// session's updated_at. Seq numbers continue from the session's current
// maximum, and a concurrent writer that picked the same number fails on the
// (session_id, seq) unique index instead of overwriting. Returns ErrNotFound
// when the session does not exist.
func AppendMessages(ctx context.Context, db *gorm.DB, sessionID string, msgs []domain.Message) ([]domain.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&domain.ChatSession{}).Where("id = ?", sessionID)
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var s domain.ChatSession
		if err := q.First(&s).Error; err != nil {
			return err
		}

		var maxSeq int64
		if err := tx.Model(&domain.Message{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := range out {
			maxSeq++
			out[i].SessionID = sessionID
			out[i].Seq = maxSeq
			if out[i].ID == "" {
				out[i].ID = uuid.NewString()
			}
			if out[i].CreatedAt.IsZero() {
				out[i].CreatedAt = now
			}
		}
		if err := tx.Create(&out).Error; err != nil {
			return err
		}
		return tx.Model(&domain.ChatSession{}).
			Where("id = ?", sessionID).
			UpdateColumn("updated_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSession removes a session and its messages atomically.
func DeleteSession(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.ChatSession{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// LatestSession returns the most recently updated session for a document and
// user, or ErrNotFound.
func LatestSession(ctx context.Context, db *gorm.DB, documentID, userID string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	err := db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Order("updated_at desc, id asc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessionSummaries returns a user's sessions, newest activity first.
// An empty documentID lists across all documents.
func ListSessionSummaries(ctx context.Context, db *gorm.DB, userID, documentID string) ([]SessionSummary, error) {
	var sessions []domain.ChatSession
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if documentID != "" {
		q = q.Where("document_id = ?", documentID)
	}
	if err := q.Order("updated_at desc, id asc").Find(&sessions).Error; err != nil {
		return nil, err
	}
	out := make([]SessionSummary, len(sessions))
	if len(sessions) == 0 {
		return out, nil
	}

	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
		out[i].Session = s
	}

	var counts []struct {
		SessionID string
		N         int64
	}
	if err := db.WithContext(ctx).Model(&domain.Message{}).
		Select("session_id, COUNT(*) AS n").
		Where("session_id IN ?", ids).
		Group("session_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}

	lastSeq := db.Model(&domain.Message{}).
		Select("session_id, MAX(seq) AS seq").
		Where("session_id IN ?", ids).
		Group("session_id")
	var lasts []domain.Message
	if err := db.WithContext(ctx).
		Table("chat_messages AS m").
		Select("m.*").
		Joins("JOIN (?) AS last ON last.session_id = m.session_id AND last.seq = m.seq", lastSeq).
		Scan(&lasts).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]int, len(out))
	for i := range out {
		byID[out[i].Session.ID] = i
	}
	for _, c := range counts {
		out[byID[c.SessionID]].MessageCount = c.N
	}
	for i := range lasts {
		m := lasts[i]
		out[byID[m.SessionID]].LastMessage = &m
	}
	return out, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }

// GetMessage fetches a single message by id.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// SessionIDsForDocument lists the ids of every session about a document.
func SessionIDsForDocument(ctx context.Context, db *gorm.DB, documentID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&domain.ChatSession{}).
		Where("document_id = ?", documentID).
		Pluck("id", &ids).Error
	return ids, err
}
