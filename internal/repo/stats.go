package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
)

// SessionsStats returns the number of sessions a user has (optionally for one
// document) and the greatest updated_at among them. It backs weak ETags on the
// session listing endpoints. maxUpdatedAt is nil when there are no rows.
func SessionsStats(ctx context.Context, db *gorm.DB, userID, documentID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.ChatSession{}).Where("user_id = ?", userID)
	if documentID != "" {
		q = q.Where("document_id = ?", documentID)
	}
	return countAndNewest(q, "updated_at")
}

// MessagesStats returns the message count of a session and the newest
// created_at, or (0, nil) for an empty session.
func MessagesStats(ctx context.Context, db *gorm.DB, sessionID string) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("session_id = ?", sessionID)
	return countAndNewest(q, "created_at")
}

// countAndNewest counts q's rows and reads the newest value of column by
// ordering rather than MAX(), which sqlite hands back as TEXT.
func countAndNewest(q *gorm.DB, column string) (int64, *time.Time, error) {
	var n int64
	if err := q.Session(&gorm.Session{}).Count(&n).Error; err != nil {
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, nil
	}
	var newest []time.Time
	if err := q.Session(&gorm.Session{}).Order(column+" DESC").Limit(1).Pluck(column, &newest).Error; err != nil {
		return 0, nil, err
	}
	if len(newest) == 0 {
		return n, nil, nil
	}
	return n, &newest[0], nil
}
