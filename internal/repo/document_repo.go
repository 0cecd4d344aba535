// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Document
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside a transaction. Missing rows surface as ErrNotFound; other
// database errors are returned unchanged.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service layer
// and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateDocument inserts a processed document row. ID and StorageKey must be
// set by the caller because the blob is written before the row.
func CreateDocument(ctx context.Context, db *gorm.DB, d *domain.Document) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = d.CreatedAt
	if d.Status == "" {
		d.Status = domain.DocumentStatusProcessed
	}
	return db.WithContext(ctx).Create(d).Error
}

// GetDocument fetches a document by id regardless of owner. Ownership is
// decided by the caller so that Forbidden and NotFound stay distinct.
func GetDocument(ctx context.Context, db *gorm.DB, id string) (*domain.Document, error) {
	var d domain.Document
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDocuments returns a user's documents, newest first.
func ListDocuments(ctx context.Context, db *gorm.DB, userID string) ([]domain.Document, error) {
	var out []domain.Document
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id asc").
		Find(&out).Error
	return out, err
}

// DeleteDocument removes a document together with its sessions and messages
// in one transaction. The explicit child deletes keep the cascade intact on
// connections where foreign keys are not enforced.
func DeleteDocument(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessions := tx.Model(&domain.ChatSession{}).Select("id").Where("document_id = ?", id)
		if err := tx.Where("session_id IN (?)", sessions).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&domain.ChatSession{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
