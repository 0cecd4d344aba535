package repo

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
)

// newRepoDB opens a private in-memory database. With migrate=true every
// model is migrated; otherwise the schema is empty so error paths can be hit.
func newRepoDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if migrate {
		if err := db.AutoMigrate(domain.Models()...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedDocument(t *testing.T, db *gorm.DB, id, userID string) *domain.Document {
	t.Helper()
	d := &domain.Document{ID: id, UserID: userID, Filename: id + ".pdf", StorageKey: "documents/" + userID + "/" + id + ".pdf", PageCount: 1, TextLength: 10}
	if err := CreateDocument(context.Background(), db, d); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return d
}
