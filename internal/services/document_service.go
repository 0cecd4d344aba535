// Package services – DocumentService
//
// DocumentService runs the ingestion pipeline (extract, store, chunk, index,
// persist) and owns the document lifecycle. Failures after the blob has been
// written undo the earlier steps so no half-ingested document is visible.
package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pdf-chat-backend/internal/chunk"
	"github.com/tbourn/pdf-chat-backend/internal/domain"
	"github.com/tbourn/pdf-chat-backend/internal/events"
	"github.com/tbourn/pdf-chat-backend/internal/extract"
	"github.com/tbourn/pdf-chat-backend/internal/repo"
	"github.com/tbourn/pdf-chat-backend/internal/search"
	"github.com/tbourn/pdf-chat-backend/internal/storage"
)

// UploadResult is returned by Upload.
type UploadResult struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	PageCount  int    `json:"page_count"`
	TextLength int    `json:"text_length"`
	ChunkCount int    `json:"chunk_count"`
}

// DocumentService ingests and manages documents.
type DocumentService struct {
	DB       *gorm.DB
	Store    storage.Store
	Index    search.Indexer
	Events   events.Publisher
	Sessions *SessionService

	ChunkSize      int
	ChunkOverlap   int
	MaxUploadBytes int64
}

func (s *DocumentService) publish(ctx context.Context, e events.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, e); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", e.Type).Msg("event publish failed")
	}
}

// Upload validates and ingests a PDF for userID.
func (s *DocumentService) Upload(ctx context.Context, userID, filename string, r io.Reader) (*UploadResult, error) {
	ctx, span := otel.Tracer("services/DocumentService").Start(ctx, "Upload",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("filename", filename),
		),
	)
	defer span.End()

	filename = filepath.Base(strings.TrimSpace(filename))
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, ErrUnsupportedFile
	}

	limit := s.MaxUploadBytes
	if limit <= 0 {
		limit = 25 << 20
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, upstream("read upload", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > limit {
		return nil, ErrFileTooLarge
	}

	res, err := extract.Bytes(data)
	if err != nil {
		var ee *extract.ExtractionError
		if errors.As(err, &ee) {
			return nil, &ValidationError{Msg: "Could not extract text from PDF: " + ee.Reason, Err: err}
		}
		return nil, upstream("extract", err)
	}
	span.SetAttributes(attribute.Int("pages", res.PageCount))

	docID := uuid.NewString()
	key := storage.DocumentKey(userID, docID)
	if err := s.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		return nil, upstream("store blob", err)
	}

	chunks := chunk.Split(chunk.Normalize(res.Text), s.ChunkSize, s.ChunkOverlap)
	if err := s.Index.Index(ctx, docID, chunks); err != nil {
		// Batched indexers may have stored part of the chunks.
		s.removeIndex(ctx, docID)
		s.removeBlob(ctx, key)
		return nil, upstream("index chunks", err)
	}

	doc := &domain.Document{
		ID:         docID,
		UserID:     userID,
		Filename:   filename,
		PageCount:  res.PageCount,
		TextLength: res.TextLength(),
		ChunkCount: len(chunks),
		StorageKey: key,
		Status:     domain.DocumentStatusProcessed,
	}
	if err := repo.CreateDocument(ctx, s.DB, doc); err != nil {
		s.removeIndex(ctx, docID)
		s.removeBlob(ctx, key)
		return nil, upstream("save document", err)
	}

	documentsIngested.Inc()
	zerolog.Ctx(ctx).Info().
		Str("document_id", docID).
		Int("pages", doc.PageCount).
		Int("chunks", doc.ChunkCount).
		Msg("document processed")
	s.publish(ctx, events.Event{
		Type:       events.DocumentProcessed,
		UserID:     userID,
		DocumentID: docID,
		Data:       map[string]any{"page_count": doc.PageCount, "chunk_count": doc.ChunkCount},
	})

	return &UploadResult{
		DocumentID: docID,
		Filename:   filename,
		Status:     doc.Status,
		PageCount:  doc.PageCount,
		TextLength: doc.TextLength,
		ChunkCount: doc.ChunkCount,
	}, nil
}

func (s *DocumentService) removeIndex(ctx context.Context, documentID string) {
	if err := s.Index.Delete(ctx, documentID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("document_id", documentID).Msg("index cleanup failed")
	}
}

func (s *DocumentService) removeBlob(ctx context.Context, key string) {
	if err := s.Store.Delete(ctx, key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("blob cleanup failed")
	}
}

// List returns the user's documents, newest first.
func (s *DocumentService) List(ctx context.Context, userID string) ([]domain.Document, error) {
	ctx, span := otel.Tracer("services/DocumentService").Start(ctx, "List",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	docs, err := repo.ListDocuments(ctx, s.DB, userID)
	if err != nil {
		return nil, upstream("list documents", err)
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return docs, nil
}

// Get returns a document owned by userID.
func (s *DocumentService) Get(ctx context.Context, userID, id string) (*domain.Document, error) {
	doc, err := repo.GetDocument(ctx, s.DB, id)
	if repo.IsNotFound(err) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, upstream("get document", err)
	}
	if doc.UserID != userID {
		return nil, ErrDocumentForbidden
	}
	return doc, nil
}

// Delete removes the row first (sessions and messages cascade), then the
// index namespace and the blob. A failed cleanup leaves an unreachable orphan
// that is logged, never a visible document without its file.
func (s *DocumentService) Delete(ctx context.Context, userID, id string) error {
	ctx, span := otel.Tracer("services/DocumentService").Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("document.id", id),
		),
	)
	defer span.End()

	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	sessionIDs, err := repo.SessionIDsForDocument(ctx, s.DB, id)
	if err != nil {
		return upstream("list document sessions", err)
	}
	if err := repo.DeleteDocument(ctx, s.DB, id); err != nil {
		if repo.IsNotFound(err) {
			return ErrDocumentNotFound
		}
		return upstream("delete document", err)
	}
	if s.Sessions != nil {
		s.Sessions.Forget(ctx, sessionIDs...)
	}

	s.removeIndex(ctx, id)
	s.removeBlob(ctx, doc.StorageKey)

	s.publish(ctx, events.Event{Type: events.DocumentDeleted, UserID: userID, DocumentID: id})
	return nil
}

// Open streams the stored PDF. The caller closes the reader.
func (s *DocumentService) Open(ctx context.Context, userID, id string) (*domain.Document, io.ReadCloser, error) {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.Store.Open(ctx, doc.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, nil, upstream("open blob", err)
	}
	return doc, rc, nil
}

// Text re-extracts the document's text from the stored blob.
func (s *DocumentService) Text(ctx context.Context, userID, id string) (string, error) {
	ctx, span := otel.Tracer("services/DocumentService").Start(ctx, "Text",
		trace.WithAttributes(attribute.String("document.id", id)),
	)
	defer span.End()

	_, rc, err := s.Open(ctx, userID, id)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", upstream("read blob", err)
	}
	res, err := extract.Bytes(data)
	if err != nil {
		return "", upstream("extract", err)
	}
	return res.Text, nil
}
