package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// ChunkStore persists the ordered chunk list of a document.
type ChunkStore interface {
	Save(ctx context.Context, documentID string, chunks []string) error
	// Load returns (nil, nil) when nothing is stored for documentID.
	Load(ctx context.Context, documentID string) ([]string, error)
	Remove(ctx context.Context, documentID string) error
}

// chunkFile is the on-disk layout of doc_{id}.json.
type chunkFile struct {
	DocumentID string    `json:"document_id"`
	Chunks     []string  `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// FileChunkStore keeps one JSON file per document under Dir.
type FileChunkStore struct {
	Dir string
}

// NewFileChunkStore creates dir if needed.
func NewFileChunkStore(dir string) (*FileChunkStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	return &FileChunkStore{Dir: dir}, nil
}

func (s *FileChunkStore) path(documentID string) (string, error) {
	if !safeID.MatchString(documentID) {
		return "", fmt.Errorf("invalid document id %q", documentID)
	}
	return filepath.Join(s.Dir, "doc_"+documentID+".json"), nil
}

// Save writes the chunks atomically (temp file + rename).
func (s *FileChunkStore) Save(_ context.Context, documentID string, chunks []string) error {
	p, err := s.path(documentID)
	if err != nil {
		return err
	}
	if chunks == nil {
		chunks = []string{}
	}
	b, err := json.MarshalIndent(chunkFile{DocumentID: documentID, Chunks: chunks, CreatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, ".doc_*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Load reads a document's chunks in storage order.
func (s *FileChunkStore) Load(_ context.Context, documentID string) ([]string, error) {
	p, err := s.path(documentID)
	if err != nil {
		return nil, nil
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f chunkFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
	}
	return f.Chunks, nil
}

// Remove deletes a document's file; a missing file is not an error.
func (s *FileChunkStore) Remove(_ context.Context, documentID string) error {
	p, err := s.path(documentID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
