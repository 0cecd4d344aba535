// Package search indexes document chunks and retrieves the ones most relevant
// to a question. Two backends implement the same capability: a Qdrant vector
// index fed by an embedding model, and a keyword-overlap scorer over chunks
// kept in JSON files. One is chosen at startup.
package search

import "context"

// Result is a retrieved chunk with its relevance score. Higher is better; the
// scale depends on the backend.
type Result struct {
	Text  string
	Score float64
}

// Retriever returns up to k chunks of one document, most relevant first. A
// document that was never indexed yields an empty result and no error.
type Retriever interface {
	Search(ctx context.Context, documentID, question string, k int) ([]Result, error)
}

// Indexer stores and removes a document's chunks.
type Indexer interface {
	Index(ctx context.Context, documentID string, chunks []string) error
	Delete(ctx context.Context, documentID string) error
}

// Backend is a complete index: writes on upload, reads on query.
type Backend interface {
	Retriever
	Indexer
	Name() string
}
