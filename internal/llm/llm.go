// Package llm adapts hosted and local chat-completion models to the single
// operation the answer pipeline needs, and provides an embeddings client for
// the vector index.
package llm

import (
	"context"
	"errors"
)

// Role is the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt turn.
type Message struct {
	Role    Role
	Content string
}

// ChatModel completes a conversation with a single assistant reply.
type ChatModel interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// ErrNoModel is returned by New when the provider has no usable credentials.
var ErrNoModel = errors.New("llm: no model configured")
