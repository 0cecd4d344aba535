package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/pdf-chat-backend/internal/llm"
	"github.com/tbourn/pdf-chat-backend/internal/search"
)

const (
	contextSystemPrompt = "You are a helpful assistant that answers questions based on document content. " +
		"Always base your answer on the provided context. If the context doesn't contain enough information " +
		"to answer the question, say so clearly."
	contextUserPrompt = "Based on the following document content, please answer the question.\n\n" +
		"Document content:\n%s\n\nQuestion: %s\n\n" +
		"Please provide a detailed answer based on the document content above:"

	noContextSystemPrompt = "You are a helpful assistant. The user is asking about a document, " +
		"but no document context is available."
	noContextUserPrompt = "I'd like to ask about a document, but it seems the document content isn't available right now. " +
		"My question is: %s\n\nCan you provide a general helpful response and suggest how I might get a better answer?"

	// ApologyText is returned in place of a model answer when the call fails.
	ApologyText = "I apologize, but I couldn't generate a response at the moment. Please try again."

	placeholderText = "Mock response: I received your message '%s'. " +
		"This is a development response since no language model is configured."

	previewRunes = 100
)

// Answer is the generated reply. Degraded is set when the apology was
// substituted for a failed model call.
type Answer struct {
	Text     string
	Sources  []string
	Degraded bool
}

// Generator turns a question and retrieved chunks into an answer.
type Generator struct {
	// Model may be nil, in which case a fixed placeholder is returned.
	Model   llm.ChatModel
	Timeout time.Duration
}

// Generate never fails: provider errors are logged and replaced with
// ApologyText, keeping the sources computed from chunks.
func (g *Generator) Generate(ctx context.Context, question string, chunks []search.Result) Answer {
	tr := otel.Tracer("services/Generator")
	ctx, span := tr.Start(ctx, "Generate",
		trace.WithAttributes(attribute.Int("chunks", len(chunks))),
	)
	defer span.End()

	sources := Sources(chunks)
	if g.Model == nil {
		return Answer{Text: fmt.Sprintf(placeholderText, question), Sources: sources}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	start := time.Now()
	out, err := g.Model.Complete(ctx, Prompt(question, chunks))
	llmDuration.Observe(time.Since(start).Seconds())

	log := zerolog.Ctx(ctx)
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)):
		llmFailures.WithLabelValues("timeout").Inc()
		log.Error().Err(err).Bool("timeout", true).Dur("limit", g.timeout()).Msg("llm completion timed out")
	case err != nil:
		llmFailures.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("llm completion failed")
	case strings.TrimSpace(out) == "":
		llmFailures.WithLabelValues("empty").Inc()
		log.Warn().Msg("llm returned empty completion")
	default:
		return Answer{Text: strings.TrimSpace(out), Sources: sources}
	}
	span.SetAttributes(attribute.Bool("degraded", true))
	return Answer{Text: ApologyText, Sources: sources, Degraded: true}
}

func (g *Generator) timeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return 30 * time.Second
}

// Prompt builds the system and user turns. With no chunks it tells the model
// that no document context is available.
func Prompt(question string, chunks []search.Result) []llm.Message {
	if len(chunks) == 0 {
		return []llm.Message{
			{Role: llm.RoleSystem, Content: noContextSystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf(noContextUserPrompt, question)},
		}
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: contextSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(contextUserPrompt, strings.Join(texts, "\n\n"), question)},
	}
}

// Sources renders citations as "Chunk N: <preview>".
func Sources(chunks []search.Result) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = fmt.Sprintf("Chunk %d: %s", i+1, Preview(c.Text))
	}
	return out
}

// Preview returns the first 100 runes of s, with "..." appended when cut.
func Preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes]) + "..."
}
