package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/pdf-chat-backend/internal/llm"
	"github.com/tbourn/pdf-chat-backend/internal/search"
)

func TestGenerator_Placeholder(t *testing.T) {
	g := &Generator{}
	a := g.Generate(context.Background(), "what is this?", []search.Result{{Text: "chunk"}})
	want := "Mock response: I received your message 'what is this?'. This is a development response since no language model is configured."
	if a.Text != want {
		t.Fatalf("text=%q", a.Text)
	}
	if len(a.Sources) != 1 || a.Degraded {
		t.Fatalf("answer=%+v", a)
	}
}

func TestGenerator_WithContext(t *testing.T) {
	m := &fakeModel{reply: "  42  "}
	g := &Generator{Model: m}
	chunks := []search.Result{{Text: "alpha"}, {Text: "beta"}}
	a := g.Generate(context.Background(), "q?", chunks)
	if a.Text != "42" || a.Degraded {
		t.Fatalf("answer=%+v", a)
	}
	msgs := m.got[0]
	if len(msgs) != 2 || msgs[0].Role != llm.RoleSystem || msgs[1].Role != llm.RoleUser {
		t.Fatalf("msgs=%+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "based on document content") {
		t.Fatalf("system=%q", msgs[0].Content)
	}
	if !strings.Contains(msgs[1].Content, "Document content:\nalpha\n\nbeta\n\nQuestion: q?") {
		t.Fatalf("user=%q", msgs[1].Content)
	}
	if a.Sources[0] != "Chunk 1: alpha" || a.Sources[1] != "Chunk 2: beta" {
		t.Fatalf("sources=%v", a.Sources)
	}
}

func TestGenerator_NoContext(t *testing.T) {
	m := &fakeModel{reply: "general"}
	a := (&Generator{Model: m}).Generate(context.Background(), "q?", nil)
	if a.Text != "general" || len(a.Sources) != 0 {
		t.Fatalf("answer=%+v", a)
	}
	msgs := m.got[0]
	if !strings.Contains(msgs[0].Content, "no document context is available") {
		t.Fatalf("system=%q", msgs[0].Content)
	}
	if !strings.Contains(msgs[1].Content, "My question is: q?") {
		t.Fatalf("user=%q", msgs[1].Content)
	}
}

func TestGenerator_FailuresApologizeAndKeepSources(t *testing.T) {
	chunks := []search.Result{{Text: "alpha"}}
	for name, m := range map[string]*fakeModel{
		"error":   {err: errors.New("502 from provider")},
		"empty":   {reply: "   "},
		"timeout": {reply: "late", delay: time.Second},
	} {
		g := &Generator{Model: m, Timeout: 20 * time.Millisecond}
		a := g.Generate(context.Background(), "q", chunks)
		if a.Text != ApologyText || !a.Degraded {
			t.Fatalf("%s: answer=%+v", name, a)
		}
		if len(a.Sources) != 1 {
			t.Fatalf("%s: sources lost", name)
		}
	}
}

func TestPreview(t *testing.T) {
	short := strings.Repeat("é", 100)
	if Preview(short) != short {
		t.Fatal("100 runes should not be cut")
	}
	long := strings.Repeat("é", 101)
	got := Preview(long)
	if got != short+"..." {
		t.Fatalf("got %q", got)
	}
}
