package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind error
		msg  string
	}{
		{ErrEmptyQuery, ErrValidation, "Query text is required"},
		{ErrUnsupportedFile, ErrValidation, "Only PDF files are supported"},
		{ErrSessionNotFound, ErrNotFound, "Chat session not found"},
		{ErrSessionForbidden, ErrForbidden, "Access denied to this chat session"},
		{&ValidationError{Msg: "Could not extract text from PDF: no pages", Err: errors.New("x")}, ErrValidation, "Could not extract text from PDF: no pages"},
		{upstream("index chunks", errors.New("qdrant down")), ErrUpstream, "internal server error"},
	}
	for _, c := range cases {
		if !errors.Is(c.err, c.kind) {
			t.Fatalf("%v is not %v", c.err, c.kind)
		}
		if got := Message(c.err); got != c.msg {
			t.Fatalf("Message(%v)=%q want %q", c.err, got, c.msg)
		}
	}
}

func TestUpstreamError(t *testing.T) {
	cause := errors.New("connection reset")
	err := upstream("store blob", cause)
	if !errors.Is(err, cause) || !errors.Is(err, ErrUpstream) {
		t.Fatalf("unwrap chain broken: %v", err)
	}
	if IsTimeout(err) {
		t.Fatal("not a timeout")
	}
	if err.Error() != "store blob: connection reset" {
		t.Fatalf("Error()=%q", err.Error())
	}

	terr := upstream("retrieve", fmt.Errorf("search: %w", context.DeadlineExceeded))
	if !IsTimeout(terr) || !errors.Is(terr, ErrTimeout) {
		t.Fatalf("expected timeout: %v", terr)
	}
	var ue *UpstreamError
	if !errors.As(terr, &ue) || !ue.Timeout() {
		t.Fatalf("errors.As failed: %v", terr)
	}
	if upstream("noop", nil) != nil {
		t.Fatal("nil cause should give nil")
	}
}
