package extract

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbourn/pdf-chat-backend/internal/extract/extracttest"
)

func TestBytes_ThreePages(t *testing.T) {
	res, err := Bytes(extracttest.PDF("alpha page", "beta page", "gamma page"))
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if res.PageCount != 3 || len(res.Pages) != 3 {
		t.Fatalf("want 3 pages, got %d/%d", res.PageCount, len(res.Pages))
	}
	if res.TextLength() == 0 {
		t.Fatalf("expected text")
	}
	for _, w := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(res.Text, w) {
			t.Fatalf("text %q missing %q", res.Text, w)
		}
	}
	if !strings.Contains(res.Pages[1], "beta") {
		t.Fatalf("page 2 = %q", res.Pages[1])
	}
}

func TestBytes_ZeroPages(t *testing.T) {
	_, err := Bytes(extracttest.PDF())
	var xe *ExtractionError
	if !errors.As(err, &xe) || !errors.Is(err, ErrNoPages) {
		t.Fatalf("expected ExtractionError wrapping ErrNoPages, got %v", err)
	}
}

func TestBytes_NotAPDF(t *testing.T) {
	for name, in := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("definitely not a pdf, just some words"),
		"header":  []byte("%PDF-1.4\nbroken"),
	} {
		t.Run(name, func(t *testing.T) {
			res, err := Bytes(in)
			var xe *ExtractionError
			if res != nil || !errors.As(err, &xe) {
				t.Fatalf("expected ExtractionError, got res=%v err=%v", res, err)
			}
		})
	}
}

func TestBytes_BlankPages(t *testing.T) {
	_, err := Bytes(extracttest.PDF(" ", ""))
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, extracttest.PDF("on disk"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := File(path)
	if err != nil || res.PageCount != 1 || !strings.Contains(res.Text, "disk") {
		t.Fatalf("File: %+v %v", res, err)
	}
	if _, err := File(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestExtractionError_Message(t *testing.T) {
	e := &ExtractionError{Reason: "no pages", Err: ErrNoPages}
	if !strings.Contains(e.Error(), "no pages") || errors.Unwrap(e) != ErrNoPages {
		t.Fatalf("unexpected error formatting: %q", e.Error())
	}
	if (&ExtractionError{Reason: "empty file"}).Error() != "extract: empty file" {
		t.Fatalf("unexpected bare message")
	}
}
