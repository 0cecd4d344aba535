// Package extract turns PDF bytes into plain text, one string per page.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrNoPages is wrapped by ExtractionError for documents with zero pages.
	ErrNoPages = errors.New("pdf has no pages")
	// ErrNoText is wrapped by ExtractionError when no page yields any text,
	// which is typical for scanned documents without a text layer.
	ErrNoText = errors.New("pdf has no extractable text")
)

// ExtractionError reports that a file could not be turned into text.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return "extract: " + e.Reason
	}
	return fmt.Sprintf("extract: %s: %v", e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Result is the text content of a PDF.
type Result struct {
	Text      string   // pages joined by "\n"
	Pages     []string // per-page plain text, index 0 is page 1
	PageCount int
}

// TextLength is the number of characters in Text.
func (r *Result) TextLength() int { return utf8.RuneCountInString(r.Text) }

// Extract parses the PDF available through r. Unparsable input, a document
// without pages, and a document without any text all fail with
// *ExtractionError.
func Extract(r io.ReaderAt, size int64) (res *Result, err error) {
	// The parser panics on some malformed object graphs.
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &ExtractionError{Reason: "malformed pdf", Err: fmt.Errorf("%v", p)}
		}
	}()

	if size <= 0 {
		return nil, &ExtractionError{Reason: "empty file"}
	}
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, &ExtractionError{Reason: "not a readable pdf", Err: err}
	}

	n := doc.NumPage()
	if n == 0 {
		return nil, &ExtractionError{Reason: "no pages", Err: ErrNoPages}
	}

	pages := make([]string, 0, n)
	hasText := false
	for i := 1; i <= n; i++ {
		p := doc.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			return nil, &ExtractionError{Reason: fmt.Sprintf("page %d", i), Err: err}
		}
		if strings.TrimSpace(txt) != "" {
			hasText = true
		}
		pages = append(pages, txt)
	}
	if !hasText {
		return nil, &ExtractionError{Reason: "no text", Err: ErrNoText}
	}

	return &Result{
		Text:      strings.Join(pages, "\n"),
		Pages:     pages,
		PageCount: n,
	}, nil
}

// Bytes is Extract over an in-memory file.
func Bytes(b []byte) (*Result, error) {
	return Extract(bytes.NewReader(b), int64(len(b)))
}

// File is Extract over a file on disk.
func File(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Extract(f, st.Size())
}
