package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t\n"} {
		if got := Split(in, 500, 50); len(got) != 0 {
			t.Fatalf("Split(%q) = %d chunks; want 0", in, len(got))
		}
	}
}

func TestSplit_WindowsAndOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 120) // 1200 chars
	got := Split(text, 500, 50)
	// starts at 0, 450, 900 -> third window is 300 long
	if len(got) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(got))
	}
	if len(got[0]) != 500 || len(got[1]) != 500 || len(got[2]) != 300 {
		t.Fatalf("unexpected sizes: %d %d %d", len(got[0]), len(got[1]), len(got[2]))
	}
	if got[0][450:] != got[1][:50] {
		t.Fatalf("overlap mismatch between chunk 0 and 1")
	}
	if !strings.HasSuffix(text, got[2]) {
		t.Fatalf("last chunk must end the text")
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	got := Split("hello world", 500, 50)
	if len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("unexpected: %#v", got)
	}
}

func TestSplit_ExactMultipleHasNoTinyTail(t *testing.T) {
	text := strings.Repeat("x", 950) // 0..500, 450..950
	got := Split(text, 500, 50)
	if len(got) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(got))
	}
}

func TestSplit_RuneSafe(t *testing.T) {
	text := strings.Repeat("é漢🙂", 200) // 600 runes, multi-byte
	got := Split(text, 100, 10)
	for i, c := range got {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
	}
	if first := []rune(got[0]); string(first[90:]) != string([]rune(got[1])[:10]) {
		t.Fatalf("rune overlap mismatch")
	}
}

func TestSplit_ClampsBadGeometry(t *testing.T) {
	text := strings.Repeat("a", 20)
	// overlap >= size is clamped to size-1: step 1, terminates.
	got := Split(text, 5, 9)
	if len(got) != 16 {
		t.Fatalf("want 16 chunks with step 1, got %d", len(got))
	}
	if got := Split(text, 0, -3); len(got) != 1 {
		t.Fatalf("size<=0 should use default size, got %d chunks", len(got))
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"ligature", "ﬁnd the ﬂow", "find the flow"},
		{"crlf and spaces", "a  b\t\tc\r\nd", "a b c\nd"},
		{"dehyphenate", "extrac-\ntion works", "extraction works"},
		{"keep dash before blank", "well-\n\nnext", "well-\n\nnext"},
		{"collapse blank lines", "\n\npara one\n\n\n\npara two\n\n", "para one\n\npara two"},
		{"number dash kept", "page 3-\n4", "page 3-\n4"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Fatalf("Normalize(%q) = %q; want %q", tc.in, got, tc.want)
			}
		})
	}
}
