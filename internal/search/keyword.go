package search

import (
	"context"
	"regexp"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// fallbackChunks is how many leading chunks are returned when no chunk shares
// a word with the question.
const fallbackChunks = 2

// KeywordIndex scores chunks by how many distinct question words they
// contain. It needs no model and is the fallback when no vector index is
// configured.
//
// Ranking: chunks with at least one shared word, by shared-word count
// descending, ties in storage order, at most k. When nothing matches, the
// first two chunks in storage order are returned so the model still gets
// some context.
type KeywordIndex struct {
	Store ChunkStore
}

// NewKeywordIndex returns a KeywordIndex over store.
func NewKeywordIndex(store ChunkStore) *KeywordIndex {
	return &KeywordIndex{Store: store}
}

func (*KeywordIndex) Name() string { return "keyword" }

func (x *KeywordIndex) Index(ctx context.Context, documentID string, chunks []string) error {
	return x.Store.Save(ctx, documentID, chunks)
}

func (x *KeywordIndex) Delete(ctx context.Context, documentID string) error {
	return x.Store.Remove(ctx, documentID)
}

// Search implements Retriever.
func (x *KeywordIndex) Search(ctx context.Context, documentID, question string, k int) ([]Result, error) {
	chunks, err := x.Store.Load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return rankByOverlap(chunks, question, k), nil
}

// rankByOverlap is the pure ranking step of KeywordIndex.
func rankByOverlap(chunks []string, question string, k int) []Result {
	if len(chunks) == 0 {
		return []Result{}
	}
	if k <= 0 {
		k = 3
	}

	q := tokenize(question)
	type scored struct {
		pos   int
		count int
	}
	matches := make([]scored, 0, len(chunks))
	if len(q) > 0 {
		for i, c := range chunks {
			if n := overlap(q, tokenize(c)); n > 0 {
				matches = append(matches, scored{pos: i, count: n})
			}
		}
	}

	if len(matches) == 0 {
		n := min(fallbackChunks, len(chunks))
		out := make([]Result, n)
		for i := 0; i < n; i++ {
			out[i] = Result{Text: chunks[i]}
		}
		return out
	}

	sort.SliceStable(matches, func(a, b int) bool { return matches[a].count > matches[b].count })
	n := min(k, len(matches))
	out := make([]Result, n)
	for i := 0; i < n; i++ {
		out[i] = Result{Text: chunks[matches[i].pos], Score: float64(matches[i].count)}
	}
	return out
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// tokenize lower-cases s and returns its set of letter/digit runs.
func tokenize(s string) map[string]struct{} {
	// Casers are stateful, so each call gets its own.
	words := wordRE.FindAllString(cases.Lower(language.Und).String(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
