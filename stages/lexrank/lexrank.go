// Package lexrank implements a reranker stage that reorders retrieved
// contexts by lexical overlap with the query. It blends term overlap
// with the retriever's original score so embedding similarity still
// counts when the query shares few literal terms with a passage.
package lexrank

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/c360studio/ragline/plugin/stage"
)

// Version is the plugin version reported to the registry.
const Version = "1.0.0"

// overlapWeight balances lexical overlap against the retriever score.
const overlapWeight = 0.7

// Reranker reorders contexts by query term overlap.
type Reranker struct{}

// New creates a lexical reranker.
func New() *Reranker {
	return &Reranker{}
}

// Metadata implements stage.Plugin.
func (r *Reranker) Metadata() stage.Metadata {
	return stage.Metadata{
		Name:    "lexical",
		Version: Version,
		Type:    stage.CategoryReranker,
	}
}

// Rerank implements stage.Reranker. Candidates come back sorted by the
// blended score, best first; the input slice is not modified.
func (r *Reranker) Rerank(_ context.Context, query string, candidates []stage.Context) ([]stage.Context, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("lexrank: empty query")
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryTerms := termSet(query)
	out := make([]stage.Context, len(candidates))
	copy(out, candidates)

	for i := range out {
		overlap := overlapRatio(queryTerms, termSet(out[i].Text))
		out[i].Score = overlapWeight*overlap + (1-overlapWeight)*clamp01(out[i].Score)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}

// termSet tokenizes text into a set of lowercased terms.
func termSet(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, tok := range tokenize(text) {
		terms[tok] = struct{}{}
	}
	return terms
}

// overlapRatio returns the fraction of query terms present in the candidate.
func overlapRatio(query, candidate map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for term := range query {
		if _, ok := candidate[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
