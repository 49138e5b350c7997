package lexrank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ragline/plugin/stage"
)

func TestMetadata(t *testing.T) {
	md := New().Metadata()
	assert.Equal(t, "lexical", md.Name)
	assert.Equal(t, stage.CategoryReranker, md.Type)
}

func TestRerankPrefersLexicalMatch(t *testing.T) {
	candidates := []stage.Context{
		{Text: "entirely unrelated passage about cooking", Score: 0.9},
		{Text: "the adaptive batch processor groups items by token budget", Score: 0.5},
	}

	out, err := New().Rerank(context.Background(), "how does the batch processor group items", candidates)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Contains(t, out[0].Text, "batch processor")
}

func TestRerankDoesNotMutateInput(t *testing.T) {
	candidates := []stage.Context{
		{Text: "alpha", Score: 0.1},
		{Text: "beta", Score: 0.2},
	}
	_, err := New().Rerank(context.Background(), "beta", candidates)
	require.NoError(t, err)
	assert.Equal(t, 0.1, candidates[0].Score)
	assert.Equal(t, "alpha", candidates[0].Text)
}

func TestRerankEmptyQuery(t *testing.T) {
	_, err := New().Rerank(context.Background(), "   ", []stage.Context{{Text: "x"}})
	assert.Error(t, err)
}

func TestRerankNoCandidates(t *testing.T) {
	out, err := New().Rerank(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOverlapRatio(t *testing.T) {
	query := termSet("batch processor retries")
	assert.InDelta(t, 1.0, overlapRatio(query, termSet("the batch processor retries failed work")), 1e-9)
	assert.InDelta(t, 1.0/3.0, overlapRatio(query, termSet("batch only")), 1e-9)
	assert.Zero(t, overlapRatio(query, termSet("nothing shared")))
}

func TestTokenizeNormalizes(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, tokenize("Hello, WORLD! 42"))
}
