package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ragline/plugin/stage"
)

func TestMetadata(t *testing.T) {
	md := New().Metadata()
	assert.Equal(t, "overlap", md.Name)
	assert.Equal(t, stage.CategoryEvaluator, md.Type)
}

func TestScoreExactMatch(t *testing.T) {
	scores, err := New().Score(context.Background(), "The answer is 42.", "the answer is 42")
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores[MetricExactMatch])
	assert.Equal(t, 1.0, scores[MetricF1])
	assert.Equal(t, 1.0, scores[MetricPrecision])
	assert.Equal(t, 1.0, scores[MetricRecall])
}

func TestScorePartialOverlap(t *testing.T) {
	// expected: 4 tokens, actual: 4 tokens, 2 in common.
	scores, err := New().Score(context.Background(), "paris is the capital", "paris capital of france")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, scores[MetricPrecision], 1e-9)
	assert.InDelta(t, 0.5, scores[MetricRecall], 1e-9)
	assert.InDelta(t, 0.5, scores[MetricF1], 1e-9)
	assert.Zero(t, scores[MetricExactMatch])
}

func TestScoreNoOverlap(t *testing.T) {
	scores, err := New().Score(context.Background(), "alpha beta", "gamma delta")
	require.NoError(t, err)
	assert.Zero(t, scores[MetricF1])
	assert.Zero(t, scores[MetricPrecision])
	assert.Zero(t, scores[MetricRecall])
}

func TestScoreRepeatedTokensNotOverCredited(t *testing.T) {
	// "yes" appears once in expected; repeating it five times in the
	// answer must not inflate precision past 1/5.
	scores, err := New().Score(context.Background(), "yes", "yes yes yes yes yes")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, scores[MetricPrecision], 1e-9)
	assert.InDelta(t, 1.0, scores[MetricRecall], 1e-9)
}

func TestScoreEmptyActual(t *testing.T) {
	scores, err := New().Score(context.Background(), "expected text", "")
	require.NoError(t, err)
	assert.Zero(t, scores[MetricF1])
}

func TestScoreEmptyExpected(t *testing.T) {
	_, err := New().Score(context.Background(), "  ", "anything")
	assert.Error(t, err)
}
