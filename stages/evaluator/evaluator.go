// Package evaluator implements an evaluator stage that scores generated
// answers against expected answers with token-level precision, recall,
// F1, and exact match. No external model calls are made; scores are
// deterministic and cheap enough to run on every pipeline execution.
package evaluator

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/c360studio/ragline/plugin/stage"
)

// Version is the plugin version reported to the registry.
const Version = "1.0.0"

// Metric names returned by Score.
const (
	MetricPrecision  = "precision"
	MetricRecall     = "recall"
	MetricF1         = "f1"
	MetricExactMatch = "exact_match"
)

// Overlap scores answers by token overlap.
type Overlap struct{}

// New creates an overlap evaluator.
func New() *Overlap {
	return &Overlap{}
}

// Metadata implements stage.Plugin.
func (o *Overlap) Metadata() stage.Metadata {
	return stage.Metadata{
		Name:    "overlap",
		Version: Version,
		Type:    stage.CategoryEvaluator,
	}
}

// Score implements stage.Evaluator. Precision and recall count token
// occurrences (multiset overlap), so repeated tokens are only credited
// as often as they appear in the expected answer.
func (o *Overlap) Score(_ context.Context, expected, actual string) (map[string]float64, error) {
	if strings.TrimSpace(expected) == "" {
		return nil, errors.New("evaluator: empty expected answer")
	}

	expTokens := tokenize(expected)
	actTokens := tokenize(actual)

	exact := 0.0
	if normalize(expected) == normalize(actual) {
		exact = 1.0
	}

	common := overlapCount(expTokens, actTokens)
	precision := ratio(common, len(actTokens))
	recall := ratio(common, len(expTokens))
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return map[string]float64{
		MetricPrecision:  precision,
		MetricRecall:     recall,
		MetricF1:         f1,
		MetricExactMatch: exact,
	}, nil
}

// overlapCount returns the multiset intersection size of two token lists.
func overlapCount(a, b []string) int {
	counts := make(map[string]int, len(a))
	for _, tok := range a {
		counts[tok]++
	}
	common := 0
	for _, tok := range b {
		if counts[tok] > 0 {
			counts[tok]--
			common++
		}
	}
	return common
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(text string) string {
	return strings.Join(tokenize(text), " ")
}
