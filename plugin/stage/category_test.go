package stage

import "testing"

func TestCategoryIsValid(t *testing.T) {
	tests := []struct {
		cat      Category
		expected bool
	}{
		{CategoryLoader, true},
		{CategoryEmbedder, true},
		{CategoryRetriever, true},
		{CategoryReranker, true},
		{CategoryLLM, true},
		{CategoryEvaluator, true},
		{Category("vectorizer"), false},
		{Category(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.cat), func(t *testing.T) {
			if got := tt.cat.IsValid(); got != tt.expected {
				t.Errorf("Category(%q).IsValid() = %v, want %v", tt.cat, got, tt.expected)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input    string
		expected Category
	}{
		{"loader", CategoryLoader},
		{"embedder", CategoryEmbedder},
		{"retriever", CategoryRetriever},
		{"reranker", CategoryReranker},
		{"llm", CategoryLLM},
		{"evaluator", CategoryEvaluator},
		{"LOADER", ""}, // case-sensitive
		{"", ""},
		{"unknown", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseCategory(tt.input); got != tt.expected {
				t.Errorf("ParseCategory(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCategoriesOrder(t *testing.T) {
	cats := Categories()
	if len(cats) != 6 {
		t.Fatalf("Categories() returned %d categories, want 6", len(cats))
	}
	if cats[0] != CategoryLoader || cats[len(cats)-1] != CategoryEvaluator {
		t.Errorf("Categories() = %v, want chain order loader..evaluator", cats)
	}
}
