package stage

// Category identifies a pipeline stage a plugin can implement.
// Plugins are registered and resolved by (category, name).
type Category string

// The six stage categories of a RAG pipeline, in chain order.
const (
	CategoryLoader    Category = "loader"
	CategoryEmbedder  Category = "embedder"
	CategoryRetriever Category = "retriever"
	CategoryReranker  Category = "reranker"
	CategoryLLM       Category = "llm"
	CategoryEvaluator Category = "evaluator"
)

// Categories returns all valid categories in chain order.
func Categories() []Category {
	return []Category{
		CategoryLoader,
		CategoryEmbedder,
		CategoryRetriever,
		CategoryReranker,
		CategoryLLM,
		CategoryEvaluator,
	}
}

// IsValid returns true if the category is one of the known stage categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryLoader, CategoryEmbedder, CategoryRetriever,
		CategoryReranker, CategoryLLM, CategoryEvaluator:
		return true
	}
	return false
}

// String returns the category as a string.
func (c Category) String() string {
	return string(c)
}

// ParseCategory converts a string to a Category.
// Returns empty Category if the string is not a valid category.
// Case-sensitive: categories are always lowercase.
func ParseCategory(s string) Category {
	c := Category(s)
	if c.IsValid() {
		return c
	}
	return ""
}
