// Package stage defines the stage categories and interfaces that pipeline
// plugins implement. The plugin registry validates implementations against
// these shapes plus the declarative contract for their category.
package stage

import (
	"context"
	"time"
)

// Metadata describes a plugin implementation.
// Every plugin must report its name, version, and stage category.
type Metadata struct {
	// Name is the plugin's registered name (e.g. "openai", "memstore").
	Name string `json:"name"`

	// Version is the plugin's semantic version.
	Version string `json:"version"`

	// Type is the stage category the plugin implements.
	Type Category `json:"type"`
}

// Plugin is the minimal interface every stage plugin satisfies.
type Plugin interface {
	Metadata() Metadata
}

// Document is a unit of loaded content prior to chunking and embedding.
type Document struct {
	// ID uniquely identifies the document within a pipeline run.
	ID string `json:"id"`

	// Title is a human-readable title, when the loader can extract one.
	Title string `json:"title,omitempty"`

	// Source is where the document came from (path, URL).
	Source string `json:"source"`

	// MimeType is the detected content type.
	MimeType string `json:"mime_type,omitempty"`

	// Content is the document body, normalized to markdown or plain text.
	Content string `json:"content"`

	// FetchedAt is when the loader produced this document.
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// Chunk is a bounded slice of a document prepared for embedding.
type Chunk struct {
	// ParentID is the ID of the document this chunk came from.
	ParentID string `json:"parent_id"`

	// Index is the chunk's position within the parent document.
	Index int `json:"index"`

	// Section is the heading path the chunk belongs to, when known.
	Section string `json:"section,omitempty"`

	// Content is the chunk text.
	Content string `json:"content"`

	// TokenCount is the estimated token count of Content.
	TokenCount int `json:"token_count"`
}

// Vector is an embedding vector.
type Vector []float32

// Indexed pairs a chunk of text with its embedding for storage.
type Indexed struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Vector Vector `json:"vector"`
}

// Context is a retrieved (and possibly reranked) piece of supporting text.
type Context struct {
	Text   string  `json:"text"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score"`
}

// Token is one unit of a streamed LLM response.
type Token struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Loader produces documents from an external source.
type Loader interface {
	Plugin
	Load(ctx context.Context, source string, options map[string]any) ([]Document, error)
}

// Embedder converts texts into embedding vectors.
type Embedder interface {
	Plugin
	Embed(ctx context.Context, texts []string) ([]Vector, error)
}

// QueryEmbedder is an optional extension for embedders that embed queries
// differently from documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (Vector, error)
}

// Retriever stores indexed vectors and retrieves contexts for a query vector.
type Retriever interface {
	Plugin
	Store(ctx context.Context, items []Indexed) error
	Retrieve(ctx context.Context, query Vector, limit int) ([]Context, error)
}

// Reranker reorders candidate contexts by relevance to a query.
type Reranker interface {
	Plugin
	Rerank(ctx context.Context, query string, candidates []Context) ([]Context, error)
}

// LLM generates a response from a prompt and supporting contexts.
type LLM interface {
	Plugin
	Generate(ctx context.Context, prompt string, contexts []Context) (string, error)
}

// StreamingLLM is an optional extension for LLMs that stream tokens.
// The returned channel is closed after the Done token is sent.
type StreamingLLM interface {
	Stream(ctx context.Context, prompt string, contexts []Context) (<-chan Token, error)
}

// Evaluator scores generated output against an expected answer.
type Evaluator interface {
	Plugin
	Score(ctx context.Context, expected, actual string) (map[string]float64, error)
}
