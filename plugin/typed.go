package plugin

import (
	"fmt"

	"github.com/c360studio/ragline/plugin/stage"
)

// Typed accessors. Registration already validated the contract, so a
// failed assertion here means the contract and the Go interface drifted;
// the error says which.

// Loader returns the loader registered under name.
func (r *Registry) Loader(name string) (stage.Loader, error) {
	return typedGet[stage.Loader](r, stage.CategoryLoader, name)
}

// Embedder returns the embedder registered under name.
func (r *Registry) Embedder(name string) (stage.Embedder, error) {
	return typedGet[stage.Embedder](r, stage.CategoryEmbedder, name)
}

// Retriever returns the retriever registered under name.
func (r *Registry) Retriever(name string) (stage.Retriever, error) {
	return typedGet[stage.Retriever](r, stage.CategoryRetriever, name)
}

// Reranker returns the reranker registered under name.
func (r *Registry) Reranker(name string) (stage.Reranker, error) {
	return typedGet[stage.Reranker](r, stage.CategoryReranker, name)
}

// LLM returns the LLM registered under name.
func (r *Registry) LLM(name string) (stage.LLM, error) {
	return typedGet[stage.LLM](r, stage.CategoryLLM, name)
}

// Evaluator returns the evaluator registered under name.
func (r *Registry) Evaluator(name string) (stage.Evaluator, error) {
	return typedGet[stage.Evaluator](r, stage.CategoryEvaluator, name)
}

func typedGet[T any](r *Registry, category stage.Category, name string) (T, error) {
	var zero T

	impl, err := r.Get(category, name)
	if err != nil {
		return zero, err
	}

	typed, ok := impl.(T)
	if !ok {
		return zero, fmt.Errorf("plugin %s/%s does not implement the %s interface", category, name, category)
	}
	return typed, nil
}
