// Package openai implements embedder and LLM stage plugins backed by
// the OpenAI API (or any compatible endpoint via base URL override).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/c360studio/ragline/plugin/stage"
)

// Version is the plugin version reported to the registry.
const Version = "1.0.0"

// Config holds connection settings shared by the embedder and LLM.
type Config struct {
	// APIKey authenticates against the endpoint.
	APIKey string

	// BaseURL overrides the API endpoint (for proxies and compatible
	// local servers). Empty uses the OpenAI default.
	BaseURL string

	// EmbeddingModel is the embedding model identifier.
	EmbeddingModel string

	// ChatModel is the chat completion model identifier.
	ChatModel string
}

// DefaultConfig returns settings for the hosted OpenAI API.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		EmbeddingModel: string(goopenai.SmallEmbedding3),
		ChatModel:      goopenai.GPT4oMini,
	}
}

func newClient(cfg Config) *goopenai.Client {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return goopenai.NewClientWithConfig(clientCfg)
}

// Embedder implements stage.Embedder and stage.QueryEmbedder.
type Embedder struct {
	client *goopenai.Client
	model  string
}

// NewEmbedder creates an OpenAI embedder.
func NewEmbedder(cfg Config) *Embedder {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(goopenai.SmallEmbedding3)
	}
	return &Embedder{client: newClient(cfg), model: cfg.EmbeddingModel}
}

// Metadata implements stage.Plugin.
func (e *Embedder) Metadata() stage.Metadata {
	return stage.Metadata{
		Name:    "openai",
		Version: Version,
		Type:    stage.CategoryEmbedder,
	}
}

// Embed converts texts into embedding vectors, one per input in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([]stage.Vector, error) {
	if len(texts) == 0 {
		return nil, errors.New("openai embedder: no texts")
	}

	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([]stage.Vector, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = stage.Vector(d.Embedding)
	}
	return vectors, nil
}

// EmbedQuery implements stage.QueryEmbedder.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) (stage.Vector, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// LLM implements stage.LLM and stage.StreamingLLM.
type LLM struct {
	client *goopenai.Client
	model  string
}

// NewLLM creates an OpenAI chat model.
func NewLLM(cfg Config) *LLM {
	if cfg.ChatModel == "" {
		cfg.ChatModel = goopenai.GPT4oMini
	}
	return &LLM{client: newClient(cfg), model: cfg.ChatModel}
}

// Metadata implements stage.Plugin.
func (l *LLM) Metadata() stage.Metadata {
	return stage.Metadata{
		Name:    "openai",
		Version: Version,
		Type:    stage.CategoryLLM,
	}
}

// Generate answers the prompt grounded on the supplied contexts.
func (l *LLM) Generate(ctx context.Context, prompt string, contexts []stage.Context) (string, error) {
	resp, err := l.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    l.model,
		Messages: buildMessages(prompt, contexts),
	})
	if err != nil {
		return "", fmt.Errorf("openai llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai llm: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements stage.StreamingLLM. The channel closes after the
// final Done token.
func (l *LLM) Stream(ctx context.Context, prompt string, contexts []stage.Context) (<-chan stage.Token, error) {
	streamResp, err := l.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:    l.model,
		Messages: buildMessages(prompt, contexts),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai llm: open stream: %w", err)
	}

	tokens := make(chan stage.Token)
	go func() {
		defer close(tokens)
		defer streamResp.Close()
		for {
			chunk, err := streamResp.Recv()
			if errors.Is(err, io.EOF) {
				tokens <- stage.Token{Done: true}
				return
			}
			if err != nil {
				tokens <- stage.Token{Done: true}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case tokens <- stage.Token{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return tokens, nil
}

const systemPrompt = "Answer using only the provided context. If the context does not contain the answer, say so."

// buildMessages assembles the chat transcript: system prompt, numbered
// context blocks, then the user prompt.
func buildMessages(prompt string, contexts []stage.Context) []goopenai.ChatCompletionMessage {
	messages := []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if len(contexts) > 0 {
		var b strings.Builder
		b.WriteString("Context:\n")
		for i, c := range contexts {
			fmt.Fprintf(&b, "\n[%d] %s\n", i+1, c.Text)
		}
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: b.String(),
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: prompt,
	})
	return messages
}
