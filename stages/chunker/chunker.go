// Package chunker splits loaded documents into embedding-sized chunks.
// Markdown headings are the primary split boundary; oversized sections
// fall back to paragraph, then sentence, then character splits so the
// maximum is never exceeded.
package chunker

import (
	"fmt"
	"strings"

	"github.com/c360studio/ragline/plugin/stage"
)

// charsPerToken is the approximate average characters per token for GPT tokenizers.
const charsPerToken = 4

// Config holds chunking configuration.
type Config struct {
	// TargetTokens is the ideal chunk size in tokens.
	TargetTokens int

	// MaxTokens is the maximum chunk size.
	MaxTokens int

	// MinTokens is the minimum chunk size (smaller chunks are merged).
	MinTokens int
}

// DefaultConfig returns sensible chunking defaults.
func DefaultConfig() Config {
	return Config{
		TargetTokens: 1000,
		MaxTokens:    1500,
		MinTokens:    200,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MinTokens <= 0 {
		return fmt.Errorf("MinTokens must be positive, got %d", c.MinTokens)
	}
	if c.TargetTokens <= 0 {
		return fmt.Errorf("TargetTokens must be positive, got %d", c.TargetTokens)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("MaxTokens must be positive, got %d", c.MaxTokens)
	}
	if c.MinTokens >= c.TargetTokens {
		return fmt.Errorf("MinTokens (%d) must be less than TargetTokens (%d)", c.MinTokens, c.TargetTokens)
	}
	if c.TargetTokens > c.MaxTokens {
		return fmt.Errorf("TargetTokens (%d) must not exceed MaxTokens (%d)", c.TargetTokens, c.MaxTokens)
	}
	return nil
}

// Chunker splits documents into chunks.
type Chunker struct {
	config Config
}

// New creates a Chunker, validating the configuration. A zero
// TargetTokens selects the defaults.
func New(cfg Config) (*Chunker, error) {
	if cfg.TargetTokens == 0 {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: cfg}, nil
}

// NewDefault creates a Chunker with default configuration.
func NewDefault() *Chunker {
	c, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return c
}

// ChunkDocument splits one document into chunks. Chunk ParentID is the
// document ID and indexes are contiguous from zero.
func (c *Chunker) ChunkDocument(doc stage.Document) []stage.Chunk {
	return c.chunk(doc.ID, doc.Content)
}

// ChunkAll splits a batch of documents, concatenating their chunks in
// document order.
func (c *Chunker) ChunkAll(docs []stage.Document) []stage.Chunk {
	var out []stage.Chunk
	for _, doc := range docs {
		out = append(out, c.ChunkDocument(doc)...)
	}
	return out
}

func (c *Chunker) chunk(parentID, content string) []stage.Chunk {
	var chunks []stage.Chunk
	current := stage.Chunk{ParentID: parentID}

	for _, sec := range parseSections(content) {
		secTokens := estimateTokens(sec.content)

		if secTokens > c.config.MaxTokens {
			if estimateTokens(current.Content) >= c.config.MinTokens {
				chunks = append(chunks, c.seal(current, len(chunks)))
				current = stage.Chunk{ParentID: parentID}
			}
			chunks = append(chunks, c.splitOversized(parentID, sec, len(chunks))...)
			continue
		}

		if cur := estimateTokens(current.Content); cur > 0 && cur+secTokens > c.config.TargetTokens {
			chunks = append(chunks, c.seal(current, len(chunks)))
			current = stage.Chunk{ParentID: parentID}
		}

		if current.Section == "" {
			current.Section = sec.heading
		}
		if current.Content != "" {
			current.Content += "\n\n"
		}
		current.Content += sec.content
	}

	if estimateTokens(current.Content) > 0 {
		chunks = append(chunks, c.seal(current, len(chunks)))
	}

	return c.mergeSmall(chunks)
}

// splitOversized breaks a section that exceeds MaxTokens, first at
// paragraph boundaries, then sentences, then runes as a last resort.
func (c *Chunker) splitOversized(parentID string, sec section, startIndex int) []stage.Chunk {
	var chunks []stage.Chunk
	current := stage.Chunk{ParentID: parentID, Section: sec.heading}

	flush := func() {
		if estimateTokens(current.Content) > 0 {
			chunks = append(chunks, c.seal(current, startIndex+len(chunks)))
			current = stage.Chunk{ParentID: parentID, Section: sec.heading}
		}
	}

	for _, para := range splitParagraphs(sec.content) {
		pieces := []string{para}
		if estimateTokens(para) > c.config.MaxTokens {
			pieces = splitSentences(para)
		}
		for _, piece := range pieces {
			for _, part := range c.hardSplit(piece) {
				partTokens := estimateTokens(part)
				if cur := estimateTokens(current.Content); cur > 0 && cur+partTokens > c.config.TargetTokens {
					flush()
				}
				if current.Content != "" {
					current.Content += "\n\n"
				}
				current.Content += part
			}
		}
	}
	flush()
	return chunks
}

// hardSplit cuts content at rune boundaries when it still exceeds the
// maximum after sentence splitting.
func (c *Chunker) hardSplit(content string) []string {
	if estimateTokens(content) <= c.config.MaxTokens {
		return []string{content}
	}
	maxChars := c.config.MaxTokens * charsPerToken
	runes := []rune(content)
	var parts []string
	for i := 0; i < len(runes); i += maxChars {
		end := min(i+maxChars, len(runes))
		parts = append(parts, string(runes[i:end]))
	}
	return parts
}

// mergeSmall combines chunks below the minimum with their successor
// when the result stays under the maximum, then re-indexes.
func (c *Chunker) mergeSmall(chunks []stage.Chunk) []stage.Chunk {
	if len(chunks) <= 1 {
		return chunks
	}

	var result []stage.Chunk
	for i := 0; i < len(chunks); i++ {
		chunk := chunks[i]
		if chunk.TokenCount < c.config.MinTokens && i < len(chunks)-1 {
			combined := chunk.Content + "\n\n" + chunks[i+1].Content
			if estimateTokens(combined) <= c.config.MaxTokens {
				chunks[i+1] = stage.Chunk{
					ParentID:   chunk.ParentID,
					Section:    chunk.Section,
					Content:    combined,
					TokenCount: estimateTokens(combined),
				}
				continue
			}
		}
		result = append(result, chunk)
	}

	for i := range result {
		result[i].Index = i
	}
	return result
}

func (c *Chunker) seal(chunk stage.Chunk, index int) stage.Chunk {
	chunk.Index = index
	chunk.TokenCount = estimateTokens(chunk.Content)
	return chunk
}

func estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + charsPerToken - 1) / charsPerToken
}

// section is a heading plus the content under it.
type section struct {
	heading string
	content string
}

// parseSections splits markdown on headings, leaving code fences intact.
func parseSections(content string) []section {
	var sections []section
	var current section
	inCodeBlock := false

	for _, line := range strings.Split(content, "\n") {
		if isCodeFence(strings.TrimSpace(line)) {
			inCodeBlock = !inCodeBlock
		}

		if !inCodeBlock && isHeading(line) {
			if strings.TrimSpace(current.content) != "" {
				sections = append(sections, current)
			}
			current = section{heading: headingText(line), content: line}
			continue
		}

		if current.content != "" {
			current.content += "\n"
		}
		current.content += line
	}

	if strings.TrimSpace(current.content) != "" {
		sections = append(sections, current)
	}
	return sections
}

// splitParagraphs splits on blank lines outside code fences.
func splitParagraphs(content string) []string {
	var paragraphs []string
	var current strings.Builder
	inCodeBlock := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if isCodeFence(trimmed) {
			inCodeBlock = !inCodeBlock
		}

		if !inCodeBlock && trimmed == "" {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, strings.TrimSpace(current.String()))
				current.Reset()
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		paragraphs = append(paragraphs, strings.TrimSpace(current.String()))
	}
	return paragraphs
}

// splitSentences splits on terminal punctuation followed by whitespace.
func splitSentences(content string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(content)
	for i, r := range runes {
		current.WriteRune(r)
		if (r == '.' || r == '?' || r == '!') &&
			(i == len(runes)-1 || runes[i+1] == ' ' || runes[i+1] == '\n') {
			s := strings.TrimSpace(current.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isCodeFence(line string) bool {
	return strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~")
}

func isHeading(line string) bool {
	trimmed := strings.TrimLeft(line, "#")
	return strings.HasPrefix(line, "#") && len(line) > len(trimmed) && len(line)-len(trimmed) <= 6 &&
		strings.HasPrefix(trimmed, " ")
}

func headingText(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, "#"))
}
