package chunker

import (
	"strings"
	"testing"

	"github.com/c360studio/ragline/plugin/stage"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero min", Config{TargetTokens: 100, MaxTokens: 200}, true},
		{"min above target", Config{MinTokens: 200, TargetTokens: 100, MaxTokens: 300}, true},
		{"target above max", Config{MinTokens: 10, TargetTokens: 400, MaxTokens: 300}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChunkDocumentSplitsOnHeadings(t *testing.T) {
	c, err := New(Config{MinTokens: 5, TargetTokens: 40, MaxTokens: 80})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	doc := stage.Document{
		ID: "doc-1",
		Content: "# Intro\n\n" + strings.Repeat("intro text ", 12) +
			"\n\n# Details\n\n" + strings.Repeat("detail text ", 12),
	}

	chunks := c.ChunkDocument(doc)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	for i, ch := range chunks {
		if ch.ParentID != "doc-1" {
			t.Errorf("chunk %d parent = %q", i, ch.ParentID)
		}
		if ch.Index != i {
			t.Errorf("chunk %d index = %d", i, ch.Index)
		}
		if ch.TokenCount > 80 {
			t.Errorf("chunk %d tokens = %d, exceeds max", i, ch.TokenCount)
		}
	}
	if chunks[0].Section != "Intro" {
		t.Errorf("first section = %q, want Intro", chunks[0].Section)
	}
}

func TestChunkOversizedSectionNeverExceedsMax(t *testing.T) {
	c, err := New(Config{MinTokens: 5, TargetTokens: 25, MaxTokens: 50})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// One giant unbroken word forces the rune-level fallback.
	doc := stage.Document{ID: "d", Content: strings.Repeat("x", 2000)}
	chunks := c.ChunkDocument(doc)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want split", len(chunks))
	}
	for i, ch := range chunks {
		if ch.TokenCount > 50 {
			t.Errorf("chunk %d tokens = %d, exceeds max 50", i, ch.TokenCount)
		}
	}
}

func TestChunkPreservesCodeFences(t *testing.T) {
	c := NewDefault()

	content := "# Code\n\nBefore.\n\n```\n# not a heading\nbody\n```\n\nAfter."
	chunks := c.ChunkDocument(stage.Document{ID: "d", Content: content})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "# not a heading") {
		t.Error("code fence content lost")
	}
}

func TestChunkMergesSmallTrailing(t *testing.T) {
	c, err := New(Config{MinTokens: 20, TargetTokens: 50, MaxTokens: 200})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Two tiny sections merge into one chunk.
	content := "# A\n\nshort a.\n\n# B\n\nshort b."
	chunks := c.ChunkDocument(stage.Document{ID: "d", Content: content})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want merged 1", len(chunks))
	}
}

func TestChunkAllConcatenatesInOrder(t *testing.T) {
	c := NewDefault()
	docs := []stage.Document{
		{ID: "a", Content: "alpha content"},
		{ID: "b", Content: "beta content"},
	}

	chunks := c.ChunkAll(docs)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if chunks[0].ParentID != "a" || chunks[1].ParentID != "b" {
		t.Errorf("order = %q, %q", chunks[0].ParentID, chunks[1].ParentID)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two? Three! Four")
	want := []string{"One.", "Two?", "Three!", "Four"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
