// Package fileloader implements the loader stage for local files.
// Sources are directories or doublestar glob patterns; matched files
// become documents with stable content-addressed IDs.
package fileloader

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"

	"github.com/c360studio/ragline/plugin/stage"
)

// Version is the plugin version reported to the registry.
const Version = "1.0.0"

// defaultExtensions are loaded when options carry no extension filter.
var defaultExtensions = []string{".md", ".txt", ".markdown", ".rst"}

// maxFileSize guards against accidentally ingesting huge binaries.
const maxFileSize = 10 << 20

// Loader loads documents from the local filesystem.
type Loader struct{}

// New creates a file loader.
func New() *Loader {
	return &Loader{}
}

// Metadata implements stage.Plugin.
func (l *Loader) Metadata() stage.Metadata {
	return stage.Metadata{
		Name:    "file",
		Version: Version,
		Type:    stage.CategoryLoader,
	}
}

// Load reads documents matching source. A directory source loads every
// matching file under it recursively; otherwise source is interpreted
// as a doublestar glob. Recognized options:
//
//	extensions []string — overrides the default extension filter
func (l *Loader) Load(ctx context.Context, source string, options map[string]any) ([]stage.Document, error) {
	if source == "" {
		return nil, fmt.Errorf("file loader: source is empty")
	}

	pattern := source
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		pattern = filepath.Join(source, "**", "*")
	}

	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("file loader: bad pattern %q: %w", pattern, err)
	}

	extensions := extensionFilter(options)
	var docs []stage.Document
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() > maxFileSize {
			continue
		}
		if !extensions[strings.ToLower(filepath.Ext(path))] {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("file loader: read %s: %w", path, err)
		}

		content := string(data)
		docs = append(docs, stage.Document{
			ID:        documentID(path),
			Title:     titleFor(path, content),
			Source:    path,
			MimeType:  mimeFor(path),
			Content:   content,
			FetchedAt: time.Now(),
		})
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("file loader: no documents matched %q", source)
	}
	return docs, nil
}

func extensionFilter(options map[string]any) map[string]bool {
	exts := defaultExtensions
	if raw, ok := options["extensions"]; ok {
		switch v := raw.(type) {
		case []string:
			exts = v
		case []any:
			exts = exts[:0]
			for _, e := range v {
				if s, ok := e.(string); ok {
					exts = append(exts, s)
				}
			}
		}
	}

	filter := make(map[string]bool, len(exts))
	for _, e := range exts {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		filter[strings.ToLower(e)] = true
	}
	return filter
}

// documentID derives a stable ID from the file path.
func documentID(path string) string {
	sum := blake3.Sum256([]byte(path))
	return "file-" + hex.EncodeToString(sum[:8])
}

// titleFor prefers the first markdown heading, falling back to the
// file name without extension.
func titleFor(path, content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func mimeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".rst":
		return "text/x-rst"
	default:
		return "text/plain"
	}
}
