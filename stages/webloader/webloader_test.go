package webloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ragline/plugin/stage"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Sample Page</title></head>
<body>
<nav>skip this navigation</nav>
<article>
<h1>Sample Heading</h1>
<p>First paragraph with enough text to keep readability interested in
the article body. It rambles on for a little while so the extractor has
something of substance to hold on to.</p>
<p>Second paragraph continues the thought with more words and a
<a href="https://example.com/ref">reference link</a> for flavor.</p>
</article>
</body>
</html>`

func TestMetadata(t *testing.T) {
	md := New().Metadata()
	assert.Equal(t, "web", md.Name)
	assert.Equal(t, stage.CategoryLoader, md.Type)
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https ok", "https://example.com/docs", false},
		{"http rejected", "http://example.com", true},
		{"localhost", "https://localhost/x", true},
		{"loopback ip", "https://127.0.0.1/x", true},
		{"private ip", "https://10.0.0.5/x", true},
		{"cgnat ip", "https://100.64.1.1/x", true},
		{"local domain", "https://foo.internal/x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConvertsToMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	docs, err := New().Load(context.Background(), srv.URL, map[string]any{
		"insecure_allow_private": true,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.NotEmpty(t, doc.Title)
	assert.Equal(t, srv.URL, doc.Source)
	assert.Equal(t, "text/markdown", doc.MimeType)
	assert.Contains(t, doc.Content, "First paragraph")
	assert.NotContains(t, doc.Content, "<p>")
	assert.NotEmpty(t, doc.ID)
}

func TestLoadRejectsPrivateByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	_, err := New().Load(context.Background(), srv.URL, nil)
	assert.Error(t, err)
}

func TestLoadNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New().Load(context.Background(), srv.URL, map[string]any{
		"insecure_allow_private": true,
	})
	assert.Error(t, err)
}

func TestStableIDs(t *testing.T) {
	assert.Equal(t, documentID("https://example.com/a"), documentID("https://example.com/a"))
	assert.NotEqual(t, documentID("https://example.com/a"), documentID("https://example.com/b"))
}
