// Package webloader implements the loader stage for web pages. Pages
// pass SSRF validation, go through readability extraction, and are
// normalized to markdown.
package webloader

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	mdplugin "github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"github.com/zeebo/blake3"
	"golang.org/x/net/html"

	"github.com/c360studio/ragline/plugin/stage"
)

// Version is the plugin version reported to the registry.
const Version = "1.0.0"

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 5 << 20
	userAgent       = "ragline/1.0 (+https://github.com/c360studio/ragline)"
)

var excessiveLinesRe = regexp.MustCompile(`\n{4,}`)

// Loader fetches web pages and converts them to markdown documents.
type Loader struct {
	client    *http.Client
	converter *md.Converter
}

// New creates a web loader with a default HTTP client.
func New() *Loader {
	converter := md.NewConverter("", true, nil)
	converter.Use(mdplugin.GitHubFlavored())

	return &Loader{
		client:    &http.Client{Timeout: defaultTimeout},
		converter: converter,
	}
}

// SetClient replaces the HTTP client.
func (l *Loader) SetClient(client *http.Client) {
	if client != nil {
		l.client = client
	}
}

// Metadata implements stage.Plugin.
func (l *Loader) Metadata() stage.Metadata {
	return stage.Metadata{
		Name:    "web",
		Version: Version,
		Type:    stage.CategoryLoader,
	}
}

// Load fetches one URL and returns it as a single markdown document.
// Recognized options:
//
//	insecure_allow_private bool — skip SSRF validation (development only)
func (l *Loader) Load(ctx context.Context, source string, options map[string]any) ([]stage.Document, error) {
	allowPrivate, _ := options["insecure_allow_private"].(bool)
	if !allowPrivate {
		if err := ValidateURL(source); err != nil {
			return nil, fmt.Errorf("web loader: %w", err)
		}
	}

	parsed, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("web loader: invalid URL: %w", err)
	}

	body, err := l.fetch(ctx, source)
	if err != nil {
		return nil, err
	}

	title, markdown, err := l.extract(body, parsed)
	if err != nil {
		return nil, fmt.Errorf("web loader: extract %s: %w", source, err)
	}

	return []stage.Document{{
		ID:        documentID(source),
		Title:     title,
		Source:    source,
		MimeType:  "text/markdown",
		Content:   markdown,
		FetchedAt: time.Now(),
	}}, nil
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web loader: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web loader: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web loader: fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("web loader: read %s: %w", rawURL, err)
	}
	return body, nil
}

// extract runs readability over the page and converts the article HTML
// to markdown. When readability finds nothing it falls back to
// converting the whole page.
func (l *Loader) extract(body []byte, pageURL *url.URL) (title, markdown string, err error) {
	article, rerr := readability.FromReader(strings.NewReader(string(body)), pageURL)
	content := article.Content
	title = article.Title
	if rerr != nil || strings.TrimSpace(content) == "" {
		content = string(body)
	}
	if title == "" {
		title = htmlTitle(body)
	}

	markdown, err = l.converter.ConvertString(content)
	if err != nil {
		return "", "", err
	}
	markdown = excessiveLinesRe.ReplaceAllString(strings.TrimSpace(markdown), "\n\n\n")
	return title, markdown, nil
}

// htmlTitle extracts the <title> element.
func htmlTitle(content []byte) string {
	doc, err := html.Parse(strings.NewReader(string(content)))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// documentID derives a stable ID from the URL.
func documentID(rawURL string) string {
	sum := blake3.Sum256([]byte(rawURL))
	return "web-" + hex.EncodeToString(sum[:8])
}
