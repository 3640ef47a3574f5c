package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/loader"

	"codeberg.org/readeck/go-readability/v2"
)

const maxBodySize = 32 << 20

// WebLoader fetches http(s) links. The body is returned unchanged; HTML is
// turned into text later with ExtractArticle.
type WebLoader struct {
	client *http.Client
}

func NewWebLoader(client *http.Client) *WebLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebLoader{client: client}
}

func (l *WebLoader) Load(ctx context.Context, link string) (loader.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return loader.Document{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return loader.Document{}, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return loader.Document{}, fmt.Errorf("failed to fetch url: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return loader.Document{}, err
	}

	contentType := resp.Header.Get("Content-Type")
	name := loader.NameOf(link)
	if contentType == "" {
		contentType = loader.ContentTypeOf(name)
	}
	return loader.Document{
		Link:        link,
		Name:        name,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// IsHTML reports whether contentType names an HTML document.
func IsHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

// ExtractArticle returns the readable main text of an HTML page.
func ExtractArticle(html []byte, link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(html), u)
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	var builder strings.Builder
	if err := article.RenderText(&builder); err != nil {
		return "", fmt.Errorf("failed to render article text: %w", err)
	}
	return strings.TrimSpace(builder.String()), nil
}
