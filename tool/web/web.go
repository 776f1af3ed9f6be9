// Package web provides a page-reading fallback tool for the web actor when
// no browser workbench is available.
package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/acauret/infrastructure-agent/tool"
)

const (
	fetchTimeout = 20 * time.Second
	// maxPageChars bounds the extracted text handed back to the model.
	maxPageChars = 8000
)

// ReadPage returns a tool that fetches a URL and extracts its readable text.
func ReadPage() *tool.Tool {
	client := &http.Client{Timeout: fetchTimeout}
	return &tool.Tool{
		Name:        "read_page",
		Description: "Fetch a web page and return its readable text content.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Absolute URL of the page to read",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			if url == "" {
				return "", fmt.Errorf("web: url argument is required")
			}
			return fetchPage(ctx, client, url)
		},
	}
}

func fetchPage(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("web: build request: %w", err)
	}
	req.Header.Set("User-Agent", "infrastructure-agent/0.1")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web: fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("web: parse %s: %w", url, err)
	}

	doc.Find("script, style, noscript, iframe, svg").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	text := collapseWhitespace(body.Text())
	if len(text) > maxPageChars {
		text = text[:maxPageChars] + "\n(truncated)"
	}

	if title != "" {
		return title + "\n\n" + text, nil
	}
	return text, nil
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
