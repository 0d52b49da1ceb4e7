package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

const (
	defaultFetchMaxChars = 8000
	fetchBodyLimit       = 2 << 20
	fetchUserAgent       = "dipagt/1.0 (+web_fetch)"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// WebFetchTool downloads a page and returns its readable text.
type WebFetchTool struct {
	client *http.Client
}

// NewWebFetchTool creates a web_fetch tool.
func NewWebFetchTool(client *http.Client) *WebFetchTool {
	return &WebFetchTool{client: client}
}

func (t *WebFetchTool) Name() string { return ToolWebFetch }

func (t *WebFetchTool) Description() string {
	return "Fetch a web page and return its readable text."
}

func (t *WebFetchTool) Schema() Schema {
	return Schema{Params: []Param{
		{Name: "url", Type: "string", Description: "Absolute http(s) URL to fetch", Required: true},
	}}
}

// Invoke fetches the url parameter. Config keys: headers (map), max_chars.
func (t *WebFetchTool) Invoke(ctx context.Context, call Call, chunks chan<- string) (string, error) {
	raw := stringParam(call.Params, "url")
	if raw == "" {
		return "", fmt.Errorf("%w: url", ErrMissingRequiredParam)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	headers := configStringMap(call.Config, "headers")
	for _, k := range sortedKeys(headers) {
		req.Header.Set(k, headers[k])
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var text string
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		text = strings.TrimSpace(string(body))
	} else {
		text, err = htmlToText(string(body))
		if err != nil {
			return "", fmt.Errorf("failed to parse html: %w", err)
		}
	}
	text = truncateRunes(text, configInt(call.Config, "max_chars", defaultFetchMaxChars))

	if err := Emit(ctx, chunks, text); err != nil {
		return "", err
	}
	return text, nil
}

func htmlToText(content string) (string, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	extractText(doc, &sb, 0)
	return cleanText(sb.String()), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 64 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "form":
			return
		case "title":
			sb.WriteString("# ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				extractText(c, sb, depth+1)
			}
			sb.WriteString("\n\n")
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		case "p", "div", "section", "article", "table":
			sb.WriteString("\n\n")
		case "br", "tr":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}
}

func cleanText(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n\n[...truncated...]"
}
