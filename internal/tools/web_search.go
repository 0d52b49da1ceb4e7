package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultSearchURL  = "https://api.tavily.com/search"
	defaultMaxResults = 5
	maxSearchResults  = 20
)

// SearchResult is a single search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchRequest struct {
	APIKey     string `json:"api_key,omitempty"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Answer  string         `json:"answer"`
	Results []SearchResult `json:"results"`
}

// WebSearchTool queries a JSON search API.
type WebSearchTool struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewWebSearchTool creates a web_search tool. An empty endpoint uses Tavily.
func NewWebSearchTool(client *http.Client, endpoint, apiKey string) *WebSearchTool {
	if endpoint == "" {
		endpoint = defaultSearchURL
	}
	return &WebSearchTool{client: client, endpoint: endpoint, apiKey: apiKey}
}

func (t *WebSearchTool) Name() string { return ToolWebSearch }

func (t *WebSearchTool) Description() string {
	return "Search the web for up-to-date information."
}

func (t *WebSearchTool) Schema() Schema {
	return Schema{Params: []Param{
		{Name: "query", Type: "string", Description: "The search query", Required: true},
		{Name: "max_results", Type: "number", Description: "Maximum number of results"},
	}}
}

// Invoke runs the search and emits one chunk per result.
func (t *WebSearchTool) Invoke(ctx context.Context, call Call, chunks chan<- string) (string, error) {
	query := stringParam(call.Params, "query")
	if query == "" {
		return "", fmt.Errorf("%w: query", ErrMissingRequiredParam)
	}
	maxResults := configInt(call.Params, "max_results", configInt(call.Config, "max_results", defaultMaxResults))
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	results, answer, err := t.search(ctx, query, maxResults)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 && answer == "" {
		text := "No results found for: " + query
		return text, Emit(ctx, chunks, text)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Search Results for: %s\n\n", query)
	if answer != "" {
		fmt.Fprintf(&sb, "%s\n\n", answer)
		if err := Emit(ctx, chunks, answer+"\n"); err != nil {
			return "", err
		}
	}
	for i, r := range results {
		entry := fmt.Sprintf("## %d. %s\n**URL:** %s\n", i+1, r.Title, r.URL)
		if r.Content != "" {
			entry += "\n" + r.Content + "\n"
		}
		entry += "\n"
		sb.WriteString(entry)
		if err := Emit(ctx, chunks, entry); err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (t *WebSearchTool) search(ctx context.Context, query string, maxResults int) ([]SearchResult, string, error) {
	body, err := json.Marshal(searchRequest{APIKey: t.apiKey, Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Results) > maxResults {
		parsed.Results = parsed.Results[:maxResults]
	}
	return parsed.Results, strings.TrimSpace(parsed.Answer), nil
}
