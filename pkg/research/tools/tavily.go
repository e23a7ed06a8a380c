package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mikeboe/research-chat/pkg/research"
)

const tavilyURL = "https://api.tavily.com/search"

// Tavily searches the web through the Tavily search API.
type Tavily struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

var _ research.Retriever = (*Tavily)(nil)

func NewTavily(apiKey string) *Tavily {
	return &Tavily{
		APIKey:  apiKey,
		BaseURL: tavilyURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	if t.APIKey == "" {
		return nil, fmt.Errorf("TAVILY_API_KEY is not set")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	jsonBody, err := json.Marshal(tavilyRequest{
		APIKey:      t.APIKey,
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.APIKey)

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search response: %w", err)
	}

	results := make([]research.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, research.SearchResult{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	slog.Debug("Tavily search", "query", query, "count", len(results))
	return results, nil
}
