package research

import "context"

// SearchResult represents a single search result
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Retriever runs one search query against a provider.
type Retriever interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// RetrieverFunc adapts a plain function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, maxResults int) ([]SearchResult, error)

func (f RetrieverFunc) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	return f(ctx, query, maxResults)
}

// Progress is reported once per sub-query, before it is dispatched.
type Progress struct {
	Index int    `json:"index"` // 1-based
	Total int    `json:"total"`
	Query string `json:"query"`
}
