package tools

import (
	"context"
	"fmt"

	"github.com/mikeboe/research-chat/pkg/research"
	"github.com/mikeboe/research-chat/pkg/vectorstore"
)

type QueryEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type ChunkSearcher interface {
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, sourceFilter string) ([]vectorstore.SimilaritySearchResult, error)
}

// Knowledge searches the local pgvector knowledge collection.
type Knowledge struct {
	Embedder QueryEmbedder
	Store    ChunkSearcher
	MinScore float64
}

var _ research.Retriever = (*Knowledge)(nil)

func NewKnowledge(embedder QueryEmbedder, store ChunkSearcher) *Knowledge {
	return &Knowledge{Embedder: embedder, Store: store}
}

func (k *Knowledge) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	queryEmbedding, err := k.Embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	hits, err := k.Store.SimilaritySearch(ctx, queryEmbedding, maxResults, "")
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]research.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < k.MinScore {
			continue
		}
		source := h.Document.Source()
		if source == "" {
			source = "knowledge:" + h.Document.ID
		}
		title := h.Document.Title()
		if title == "" {
			title = source
		}
		results = append(results, research.SearchResult{Title: title, URL: source, Content: h.Document.Content})
	}
	return results, nil
}
