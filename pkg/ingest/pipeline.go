package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/research-chat/pkg/splitter"
	"github.com/mikeboe/research-chat/pkg/vectorstore"
)

// DefaultEmbedBatch is the number of chunks embedded per request.
const DefaultEmbedBatch = 100

type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type ChunkStore interface {
	DeleteBySource(ctx context.Context, source string) (int64, error)
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
}

type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (*Source, error)
}

// Pipeline indexes a source into the knowledge collection. Re-ingesting a
// source replaces its previous chunks.
type Pipeline struct {
	Fetcher    SourceFetcher
	Splitter   *splitter.TextSplitter
	Embedder   Embedder
	Store      ChunkStore
	EmbedBatch int
	Logger     *slog.Logger
}

// WithLogger returns a copy of the pipeline logging to logger.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	c := *p
	c.Logger = logger
	return &c
}

// Run fetches, chunks, embeds and stores source. It returns the number of
// chunks written.
func (p *Pipeline) Run(ctx context.Context, source string) (int, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Fetching source", "source", source)
	doc, err := p.Fetcher.Fetch(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", source, err)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return 0, fmt.Errorf("no text found at %s", source)
	}
	logger.Info("Fetched source", "title", doc.Title, "chars", len(doc.Text))

	chunks, err := p.Splitter.SplitText(doc.Text)
	if err != nil {
		return 0, fmt.Errorf("failed to split text: %w", err)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no chunks produced for %s", source)
	}
	logger.Info("Split source", "chunks", len(chunks))

	batch := p.EmbedBatch
	if batch <= 0 {
		batch = DefaultEmbedBatch
	}

	docs := make([]vectorstore.Document, 0, len(chunks))
	for start := 0; start < len(chunks); start += batch {
		end := min(start+batch, len(chunks))
		vecs, err := p.Embedder.EmbedTexts(ctx, chunks[start:end])
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), end-start)
		}
		for i, vec := range vecs {
			docs = append(docs, vectorstore.Document{
				Content: chunks[start+i],
				Metadata: map[string]interface{}{
					"source":      source,
					"title":       doc.Title,
					"chunk_index": start + i,
				},
				Embedding: vec,
			})
		}
		logger.Debug("Embedded batch", "from", start, "to", end)
	}

	deleted, err := p.Store.DeleteBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		logger.Info("Replaced previous chunks", "deleted", deleted)
	}

	if err := p.Store.AddDocuments(ctx, docs); err != nil {
		return 0, err
	}
	logger.Info("Indexed source", "source", source, "chunks", len(docs))
	return len(docs), nil
}
