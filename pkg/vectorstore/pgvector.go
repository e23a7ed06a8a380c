package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Document is one indexed chunk of a knowledge source.
type Document struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Embedding []float32              `json:"embedding,omitempty"`
}

// Source returns the "source" metadata value, the URL the chunk came from.
func (d Document) Source() string {
	s, _ := d.Metadata["source"].(string)
	return s
}

// Title returns the "title" metadata value.
func (d Document) Title() string {
	s, _ := d.Metadata["title"].(string)
	return s
}

// SimilaritySearchResult represents a search result with score
type SimilaritySearchResult struct {
	Document Document
	Score    float64
}

// PGVectorStore handles pgvector operations for one collection table.
type PGVectorStore struct {
	pool      *pgxpool.Pool
	tableName string
}

var collectionName = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// ValidCollection reports whether name is usable as a table name: a lower-case
// letter or underscore followed by up to 62 letters, digits or underscores.
func ValidCollection(name string) bool {
	return collectionName.MatchString(name)
}

// NewPGVectorStore creates a new PGVector store
func NewPGVectorStore(pool *pgxpool.Pool, tableName string) (*PGVectorStore, error) {
	if !ValidCollection(tableName) {
		return nil, fmt.Errorf("invalid collection name %q", tableName)
	}
	return &PGVectorStore{
		pool:      pool,
		tableName: tableName,
	}, nil
}

// AddDocuments adds documents with embeddings to the vector store
func (vs *PGVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (content, metadata, embedding)
		VALUES ($1, $2, $3)
	`, vs.table())

	batch := &pgx.Batch{}
	for _, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		batch.Queue(query, doc.Content, metadataJSON, pgvector.NewVector(doc.Embedding))
	}

	br := vs.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
	}

	return nil
}

// DeleteBySource removes every chunk of a source, so re-ingesting replaces it.
func (vs *PGVectorStore) DeleteBySource(ctx context.Context, source string) (int64, error) {
	tag, err := vs.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE metadata->>'source' = $1`, vs.table()), source)
	if err != nil {
		return 0, fmt.Errorf("failed to delete source %s: %w", source, err)
	}
	return tag.RowsAffected(), nil
}

// SimilaritySearch performs a cosine similarity search, optionally restricted to one source.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, sourceFilter string) ([]SimilaritySearchResult, error) {
	embedding := pgvector.NewVector(queryEmbedding)

	query := similarityQuery(vs.table(), sourceFilter != "")
	args := []interface{}{embedding, topK}
	if sourceFilter != "" {
		args = append(args, sourceFilter)
	}

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var results []SimilaritySearchResult
	for rows.Next() {
		var doc Document
		var metadataJSON []byte
		var similarity float64

		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		results = append(results, SimilaritySearchResult{Document: doc, Score: similarity})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.tableName}.Sanitize()
}

// similarityQuery builds the search statement. Args are $1 embedding, $2 limit
// and, with a source filter, $3 source.
func similarityQuery(table string, withSource bool) string {
	where := ""
	if withSource {
		where = "WHERE metadata->>'source' = $3"
	}
	return fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, table, where)
}
