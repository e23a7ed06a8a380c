// Package app wires configuration into the chat service and its optional
// knowledge base. Both binaries build their dependencies through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/research-chat/pkg/chat"
	"github.com/mikeboe/research-chat/pkg/clients"
	"github.com/mikeboe/research-chat/pkg/config"
	"github.com/mikeboe/research-chat/pkg/database"
	"github.com/mikeboe/research-chat/pkg/embeddings"
	"github.com/mikeboe/research-chat/pkg/ingest"
	"github.com/mikeboe/research-chat/pkg/research"
	"github.com/mikeboe/research-chat/pkg/research/tools"
	"github.com/mikeboe/research-chat/pkg/sandbox"
	"github.com/mikeboe/research-chat/pkg/splitter"
	"github.com/mikeboe/research-chat/pkg/vectorstore"
)

// KnowledgeBase is the pgvector-backed document collection.
type KnowledgeBase struct {
	DB       *database.PostgresDB
	Store    *vectorstore.PGVectorStore
	Embedder *embeddings.GoogleEmbedder
	Pipeline *ingest.Pipeline
}

// OpenKnowledge connects to the knowledge database. It returns nil when no
// DATABASE_URL is configured.
func OpenKnowledge(ctx context.Context, cfg *config.Config) (*KnowledgeBase, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	if cfg.GoogleApiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is required for the knowledge base")
	}
	if !vectorstore.ValidCollection(cfg.CollectionName) {
		return nil, fmt.Errorf("invalid collection name %q", cfg.CollectionName)
	}

	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := db.CreateCollection(ctx, cfg.CollectionName, embeddings.Dimension); err != nil {
		db.Close()
		return nil, err
	}

	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		db.Close()
		return nil, err
	}
	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &KnowledgeBase{
		DB:       db,
		Store:    store,
		Embedder: embedder,
		Pipeline: &ingest.Pipeline{
			Fetcher:  ingest.NewFetcher(ingest.NewOCR(cfg.MistralApiKey)),
			Splitter: splitter.NewRecursiveCharacterTextSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
			Embedder: embedder,
			Store:    store,
			Logger:   slog.Default(),
		},
	}, nil
}

func (k *KnowledgeBase) Retriever() *tools.Knowledge {
	return tools.NewKnowledge(k.Embedder, k.Store)
}

func (k *KnowledgeBase) Close() {
	k.DB.Close()
}

// NewRetriever selects the retrieval backend named by SEARCH_PROVIDER.
// Tavily without an API key falls back to DuckDuckGo.
func NewRetriever(cfg *config.Config, kb *KnowledgeBase) (research.Retriever, error) {
	switch strings.ToLower(cfg.SearchProvider) {
	case "", "tavily":
		if cfg.TavilyApiKey == "" {
			slog.Warn("TAVILY_API_KEY not set, falling back to DuckDuckGo")
			return tools.NewDuckDuckGo(), nil
		}
		return tools.NewTavily(cfg.TavilyApiKey), nil
	case "duckduckgo", "ddg":
		return tools.NewDuckDuckGo(), nil
	case "arxiv":
		return tools.NewArxiv(), nil
	case "knowledge":
		if kb == nil {
			return nil, fmt.Errorf("search provider %q needs DATABASE_URL", cfg.SearchProvider)
		}
		return kb.Retriever(), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.SearchProvider)
	}
}

// NewChatService builds the completion client, retriever and sandbox.
func NewChatService(ctx context.Context, cfg *config.Config, kb *KnowledgeBase) (*chat.Service, error) {
	llm, err := clients.New(ctx, cfg.LLMProvider, cfg.LLMBaseURL, cfg.LLMApiKey, cfg.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}

	retriever, err := NewRetriever(cfg, kb)
	if err != nil {
		return nil, err
	}

	var executor chat.Executor
	if cfg.AnalysisEnabled {
		executor = sandbox.NewYaegi()
	}

	slog.Info("Chat service ready",
		"provider", cfg.LLMProvider,
		"model", cfg.ChatModel,
		"search_provider", cfg.SearchProvider,
		"analysis", cfg.AnalysisEnabled,
		"knowledge", kb != nil,
	)
	return chat.NewService(llm, retriever, executor, cfg), nil
}
