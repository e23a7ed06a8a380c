package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/research-chat/pkg/chat"
	"github.com/mikeboe/research-chat/pkg/research"
)

// Tools exposes retrieval to MCP clients.
type Tools struct {
	Searcher         *research.Searcher
	Planner          *research.Planner
	Knowledge        research.Retriever
	SearchMaxResults int
	DeepMaxResults   int
}

type SearchArgs struct {
	Query      string `json:"query" jsonschema:"the search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of results to return"`
}

type SearchOutput struct {
	Queries []string                `json:"queries"`
	Results []research.SearchResult `json:"results"`
}

// NewMCPServer registers web_search, deep_search and, when a knowledge
// retriever is configured, knowledge_search.
func NewMCPServer(t *Tools, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "research-chat", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "web_search",
		Description: "Search the web and return titled snippets with their URLs.",
	}, t.webSearch)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "deep_search",
		Description: "Break a question into several search queries, run them all and return the merged, deduplicated results.",
	}, t.deepSearch)
	if t.Knowledge != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "knowledge_search",
			Description: "Semantic search over documents ingested into the local knowledge base.",
		}, t.knowledgeSearch)
	}
	return server
}

// NewMCPHandler serves server over the streamable HTTP transport.
func NewMCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

func (t *Tools) webSearch(ctx context.Context, _ *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required")
	}
	return t.run(ctx, []string{args.Query}, limit(args.MaxResults, t.SearchMaxResults))
}

func (t *Tools) deepSearch(ctx context.Context, _ *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required")
	}
	queries := t.Planner.Plan(ctx, args.Query, true)
	return t.run(ctx, queries, limit(args.MaxResults, t.DeepMaxResults))
}

func (t *Tools) knowledgeSearch(ctx context.Context, _ *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required")
	}
	results, err := t.Knowledge.Search(ctx, args.Query, limit(args.MaxResults, t.SearchMaxResults))
	if err != nil {
		return nil, SearchOutput{}, &chat.Error{Kind: chat.KindRetrieval, Op: "knowledge_search", Err: err}
	}
	out := SearchOutput{Queries: []string{args.Query}, Results: research.Dedup(results)}
	return textResult(out), out, nil
}

func (t *Tools) run(ctx context.Context, queries []string, maxResults int) (*mcp.CallToolResult, SearchOutput, error) {
	results := t.Searcher.Retrieve(ctx, queries, maxResults, nil)
	out := SearchOutput{Queries: queries, Results: results}
	return textResult(out), out, nil
}

func limit(requested, fallback int) int {
	if requested > 0 && requested <= 20 {
		return requested
	}
	return fallback
}

// textResult renders results the same way the chat context block does.
func textResult(out SearchOutput) *mcp.CallToolResult {
	text := chat.Assembler{}.Assemble(out.Results, "", nil)
	if text == "" {
		text = "No results found."
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
