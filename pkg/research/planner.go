package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mikeboe/research-chat/pkg/clients"
)

const plannerPrompt = `You are a research planner.
Break the user's question into %d distinct web search queries that together cover it.`

// Planner turns a question into search queries.
type Planner struct {
	LLM        clients.Completions
	MaxQueries int
	Logger     *slog.Logger
}

func NewPlanner(llm clients.Completions, maxQueries int) *Planner {
	if maxQueries <= 0 {
		maxQueries = 3
	}
	return &Planner{LLM: llm, MaxQueries: maxQueries, Logger: slog.Default()}
}

// Plan returns [question] unless deep is set, in which case the model is asked for
// sub-queries. Any failure falls back to [question].
func (p *Planner) Plan(ctx context.Context, question string, deep bool) []string {
	if !deep || p.LLM == nil {
		return []string{question}
	}

	content, err := p.LLM.Complete(ctx, clients.Request{
		Messages: []clients.Message{
			{Role: clients.RoleSystem, Content: fmt.Sprintf(plannerPrompt, p.MaxQueries) + "\n\n# Response Format: \n\n" + CreateSearchQueriesSchema(p.MaxQueries)},
			{Role: clients.RoleUser, Content: question},
		},
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		p.logger().Warn("Query planning failed, using original question", "error", err)
		return []string{question}
	}

	queries, err := parseQueries(content)
	if err != nil {
		p.logger().Warn("Unparsable query plan, using original question", "error", err, "content", content)
		return []string{question}
	}

	queries = uniqueQueries(queries)
	if len(queries) == 0 {
		p.logger().Warn("Empty query plan, using original question")
		return []string{question}
	}
	if len(queries) > p.MaxQueries {
		queries = queries[:p.MaxQueries]
	}

	p.logger().Info("Generated queries", "queries", queries)
	return queries
}

func (p *Planner) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func CreateSearchQueriesSchema(n int) string {
	return fmt.Sprintf(`Return the JSON object directly without any formatting or additional text. The JSON object should have the following structure as defined in the schema. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {
        "type": "string"
      },
      "description": "List of %d specific search queries"
    }
  },
  "required": ["queries"]
}`, n)
}

// parseQueries accepts {"queries": [...]}, {"list": [...]}, any other object whose
// first list-valued field holds the queries, or a bare array.
func parseQueries(content string) ([]string, error) {
	content = stripFence(content)

	var list []any
	if err := json.Unmarshal([]byte(content), &list); err == nil {
		return toStrings(list), nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, fmt.Errorf("json parse error: %w", err)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		if k != "queries" && k != "list" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	keys = append([]string{"queries", "list"}, keys...)

	for _, k := range keys {
		if l, ok := obj[k].([]any); ok {
			return toStrings(l), nil
		}
	}
	return nil, fmt.Errorf("no list field in response")
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func toStrings(list []any) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func uniqueQueries(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}
