package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikeboe/research-chat/pkg/clients"
)

var (
	plotKeywords     = []string{"plot", "chart", "graph", "visualize", "visualise", "histogram"}
	analysisKeywords = []string{
		"analyze", "analyse", "analysis", "calculate", "compute", "average", "mean",
		"median", "sum", "total", "count", "correlation", "statistics", "stats",
		"max", "min", "trend", "group by", "distribution",
	}
)

const classifyPrompt = `Decide whether answering the user's latest message needs a fresh web search.
Reply with exactly one word: SEARCH if it asks about facts, news, people, places or anything that benefits from current sources; CHAT if it is small talk, a follow-up about the conversation itself, or a request to rewrite or summarize earlier answers.`

// analysisIntent reports whether the message asks for work on the attached
// table, and whether it is a plotting request.
func analysisIntent(text string) (Intent, bool) {
	lower := strings.ToLower(text)
	for _, k := range plotKeywords {
		if containsWord(lower, k, true) {
			return IntentPlot, true
		}
	}
	for _, k := range analysisKeywords {
		if containsWord(lower, k, false) {
			return IntentAnalyze, true
		}
	}
	return "", false
}

// containsWord reports whether word occurs in s starting at a word boundary.
// Unless prefix is set it must also end at one.
func containsWord(s, word string, prefix bool) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isLetter(s[start-1])) && (prefix || end == len(s) || !isLetter(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}

// classify asks the model whether a turn needs retrieval.
func (s *Service) classify(ctx context.Context, text string) (Intent, error) {
	reply, err := s.LLM.Complete(ctx, clients.Request{
		Messages: []clients.Message{
			{Role: clients.RoleSystem, Content: classifyPrompt},
			{Role: clients.RoleUser, Content: text},
		},
		Temperature: 0,
		MaxTokens:   5,
	})
	if err != nil {
		return IntentSearch, &Error{Kind: KindClassification, Op: "classify", Err: err}
	}
	return parseIntent(reply)
}

func parseIntent(reply string) (Intent, error) {
	upper := strings.ToUpper(reply)
	hasSearch := strings.Contains(upper, string(IntentSearch))
	hasChat := strings.Contains(upper, string(IntentChat))
	switch {
	case hasChat && !hasSearch:
		return IntentChat, nil
	case hasSearch:
		return IntentSearch, nil
	default:
		return IntentSearch, &Error{Kind: KindClassification, Op: "classify", Err: fmt.Errorf("unrecognized reply %q", reply)}
	}
}
