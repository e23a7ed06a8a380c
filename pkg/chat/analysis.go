package chat

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/mikeboe/research-chat/pkg/ingest"
)

// Executor runs model-generated analysis code against a table.
type Executor interface {
	Run(ctx context.Context, code string, table *ingest.Table) (string, error)
}

var fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")

// ExtractCode returns the first fenced Go block in text, or the first fenced
// block of any language when none is tagged as Go.
func ExtractCode(text string) string {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	for _, m := range matches {
		switch strings.ToLower(m[1]) {
		case "go", "golang":
			return strings.TrimSpace(m[2])
		}
	}
	return strings.TrimSpace(matches[0][2])
}

func (s *Service) analyze(ctx context.Context, code string, table *ingest.Table) *AnalysisResult {
	timeout := s.AnalysisTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := s.Executor.Run(ctx, code, table)
	if err != nil {
		s.logger().Warn("analysis failed", "error", err)
		return &AnalysisResult{OK: false, Output: out, Error: err.Error()}
	}
	return &AnalysisResult{OK: true, Output: out}
}

const analysisPrompt = `The user has attached a table. A preview is shown in the DATA PREVIEW block; the full table is available to code you write.
When the question needs computation, answer with a short explanation and exactly one Go code block of the form:

` + "```go" + `
package main

func Analyze(columns []string, rows [][]string) (string, error) {
	// compute and return the answer as text
}
` + "```" + `

Only the standard library packages bytes, errors, fmt, math, sort, strconv, strings, time and unicode may be imported. Rows hold raw strings and may be shorter than columns.`

const plotPrompt = `When a chart is requested, the returned string should be a plain-text chart (for example a bar chart made of block characters) followed by the numbers it shows.`
