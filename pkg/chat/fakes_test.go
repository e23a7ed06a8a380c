package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mikeboe/research-chat/pkg/clients"
	"github.com/mikeboe/research-chat/pkg/config"
	"github.com/mikeboe/research-chat/pkg/ingest"
	"github.com/mikeboe/research-chat/pkg/research"
)

type fakeLLM struct {
	mu sync.Mutex

	classifyReply string
	classifyErr   error
	planReply     string
	planErr       error

	chunks    []string
	streamErr error

	classifyCalls int
	planCalls     int
	streamed      []clients.Request
}

func (f *fakeLLM) Complete(_ context.Context, req clients.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.JSON {
		f.planCalls++
		return f.planReply, f.planErr
	}
	f.classifyCalls++
	return f.classifyReply, f.classifyErr
}

func (f *fakeLLM) Stream(_ context.Context, req clients.Request, onChunk func(string) error) (string, error) {
	f.mu.Lock()
	f.streamed = append(f.streamed, req)
	chunks, streamErr := f.chunks, f.streamErr
	f.mu.Unlock()

	var full string
	for _, c := range chunks {
		if err := onChunk(c); err != nil {
			return full, err
		}
		full += c
	}
	return full, streamErr
}

func (f *fakeLLM) lastRequest() clients.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamed[len(f.streamed)-1]
}

type searchCall struct {
	Query string
	Limit int
}

type fakeRetriever struct {
	mu      sync.Mutex
	results map[string][]research.SearchResult
	fail    map[string]bool
	calls   []searchCall
}

func (f *fakeRetriever) Search(_ context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, searchCall{Query: query, Limit: maxResults})
	if f.fail[query] {
		return nil, errors.New("search backend unavailable")
	}
	return f.results[query], nil
}

func (f *fakeRetriever) Calls() []searchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]searchCall(nil), f.calls...)
}

type fakeExecutor struct {
	code   string
	output string
	err    error
}

func (f *fakeExecutor) Run(_ context.Context, code string, _ *ingest.Table) (string, error) {
	f.code = code
	return f.output, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		ChatModel:         "test-model",
		Temperature:       0.7,
		SearchMaxResults:  3,
		DeepMaxResults:    5,
		DeepQueries:       3,
		SearchParallel:    3,
		DocumentCharLimit: 20000,
		TablePreviewRows:  5,
	}
}

func newTestService(llm *fakeLLM, r *fakeRetriever, exec Executor) *Service {
	return NewService(llm, r, exec, testConfig())
}

func collect(t *testing.T, svc *Service, sess *Session, req TurnRequest) []StreamEvent {
	t.Helper()
	seq, err := svc.SendMessage(context.Background(), sess, req)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	var events []StreamEvent
	for ev, err := range seq {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func eventsOfType(events []StreamEvent, typ string) []StreamEvent {
	var out []StreamEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
