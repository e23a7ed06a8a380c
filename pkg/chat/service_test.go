package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-chat/pkg/clients"
	"github.com/mikeboe/research-chat/pkg/ingest"
	"github.com/mikeboe/research-chat/pkg/research"
)

func franceResults() []research.SearchResult {
	return []research.SearchResult{
		{Title: "Paris - Wikipedia", URL: "https://en.wikipedia.org/wiki/Paris", Content: "Paris is the capital and largest city of France."},
		{Title: "France facts", URL: "https://example.com/france", Content: "The capital of France is Paris."},
		{Title: "Capitals of Europe", URL: "https://example.com/capitals", Content: "Paris (France), Berlin (Germany), Madrid (Spain)."},
	}
}

func TestSendMessage_SearchTurn(t *testing.T) {
	question := "What is the capital of France?"
	llm := &fakeLLM{classifyReply: "SEARCH", chunks: []string{"Paris", " is the capital", " of France [1]."}}
	r := &fakeRetriever{results: map[string][]research.SearchResult{question: franceResults()}}
	svc := newTestService(llm, r, nil)
	sess := NewSession()

	events := collect(t, svc, sess, TurnRequest{Text: question})

	assert.Equal(t, []searchCall{{Query: question, Limit: 3}}, r.Calls())
	assert.Equal(t, 1, llm.classifyCalls)
	assert.Zero(t, llm.planCalls)

	sources := eventsOfType(events, EventSources)
	require.Len(t, sources, 1)
	assert.Len(t, sources[0].Payload, 3)

	var streamed strings.Builder
	for _, ev := range eventsOfType(events, EventContent) {
		streamed.WriteString(ev.Payload.(string))
	}

	require.Equal(t, EventDone, events[len(events)-1].Type)
	done := events[len(events)-1].Payload.(Message)
	assert.Equal(t, "Paris is the capital of France [1].", done.Content)
	assert.Equal(t, streamed.String(), done.Content)

	thread := sess.Active()
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, RoleUser, thread.Messages[0].Role)
	assert.Equal(t, question, thread.Messages[0].Content)
	assert.Equal(t, RoleAssistant, thread.Messages[1].Role)
	assert.Equal(t, done.Content, thread.Messages[1].Content)
	assert.Len(t, thread.Messages[1].Sources, 3)
	assert.Equal(t, "What is the capital of...", thread.Title)

	req := llm.lastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, clients.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "WEB SOURCES:")
	assert.Contains(t, req.Messages[0].Content, "[1] Paris - Wikipedia | URL: https://en.wikipedia.org/wiki/Paris | CONTENT: Paris is the capital and largest city of France.")
	assert.Equal(t, clients.Message{Role: clients.RoleUser, Content: question}, req.Messages[1])
	assert.Equal(t, "test-model", req.Model)
}

func TestSendMessage_PhaseOrder(t *testing.T) {
	llm := &fakeLLM{classifyReply: "SEARCH", chunks: []string{"ok"}}
	svc := newTestService(llm, &fakeRetriever{}, nil)

	events := collect(t, svc, NewSession(), TurnRequest{Text: "hello there"})

	var phases []Phase
	for _, ev := range eventsOfType(events, EventStatus) {
		phases = append(phases, ev.Payload.(Status).Phase)
	}
	want := []Phase{PhaseAwaitingUserInput, PhaseRetrieving, PhaseGenerating, PhaseIdle}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, EventDone, events[len(events)-1].Type)
}

func TestSendMessage_DeepTurn(t *testing.T) {
	question := "How do heat pumps compare to gas boilers?"
	llm := &fakeLLM{
		planReply: `{"queries": ["heat pump efficiency", "gas boiler running cost", "heat pump vs boiler emissions"]}`,
		chunks:    []string{"Heat pumps win."},
	}
	r := &fakeRetriever{results: map[string][]research.SearchResult{
		"heat pump efficiency": {
			{Title: "A", URL: "https://a.example"},
			{Title: "B", URL: "https://b.example"},
		},
		"gas boiler running cost": {
			{Title: "C", URL: "https://c.example"},
			{Title: "A again", URL: "https://a.example"},
		},
		"heat pump vs boiler emissions": {
			{Title: "D", URL: "https://d.example"},
			{Title: "E", URL: "https://e.example"},
		},
	}}
	svc := newTestService(llm, r, nil)
	sess := NewSession()

	events := collect(t, svc, sess, TurnRequest{Text: question, Deep: true})

	assert.Zero(t, llm.classifyCalls, "deep turns skip classification")
	assert.Equal(t, 1, llm.planCalls)
	calls := r.Calls()
	require.Len(t, calls, 3)
	for _, c := range calls {
		assert.Equal(t, 5, c.Limit)
	}

	var progress []research.Progress
	for _, ev := range eventsOfType(events, EventStatus) {
		if p := ev.Payload.(Status).Progress; p != nil {
			progress = append(progress, *p)
		}
	}
	want := []research.Progress{
		{Index: 1, Total: 3, Query: "heat pump efficiency"},
		{Index: 2, Total: 3, Query: "gas boiler running cost"},
		{Index: 3, Total: 3, Query: "heat pump vs boiler emissions"},
	}
	if diff := cmp.Diff(want, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}

	saved := sess.Active().Messages[1]
	var urls []string
	for _, s := range saved.Sources {
		urls = append(urls, s.URL)
	}
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example", "https://d.example", "https://e.example"}, urls)
	assert.Equal(t, "A", saved.Sources[0].Title, "first occurrence wins")
}

func TestSendMessage_DeepPlanningFailure(t *testing.T) {
	question := "Explain quantum error correction"
	llm := &fakeLLM{planErr: errors.New("rate limited"), chunks: []string{"..."}}
	r := &fakeRetriever{}
	svc := newTestService(llm, r, nil)

	collect(t, svc, NewSession(), TurnRequest{Text: question, Deep: true})

	assert.Equal(t, []searchCall{{Query: question, Limit: 5}}, r.Calls())
}

func TestSendMessage_ChatIntentSkipsRetrieval(t *testing.T) {
	llm := &fakeLLM{classifyReply: "CHAT", chunks: []string{"You're welcome!"}}
	r := &fakeRetriever{}
	svc := newTestService(llm, r, nil)
	sess := NewSession()

	events := collect(t, svc, sess, TurnRequest{Text: "thanks a lot"})

	assert.Empty(t, r.Calls())
	assert.Empty(t, eventsOfType(events, EventSources))
	assert.Nil(t, sess.Active().Messages[1].Sources)
	assert.NotContains(t, llm.lastRequest().Messages[0].Content, "WEB SOURCES")
}

func TestSendMessage_ClassificationFailureDefaultsToSearch(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "request error", err: errors.New("timeout")},
		{name: "unrecognized reply", reply: "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{classifyReply: tt.reply, classifyErr: tt.err, chunks: []string{"answer"}}
			r := &fakeRetriever{}
			svc := newTestService(llm, r, nil)

			collect(t, svc, NewSession(), TurnRequest{Text: "latest rust release"})

			assert.Len(t, r.Calls(), 1)
		})
	}
}

func TestSendMessage_RetrievalFailureStillAnswers(t *testing.T) {
	question := "who won the match"
	llm := &fakeLLM{classifyReply: "SEARCH", chunks: []string{"I could not find sources."}}
	r := &fakeRetriever{fail: map[string]bool{question: true}}
	svc := newTestService(llm, r, nil)
	sess := NewSession()

	events := collect(t, svc, sess, TurnRequest{Text: question})

	assert.Empty(t, eventsOfType(events, EventError))
	saved := sess.Active().Messages[1]
	assert.Empty(t, saved.Sources)
	assert.Equal(t, "I could not find sources.", saved.Content)
}

func TestSendMessage_GenerationFailure(t *testing.T) {
	tests := []struct {
		name       string
		chunks     []string
		wantPrefix string
	}{
		{name: "partial output", chunks: []string{"Par", "is"}, wantPrefix: "Paris\n\nSorry"},
		{name: "no output", wantPrefix: "Sorry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{classifyReply: "CHAT", chunks: tt.chunks, streamErr: errors.New("connection reset")}
			svc := newTestService(llm, &fakeRetriever{}, nil)
			sess := NewSession()

			events := collect(t, svc, sess, TurnRequest{Text: "hi"})

			errs := eventsOfType(events, EventError)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Payload, "generation failure")
			assert.Equal(t, EventDone, events[len(events)-1].Type)

			msgs := sess.Active().Messages
			require.Len(t, msgs, 2)
			assert.True(t, strings.HasPrefix(msgs[1].Content, tt.wantPrefix), msgs[1].Content)
			assert.Contains(t, msgs[1].Content, "connection reset")
		})
	}
}

func TestSendMessage_TitleSetOnce(t *testing.T) {
	llm := &fakeLLM{classifyReply: "CHAT", chunks: []string{"ok"}}
	svc := newTestService(llm, &fakeRetriever{}, nil)
	sess := NewSession()
	assert.Equal(t, DefaultTitle, sess.Active().Title)

	collect(t, svc, sess, TurnRequest{Text: "Tell me about Go generics"})
	collect(t, svc, sess, TurnRequest{Text: "And what about iterators in the latest release"})

	thread := sess.Active()
	assert.Equal(t, "Tell me about Go generics", thread.Title)
	assert.Len(t, thread.Messages, 4)

	req := llm.lastRequest()
	require.Len(t, req.Messages, 4, "system prompt plus full history")
	assert.Equal(t, "ok", req.Messages[2].Content)
}

func TestSendMessage_Validation(t *testing.T) {
	svc := newTestService(&fakeLLM{}, &fakeRetriever{}, nil)

	_, err := svc.SendMessage(context.Background(), NewSession(), TurnRequest{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendMessage_TurnInProgress(t *testing.T) {
	llm := &fakeLLM{classifyReply: "CHAT", chunks: []string{"ok"}}
	svc := newTestService(llm, &fakeRetriever{}, nil)
	sess := NewSession()

	t.Run("rejected before the iterator is returned", func(t *testing.T) {
		sess.turn.Lock()
		defer sess.turn.Unlock()

		_, err := svc.SendMessage(context.Background(), sess, TurnRequest{Text: "hi"})
		assert.ErrorIs(t, err, ErrTurnInProgress)
	})

	t.Run("rejected when the iterator starts", func(t *testing.T) {
		seq, err := svc.SendMessage(context.Background(), sess, TurnRequest{Text: "hi"})
		require.NoError(t, err)

		sess.turn.Lock()
		var got error
		for _, err := range seq {
			got = err
		}
		sess.turn.Unlock()

		assert.ErrorIs(t, got, ErrTurnInProgress)
		assert.Empty(t, sess.Active().Messages)
	})

	t.Run("nested turn from inside a stream", func(t *testing.T) {
		seq, err := svc.SendMessage(context.Background(), sess, TurnRequest{Text: "first"})
		require.NoError(t, err)

		var nested error
		for ev := range seq {
			if ev.Type == EventContent {
				_, nested = svc.SendMessage(context.Background(), sess, TurnRequest{Text: "second"})
			}
		}
		assert.ErrorIs(t, nested, ErrTurnInProgress)
		assert.Len(t, sess.Active().Messages, 2)
	})
}

func TestSendMessage_ConsumerStopsEarly(t *testing.T) {
	llm := &fakeLLM{classifyReply: "CHAT", chunks: []string{"one ", "two ", "three"}}
	svc := newTestService(llm, &fakeRetriever{}, nil)
	sess := NewSession()

	seq, err := svc.SendMessage(context.Background(), sess, TurnRequest{Text: "count"})
	require.NoError(t, err)
	for ev := range seq {
		if ev.Type == EventContent {
			break
		}
	}

	msgs := sess.Active().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "one ", msgs[1].Content)
	assert.False(t, sess.busy(), "turn lock released")
}

func TestSendMessage_TurnStaysOnStartingThread(t *testing.T) {
	llm := &fakeLLM{classifyReply: "CHAT", chunks: []string{"a", "b"}}
	svc := newTestService(llm, &fakeRetriever{}, nil)
	sess := NewSession()
	first := sess.ActiveID()

	seq, err := svc.SendMessage(context.Background(), sess, TurnRequest{Text: "hello"})
	require.NoError(t, err)
	switched := false
	for ev := range seq {
		if ev.Type == EventContent && !switched {
			sess.NewThread()
			switched = true
		}
	}

	thread, err := sess.Thread(first)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "ab", thread.Messages[1].Content)
	assert.Empty(t, sess.Active().Messages)
}

func TestSendMessage_Analysis(t *testing.T) {
	answer := "Here is the computation:\n\n```go\npackage main\n\nfunc Analyze(columns []string, rows [][]string) (string, error) {\n\treturn \"2\", nil\n}\n```\n"
	llm := &fakeLLM{chunks: []string{answer}}
	r := &fakeRetriever{}
	exec := &fakeExecutor{output: "average price: 2"}
	svc := newTestService(llm, r, exec)
	sess := NewSession()
	sess.AttachTable("prices.csv", &ingest.Table{
		Columns: []string{"item", "price"},
		Rows:    [][]string{{"apple", "1"}, {"pear", "3"}},
	})

	events := collect(t, svc, sess, TurnRequest{Text: "Calculate the average price"})

	assert.Empty(t, r.Calls(), "analysis skips retrieval")
	assert.Zero(t, llm.classifyCalls)
	assert.Contains(t, exec.code, "func Analyze")

	analysis := eventsOfType(events, EventAnalysis)
	require.Len(t, analysis, 1)
	assert.Equal(t, &AnalysisResult{OK: true, Output: "average price: 2"}, analysis[0].Payload)

	saved := sess.Active().Messages[1]
	assert.Equal(t, answer, saved.Content)
	assert.Contains(t, saved.GeneratedCode, "package main")
	require.NotNil(t, saved.Analysis)
	assert.True(t, saved.Analysis.OK)

	system := llm.lastRequest().Messages[0].Content
	assert.Contains(t, system, "DATA PREVIEW:")
	assert.Contains(t, system, "func Analyze")
}

func TestSendMessage_AnalysisFailureRecorded(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"```go\nbroken\n```"}}
	exec := &fakeExecutor{err: fmt.Errorf("compile: 1:1: expected 'package'")}
	svc := newTestService(llm, &fakeRetriever{}, exec)
	sess := NewSession()
	sess.AttachTable("t.csv", &ingest.Table{Columns: []string{"a"}, Rows: [][]string{{"1"}}})

	collect(t, svc, sess, TurnRequest{Text: "plot column a"})

	saved := sess.Active().Messages[1]
	require.NotNil(t, saved.Analysis)
	assert.False(t, saved.Analysis.OK)
	assert.Contains(t, saved.Analysis.Error, "compile")

	// Analysis output is never replayed to the model.
	llm.chunks = []string{"fine"}
	llm.classifyReply = "CHAT"
	collect(t, svc, sess, TurnRequest{Text: "thanks"})
	for _, m := range llm.lastRequest().Messages {
		assert.NotContains(t, m.Content, "expected 'package'")
	}
}

func TestSendMessage_DocumentContext(t *testing.T) {
	llm := &fakeLLM{classifyReply: "CHAT", chunks: []string{"summary"}}
	svc := newTestService(llm, &fakeRetriever{}, nil)
	sess := NewSession()
	sess.AttachDocument("notes.txt", "The quarterly revenue grew by 12 percent.")

	collect(t, svc, sess, TurnRequest{Text: "summarize my notes"})

	system := llm.lastRequest().Messages[0].Content
	assert.Contains(t, system, "DOCUMENT CONTEXT:\nThe quarterly revenue grew by 12 percent.")
}

func TestAttach(t *testing.T) {
	svc := newTestService(&fakeLLM{}, &fakeRetriever{}, nil)
	sess := NewSession()

	att, err := svc.Attach(context.Background(), sess, "data.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NotNil(t, att.Table)
	assert.Equal(t, []string{"a", "b"}, sess.Active().Table.Columns)
	assert.Equal(t, "data.csv", sess.Active().TableName)

	_, err = svc.Attach(context.Background(), sess, "notes.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", sess.Active().Document)

	_, err = svc.Attach(context.Background(), sess, "image.png", []byte{0x89, 'P', 'N', 'G'})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIngestion))
	assert.ErrorIs(t, err, ingest.ErrUnsupported)
}
