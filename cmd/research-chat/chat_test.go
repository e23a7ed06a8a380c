package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-chat/pkg/chat"
	"github.com/mikeboe/research-chat/pkg/clients"
	"github.com/mikeboe/research-chat/pkg/config"
	"github.com/mikeboe/research-chat/pkg/research"
)

type echoLLM struct{}

func (echoLLM) Complete(context.Context, clients.Request) (string, error) { return "SEARCH", nil }

func (echoLLM) Stream(_ context.Context, req clients.Request, onChunk func(string) error) (string, error) {
	last := req.Messages[len(req.Messages)-1].Content
	for _, c := range []string{"You asked: ", last} {
		if err := onChunk(c); err != nil {
			return "", err
		}
	}
	return "You asked: " + last, nil
}

func newTestREPL(t *testing.T) (*repl, *bytes.Buffer) {
	t.Helper()
	retriever := research.RetrieverFunc(func(_ context.Context, q string, _ int) ([]research.SearchResult, error) {
		return []research.SearchResult{{Title: "Doc about " + q, URL: "https://example.com/doc"}}, nil
	})
	cfg := &config.Config{SearchMaxResults: 3, DeepMaxResults: 5, DeepQueries: 3, TablePreviewRows: 5}
	var out bytes.Buffer
	return &repl{
		svc:  chat.NewService(echoLLM{}, retriever, nil, cfg),
		sess: chat.NewSession(),
		out:  &out,
	}, &out
}

func TestREPL_AskStreamsRawText(t *testing.T) {
	r, out := newTestREPL(t)

	require.NoError(t, r.handle(context.Background(), "what is pgvector"))

	assert.Contains(t, out.String(), "You asked: what is pgvector")
	assert.Contains(t, out.String(), "https://example.com/doc")
	msgs := r.sess.Active().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "You asked: what is pgvector", msgs[1].Content)
}

func TestREPL_AskRendersMarkdown(t *testing.T) {
	r, out := newTestREPL(t)
	r.render = func(s string) string { return "<rendered>" + s + "</rendered>\n" }

	require.NoError(t, r.handle(context.Background(), "hello"))
	assert.Contains(t, out.String(), "<rendered>You asked: hello</rendered>")
}

func TestREPL_ThreadCommands(t *testing.T) {
	r, out := newTestREPL(t)
	ctx := context.Background()
	first := r.sess.ActiveID()

	require.NoError(t, r.handle(ctx, "/new"))
	assert.Len(t, r.sess.Threads(), 2)
	assert.NotEqual(t, first, r.sess.ActiveID())

	require.NoError(t, r.handle(ctx, "/switch 1"))
	assert.Equal(t, first, r.sess.ActiveID())

	assert.Error(t, r.handle(ctx, "/switch 9"))
	assert.Error(t, r.handle(ctx, "/switch x"))

	require.NoError(t, r.handle(ctx, "/delete 2"))
	assert.Len(t, r.sess.Threads(), 1)

	require.NoError(t, r.handle(ctx, "/delete"))
	assert.Len(t, r.sess.Threads(), 1)
	assert.NotEqual(t, first, r.sess.ActiveID())

	out.Reset()
	require.NoError(t, r.handle(ctx, "/threads"))
	assert.Contains(t, out.String(), chat.DefaultTitle)
}

func TestREPL_Deep(t *testing.T) {
	r, _ := newTestREPL(t)
	ctx := context.Background()

	require.NoError(t, r.handle(ctx, "/deep on"))
	assert.True(t, r.deep)
	assert.Contains(t, r.prompt(), "deep")
	require.NoError(t, r.handle(ctx, "/deep off"))
	assert.False(t, r.deep)
	assert.Error(t, r.handle(ctx, "/deep maybe"))
}

func TestREPL_AttachAndExport(t *testing.T) {
	r, _ := newTestREPL(t)
	ctx := context.Background()
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "scores.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("name,score\nada,10\n"), 0o644))
	require.NoError(t, r.handle(ctx, "/attach "+csvPath))
	assert.Equal(t, "scores.csv", r.sess.Active().TableName)

	assert.Error(t, r.handle(ctx, "/attach "+filepath.Join(dir, "missing.txt")))
	assert.Error(t, r.handle(ctx, "/attach"))

	require.NoError(t, r.handle(ctx, "/detach"))
	assert.Nil(t, r.sess.Active().Table)

	require.NoError(t, r.handle(ctx, "tell me about ada"))
	mdPath := filepath.Join(dir, "out.md")
	require.NoError(t, r.handle(ctx, "/export "+mdPath))
	data, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# tell me about ada"))
}

func TestREPL_Run(t *testing.T) {
	r, out := newTestREPL(t)

	err := r.run(context.Background(), strings.NewReader("/bogus\n\nhi\n/quit\nnever reached\n"))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "unknown command /bogus")
	assert.Contains(t, out.String(), "You asked: hi")
	assert.NotContains(t, out.String(), "never reached")
	assert.Len(t, r.sess.Active().Messages, 2)
}
