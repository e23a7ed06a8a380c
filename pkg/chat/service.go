package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-chat/pkg/clients"
	"github.com/mikeboe/research-chat/pkg/config"
	"github.com/mikeboe/research-chat/pkg/ingest"
	"github.com/mikeboe/research-chat/pkg/research"
)

const (
	searchPrompt = `You are a helpful research assistant. Answer the user's question using the context below when it is relevant.
Cite web sources inline by their number, for example [1]. If the context does not contain the answer, say so and answer from general knowledge.`
	chatPrompt = `You are a helpful research assistant. Continue the conversation naturally.`
)

var errConsumerGone = errors.New("stream consumer stopped")

// Service runs conversation turns.
type Service struct {
	LLM       clients.Completions
	Planner   *research.Planner
	Searcher  *research.Searcher
	Assembler Assembler
	Parser    *ingest.Parser
	// Executor runs generated analysis code. Nil disables the analysis step.
	Executor Executor

	Model            string
	Temperature      float64
	SearchMaxResults int
	DeepMaxResults   int
	AnalysisTimeout  time.Duration
	Logger           *slog.Logger
}

func NewService(llm clients.Completions, retriever research.Retriever, executor Executor, cfg *config.Config) *Service {
	searcher := research.NewSearcher(retriever, cfg.SearchParallel)
	return &Service{
		LLM:      llm,
		Planner:  research.NewPlanner(llm, cfg.DeepQueries),
		Searcher: searcher,
		Assembler: Assembler{
			DocumentLimit: cfg.DocumentCharLimit,
			SnippetLimit:  cfg.SnippetCharLimit,
			PreviewRows:   cfg.TablePreviewRows,
		},
		Parser:           ingest.NewParser(ingest.NewOCR(cfg.MistralApiKey)),
		Executor:         executor,
		Model:            cfg.ChatModel,
		Temperature:      cfg.Temperature,
		SearchMaxResults: cfg.SearchMaxResults,
		DeepMaxResults:   cfg.DeepMaxResults,
		AnalysisTimeout:  cfg.AnalysisTimeout,
		Logger:           slog.Default(),
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// SendMessage runs one turn on the session's active thread. The returned
// iterator drives the turn: nothing happens until it is ranged over. The
// assistant message is saved before the final done event.
func (s *Service) SendMessage(ctx context.Context, sess *Session, req TurnRequest) (iter.Seq2[StreamEvent, error], error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if sess.busy() {
		return nil, ErrTurnInProgress
	}

	return func(yield func(StreamEvent, error) bool) {
		if !sess.turn.TryLock() {
			yield(StreamEvent{Type: EventError, Payload: ErrTurnInProgress.Error()}, ErrTurnInProgress)
			return
		}
		defer sess.turn.Unlock()

		thread := sess.beginTurn(text)
		logger := s.logger().With("session_id", sess.ID(), "thread_id", thread.ID)
		logger.Info("Starting turn", "deep", req.Deep, "history", len(thread.Messages))

		if !yield(StreamEvent{Type: EventStatus, Payload: Status{Phase: PhaseAwaitingUserInput}}, nil) {
			return
		}

		intent := s.route(ctx, logger, text, req.Deep, thread.Table != nil)

		var results []research.SearchResult
		retrieved := false
		if intent == IntentSearch {
			var ok bool
			results, ok = s.retrieve(ctx, text, req.Deep, yield)
			if !ok {
				return
			}
			retrieved = true
			if !yield(StreamEvent{Type: EventSources, Payload: results}, nil) {
				return
			}
		}

		if !yield(StreamEvent{Type: EventStatus, Payload: Status{Phase: PhaseGenerating, Intent: intent}}, nil) {
			return
		}

		msg := Message{Role: RoleAssistant}
		if retrieved {
			msg.Sources = results
		}

		var answer strings.Builder
		stopped := false
		_, err := s.LLM.Stream(ctx, s.request(intent, thread, results), func(chunk string) error {
			answer.WriteString(chunk)
			if !yield(StreamEvent{Type: EventContent, Payload: chunk}, nil) {
				stopped = true
				return errConsumerGone
			}
			return nil
		})
		msg.Content = answer.String()

		if stopped {
			logger.Info("Stream consumer went away, saving partial answer", "chars", len(msg.Content))
			if msg.Content != "" {
				s.save(logger, sess, thread.ID, msg)
			}
			return
		}

		if err != nil {
			genErr := &Error{Kind: KindGeneration, Op: "stream answer", Err: err}
			logger.Error("Generation failed", "error", genErr)
			notice := "Sorry, something went wrong while generating the answer: " + err.Error()
			if msg.Content != "" {
				msg.Content += "\n\n" + notice
			} else {
				msg.Content = notice
			}
			if !yield(StreamEvent{Type: EventError, Payload: genErr.Error()}, nil) {
				s.save(logger, sess, thread.ID, msg)
				return
			}
		} else {
			msg.GeneratedCode = ExtractCode(msg.Content)
			if msg.GeneratedCode != "" && thread.Table != nil && s.Executor != nil {
				msg.Analysis = s.analyze(ctx, msg.GeneratedCode, thread.Table)
				if !yield(StreamEvent{Type: EventAnalysis, Payload: msg.Analysis}, nil) {
					s.save(logger, sess, thread.ID, msg)
					return
				}
			}
		}

		msg = s.save(logger, sess, thread.ID, msg)
		logger.Info("Turn completed", "intent", intent, "sources", len(msg.Sources), "chars", len(msg.Content))

		if !yield(StreamEvent{Type: EventStatus, Payload: Status{Phase: PhaseIdle}}, nil) {
			return
		}
		yield(StreamEvent{Type: EventDone, Payload: msg}, nil)
	}, nil
}

// route picks the intent for a turn. Classification failures fall back to
// SEARCH.
func (s *Service) route(ctx context.Context, logger *slog.Logger, text string, deep, hasTable bool) Intent {
	if hasTable {
		if intent, ok := analysisIntent(text); ok {
			return intent
		}
	}
	if deep {
		return IntentSearch
	}
	intent, err := s.classify(ctx, text)
	if err != nil {
		logger.Warn("Intent classification failed, defaulting to search", "error", err)
		return IntentSearch
	}
	logger.Info("Classified intent", "intent", intent)
	return intent
}

// retrieve plans and runs the searches for a turn, reporting progress as
// status events. ok is false when the consumer stopped the stream.
func (s *Service) retrieve(ctx context.Context, text string, deep bool, yield func(StreamEvent, error) bool) (results []research.SearchResult, ok bool) {
	if !yield(StreamEvent{Type: EventStatus, Payload: Status{Phase: PhaseRetrieving, Intent: IntentSearch}}, nil) {
		return nil, false
	}

	limit := s.SearchMaxResults
	queries := []string{text}
	var onProgress func(research.Progress)
	stopped := false
	if deep {
		limit = s.DeepMaxResults
		queries = s.Planner.Plan(ctx, text, true)
		onProgress = func(p research.Progress) {
			if stopped {
				return
			}
			if !yield(StreamEvent{Type: EventStatus, Payload: Status{Phase: PhaseRetrieving, Intent: IntentSearch, Queries: queries, Progress: &p}}, nil) {
				stopped = true
			}
		}
	}

	results = s.Searcher.Retrieve(ctx, queries, limit, onProgress)
	if stopped {
		return nil, false
	}
	return results, true
}

func (s *Service) request(intent Intent, thread Thread, results []research.SearchResult) clients.Request {
	system := searchPrompt
	switch intent {
	case IntentChat:
		system = chatPrompt
	case IntentAnalyze:
		system = searchPrompt + "\n\n" + analysisPrompt
	case IntentPlot:
		system = searchPrompt + "\n\n" + analysisPrompt + "\n" + plotPrompt
	}

	if block := s.Assembler.Assemble(results, thread.Document, thread.Table); block != "" {
		system += "\n\n" + block
	}

	msgs := make([]clients.Message, 0, len(thread.Messages)+1)
	msgs = append(msgs, clients.Message{Role: clients.RoleSystem, Content: system})
	for _, m := range thread.Messages {
		msgs = append(msgs, clients.Message{Role: m.Role, Content: m.Content})
	}
	return clients.Request{
		Messages:    msgs,
		Model:       s.Model,
		Temperature: s.Temperature,
	}
}

func (s *Service) save(logger *slog.Logger, sess *Session, threadID uuid.UUID, msg Message) Message {
	msg.CreatedAt = time.Now()
	if err := sess.appendMessage(threadID, msg); err != nil {
		logger.Error("Failed to save assistant message", "error", err)
	}
	return msg
}

// Attach parses an upload and attaches it to the session's active thread,
// replacing any previous attachment of the same kind.
func (s *Service) Attach(ctx context.Context, sess *Session, name string, data []byte) (*ingest.Attachment, error) {
	att, err := s.Parser.Parse(ctx, name, data)
	if err != nil {
		return nil, &Error{Kind: KindIngestion, Op: fmt.Sprintf("attach %s", name), Err: err}
	}
	if att.Table != nil {
		sess.AttachTable(att.Name, att.Table)
		s.logger().Info("Attached table", "session_id", sess.ID(), "name", att.Name, "rows", len(att.Table.Rows))
	} else {
		sess.AttachDocument(att.Name, att.Document)
		s.logger().Info("Attached document", "session_id", sess.ID(), "name", att.Name, "chars", len(att.Document))
	}
	return att, nil
}
