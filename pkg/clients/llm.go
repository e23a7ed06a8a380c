package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// LLM adapts a langchaingo model to Completions.
type LLM struct {
	model        llms.Model
	defaultModel string
}

var _ Completions = (*LLM)(nil)

// NewLLM wraps an already configured langchaingo model.
func NewLLM(model llms.Model, defaultModel string) *LLM {
	return &LLM{model: model, defaultModel: defaultModel}
}

// NewOpenAI talks to any OpenAI-compatible endpoint (Groq, Ollama, OpenAI).
func NewOpenAI(baseURL, apiKey, model string) (*LLM, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init openai client: %w", err)
	}
	return NewLLM(llm, model), nil
}

// NewGoogle uses the Gemini API.
func NewGoogle(ctx context.Context, apiKey, model string) (*LLM, error) {
	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to init google client: %w", err)
	}
	return NewLLM(llm, model), nil
}

// New picks the provider by name.
func New(ctx context.Context, provider, baseURL, apiKey, model string) (*LLM, error) {
	switch provider {
	case "", "openai", "groq":
		return NewOpenAI(baseURL, apiKey, model)
	case "google", "gemini":
		return NewGoogle(ctx, apiKey, model)
	default:
		return nil, fmt.Errorf("invalid llm provider: %s", provider)
	}
}

func (l *LLM) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := l.model.GenerateContent(ctx, toMessageContent(req.Messages), l.callOptions(req)...)
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return resp.Choices[0].Content, nil
}

func (l *LLM) Stream(ctx context.Context, req Request, onChunk func(chunk string) error) (string, error) {
	opts := append(l.callOptions(req), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onChunk(string(chunk))
	}))

	resp, err := l.model.GenerateContent(ctx, toMessageContent(req.Messages), opts...)
	if err != nil {
		return "", fmt.Errorf("llm stream failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return resp.Choices[0].Content, nil
}

func (l *LLM) callOptions(req Request) []llms.CallOption {
	model := req.Model
	if model == "" {
		model = l.defaultModel
	}

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}
	return opts
}

func toMessageContent(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		var role llms.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}
