package clients

import "context"

// Role tags a message for the completion API.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the ordered list sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion call.
type Request struct {
	Messages    []Message
	Model       string // empty uses the client's default model
	Temperature float64
	MaxTokens   int
	JSON        bool // ask for a JSON object response
}

// Completions is the capability the chat loop and the planner need from a model provider.
type Completions interface {
	// Complete returns the whole response text.
	Complete(ctx context.Context, req Request) (string, error)
	// Stream delivers the response in order through onChunk and returns once the
	// stream has ended. A non-nil error from onChunk aborts the stream.
	Stream(ctx context.Context, req Request, onChunk func(chunk string) error) (string, error)
}
