package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-chat/pkg/clients"
	"github.com/mikeboe/research-chat/pkg/ingest"
	"github.com/mikeboe/research-chat/pkg/research"
)

type Role = clients.Role

const (
	RoleUser      = clients.RoleUser
	RoleAssistant = clients.RoleAssistant
	RoleSystem    = clients.RoleSystem
)

// Message is immutable once appended to a thread.
type Message struct {
	Role          Role                    `json:"role"`
	Content       string                  `json:"content"`
	Sources       []research.SearchResult `json:"sources,omitempty"`
	GeneratedCode string                  `json:"generated_code,omitempty"`
	Analysis      *AnalysisResult         `json:"analysis,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

// AnalysisResult records a sandboxed run of generated code. It is shown to the
// user only; it is never sent back to the model.
type AnalysisResult struct {
	OK     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Thread is one conversation with its own history and attachments.
type Thread struct {
	ID           uuid.UUID     `json:"id"`
	Title        string        `json:"title"`
	Messages     []Message     `json:"messages"`
	Document     string        `json:"-"`
	DocumentName string        `json:"document_name,omitempty"`
	Table        *ingest.Table `json:"-"`
	TableName    string        `json:"table_name,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	titled bool
}

// ThreadSummary is the listing view of a thread.
type ThreadSummary struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Phase is the loop's position in a turn.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseAwaitingUserInput Phase = "awaiting_user_input"
	PhaseRetrieving        Phase = "retrieving"
	PhaseGenerating        Phase = "generating"
)

// Intent is the routing decision for a turn.
type Intent string

const (
	IntentSearch  Intent = "SEARCH"
	IntentChat    Intent = "CHAT"
	IntentAnalyze Intent = "ANALYZE"
	IntentPlot    Intent = "PLOT"
)

const (
	EventStatus   = "status"
	EventSources  = "sources"
	EventContent  = "content"
	EventAnalysis = "analysis"
	EventError    = "error"
	EventDone     = "done"
)

// StreamEvent represents a single event in the chat stream
type StreamEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Status is the payload of status events.
type Status struct {
	Phase    Phase              `json:"phase"`
	Intent   Intent             `json:"intent,omitempty"`
	Queries  []string           `json:"queries,omitempty"`
	Progress *research.Progress `json:"progress,omitempty"`
}

// TurnRequest is one user turn.
type TurnRequest struct {
	Text string `json:"content"`
	Deep bool   `json:"deep"`
}
