package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-chat/pkg/ingest"
)

const (
	DefaultTitle = "New Chat"
	titleWords   = 5
)

// Session owns a set of threads, exactly one of which is active.
type Session struct {
	id string

	mu      sync.Mutex
	threads map[uuid.UUID]*Thread
	order   []uuid.UUID
	active  uuid.UUID

	// turn serialises SendMessage per session.
	turn sync.Mutex
	now  func() time.Time
}

// NewSession returns a session holding one empty, active thread.
func NewSession() *Session {
	s := &Session{
		id:      uuid.NewString(),
		threads: make(map[uuid.UUID]*Thread),
		now:     time.Now,
	}
	s.newThreadLocked()
	return s
}

func (s *Session) ID() string { return s.id }

// NewThread creates an empty thread and makes it active.
func (s *Session) NewThread() Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newThreadLocked().snapshot()
}

func (s *Session) newThreadLocked() *Thread {
	now := s.now()
	t := &Thread{
		ID:        uuid.New(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.threads[t.ID] = t
	s.order = append(s.order, t.ID)
	s.active = t.ID
	return t
}

// Active returns a snapshot of the active thread.
func (s *Session) Active() Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[s.active].snapshot()
}

func (s *Session) ActiveID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Switch makes id the active thread.
func (s *Session) Switch(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return ErrThreadNotFound
	}
	s.active = id
	return nil
}

// Delete removes a thread. Deleting the active thread creates a fresh empty
// thread and makes it active.
func (s *Session) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return ErrThreadNotFound
	}
	delete(s.threads, id)
	for i, tid := range s.order {
		if tid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active == id {
		s.newThreadLocked()
	}
	return nil
}

// Thread returns a snapshot of the thread with the given id.
func (s *Session) Thread(id uuid.UUID) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return Thread{}, ErrThreadNotFound
	}
	return t.snapshot(), nil
}

// Threads lists threads in creation order.
func (s *Session) Threads() []ThreadSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ThreadSummary, 0, len(s.order))
	for _, id := range s.order {
		t := s.threads[id]
		out = append(out, ThreadSummary{
			ID:        t.ID,
			Title:     t.Title,
			Messages:  len(t.Messages),
			Active:    id == s.active,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		})
	}
	return out
}

// AttachDocument replaces the active thread's document.
func (s *Session) AttachDocument(name, text string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threads[s.active]
	t.Document = text
	t.DocumentName = name
	t.UpdatedAt = s.now()
	return t.ID
}

// AttachTable replaces the active thread's table.
func (s *Session) AttachTable(name string, table *ingest.Table) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threads[s.active]
	t.Table = table
	t.TableName = name
	t.UpdatedAt = s.now()
	return t.ID
}

// ClearAttachments drops the active thread's document and table.
func (s *Session) ClearAttachments() {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threads[s.active]
	t.Document, t.DocumentName = "", ""
	t.Table, t.TableName = nil, ""
	t.UpdatedAt = s.now()
}

// beginTurn appends the user message to the active thread and returns a
// snapshot of it, including the new message.
func (s *Session) beginTurn(text string) Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threads[s.active]
	now := s.now()
	t.Messages = append(t.Messages, Message{Role: RoleUser, Content: text, CreatedAt: now})
	if !t.titled {
		t.Title = deriveTitle(text)
		t.titled = true
	}
	t.UpdatedAt = now
	return t.snapshot()
}

// appendMessage adds msg to the thread a turn started on, even if another
// thread became active in the meantime.
func (s *Session) appendMessage(id uuid.UUID, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = msg.CreatedAt
	return nil
}

func (s *Session) busy() bool {
	if s.turn.TryLock() {
		s.turn.Unlock()
		return false
	}
	return true
}

func (t *Thread) snapshot() Thread {
	c := *t
	c.Messages = append([]Message(nil), t.Messages...)
	return c
}

func deriveTitle(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return DefaultTitle
	}
	if len(words) <= titleWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:titleWords], " ") + "..."
}
