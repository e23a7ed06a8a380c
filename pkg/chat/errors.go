package chat

import (
	"errors"
	"fmt"
)

var (
	ErrThreadNotFound  = errors.New("thread not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnInProgress  = errors.New("a reply is still being generated for this session")
	ErrEmptyMessage    = errors.New("message is empty")
)

// Kind classifies recoverable failures of a turn.
type Kind int

const (
	KindRetrieval Kind = iota + 1
	KindPlanning
	KindClassification
	KindGeneration
	KindIngestion
)

func (k Kind) String() string {
	switch k {
	case KindRetrieval:
		return "retrieval"
	case KindPlanning:
		return "planning"
	case KindClassification:
		return "classification"
	case KindGeneration:
		return "generation"
	case KindIngestion:
		return "ingestion"
	default:
		return "unknown"
	}
}

// Error is a failure tagged with its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failure: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
