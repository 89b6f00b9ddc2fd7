// Package events records pipeline events: elements missing from the
// registry, element failures and question test outcomes.
package events

import (
	"fmt"
	"sync"
	"time"
)

// Event types.
const (
	TypeUnknownElement = "unknown_element"
	TypeElementFailed  = "element_failed"
	TypeTestCase       = "test_case"
	TypeTestRun        = "test_run"
)

// Event is one pipeline occurrence.
type Event struct {
	RunID       string
	Question    string
	VariantSeed int64
	Phase       string
	Tag         string
	EventType   string
	// Kind is the error kind for failures.
	Kind      string
	Message   string
	Data      map[string]any
	CreatedAt time.Time
}

// Logger defines event logging behavior.
type Logger interface {
	LogEvent(event Event) error
}

// NopLogger ignores all events.
type NopLogger struct{}

func (NopLogger) LogEvent(Event) error {
	return nil
}

// MemoryLogger stores events in memory for tests.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{
		events: []Event{},
	}
}

func (l *MemoryLogger) LogEvent(event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// OfType returns the recorded events of one type.
func (l *MemoryLogger) OfType(eventType string) []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Scoped fills the run, question and seed of every event from base before
// passing it to next.
type Scoped struct {
	Next Logger
	Base Event
}

func (s Scoped) LogEvent(event Event) error {
	if s.Next == nil {
		return nil
	}
	if event.RunID == "" {
		event.RunID = s.Base.RunID
	}
	if event.Question == "" {
		event.Question = s.Base.Question
	}
	if event.VariantSeed == 0 {
		event.VariantSeed = s.Base.VariantSeed
	}
	return s.Next.LogEvent(event)
}
