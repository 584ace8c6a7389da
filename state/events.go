package state

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Event is a structured change notification emitted by a component.
type Event interface {
	EventName() string
}

// EventSink receives the events of every committed unit of work, in
// emission order.
type EventSink interface {
	Publish(ctx context.Context, unit uuid.UUID, events []Event)
}

// LogSink writes events to a logger.
type LogSink struct {
	logger Logger
}

func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, unit uuid.UUID, events []Event) {
	for _, ev := range events {
		s.logger.Info("event", "unit", unit, "name", ev.EventName(), "payload", ev)
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, _ uuid.UUID, events []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, unit uuid.UUID, events []Event) {
	for _, sink := range m {
		sink.Publish(ctx, unit, events)
	}
}
