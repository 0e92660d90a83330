// Package audit provides structured security event records and the async
// dispatcher that delivers them to pluggable sinks.
package audit

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one security-relevant occurrence: a login outcome, a session
// destruction, a lockout bypass. Events are emitted after the fact and
// never block the operation they describe.
type Event struct {
	Timestamp   time.Time         `json:"ts"`
	EventID     string            `json:"id"`
	EventType   string            `json:"type"`
	PrincipalID string            `json:"principal_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewEvent stamps an event with the current time and a fresh ID.
func NewEvent(eventType string) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		EventID:   uuid.NewString(),
		EventType: eventType,
	}
}

// Sink receives events from the dispatcher. Write is called from a single
// dispatcher goroutine; sinks do not need their own serialization unless
// they are shared elsewhere.
type Sink interface {
	Write(Event)
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Write(Event) {}

// ChannelSink forwards events to a buffered channel for the host
// application to range over. Events are dropped when the channel is full
// rather than stalling the dispatcher.
type ChannelSink struct {
	ch chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

func (s *ChannelSink) Write(ev Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

// JSONWriterSink writes one JSON object per line to an io.Writer. Writes
// are serialized with a mutex so the sink can wrap shared destinations
// like os.Stderr.
type JSONWriterSink struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{w: w, enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Write(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(ev)
}
