package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

const (
	ResultSucceed = "succeed"
	ResultFailed  = "failed"
)

// Event is one activity record. Topic groups records ("session", "phone",
// "code") and Action names the stage ("login", "login::2fa").
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Topic     string            `json:"topic"`
	Action    string            `json:"action"`
	UserID    string            `json:"user_id,omitempty"`
	Result    string            `json:"result"`
	ErrorText string            `json:"error_text,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Succeeded reports whether the record describes a successful stage.
func (e Event) Succeeded() bool {
	return e.Result == ResultSucceed
}

// Sink receives activity records. Emit may be called from several
// goroutines at once.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops records.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes records into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu     sync.Mutex
	writer io.Writer
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
}
