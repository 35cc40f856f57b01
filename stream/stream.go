// Package stream defines the message stream contract shared by the event
// publisher and the event consumer.
package stream

import (
	"context"
	"errors"
)

// ErrClosed is returned by Receive after Close.
var ErrClosed = errors.New("stream closed")

// Message is one record read from a topic. Key is the routing key,
// <producer>.<category>.<event-name>.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
	ID      string
}

// Consumer reads topics with at-least-once delivery: a message that is not
// committed is delivered again after a restart.
type Consumer interface {
	Subscribe(ctx context.Context, topic string) error
	// Receive blocks until a message arrives or ctx is done.
	Receive(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

// Producer appends messages to a topic.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}
