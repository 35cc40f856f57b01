// Package redisstream implements the stream contract on Redis Streams with
// one consumer group per service.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goVerify/stream"
	"github.com/redis/go-redis/v9"
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"
)

// Config tunes a Stream.
type Config struct {
	Group    string
	Consumer string
	// Block bounds a single XREADGROUP wait so context cancellation is
	// noticed between polls.
	Block time.Duration
	// MaxLen trims topics on publish when positive.
	MaxLen int64
}

// Stream is both a stream.Consumer and a stream.Producer. Receive and Commit
// are meant for a single consuming goroutine; Publish is safe for concurrent
// use.
type Stream struct {
	redis redis.UniversalClient
	cfg   Config

	mu      sync.Mutex
	topics  []string
	backlog bool
	buf     []stream.Message
	closed  bool
}

var (
	_ stream.Consumer = (*Stream)(nil)
	_ stream.Producer = (*Stream)(nil)
)

func New(client redis.UniversalClient, cfg Config) *Stream {
	if cfg.Group == "" {
		cfg.Group = "identity"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = cfg.Group + "-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	// pending entries of this consumer are replayed first
	return &Stream{redis: client, cfg: cfg, backlog: true}
}

// Subscribe creates the consumer group on topic if needed.
func (s *Stream) Subscribe(ctx context.Context, topic string) error {
	err := s.redis.XGroupCreateMkStream(ctx, topic, s.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group on %s: %w", topic, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.topics {
		if t == topic {
			return nil
		}
	}
	s.topics = append(s.topics, topic)
	return nil
}

func (s *Stream) Receive(ctx context.Context) (stream.Message, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return stream.Message{}, stream.ErrClosed
		}
		if len(s.buf) > 0 {
			msg := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return msg, nil
		}
		topics := append([]string(nil), s.topics...)
		backlog := s.backlog
		s.mu.Unlock()

		if len(topics) == 0 {
			return stream.Message{}, errors.New("no subscribed topics")
		}
		if err := ctx.Err(); err != nil {
			return stream.Message{}, err
		}

		start := ">"
		if backlog {
			start = "0"
		}
		streams := make([]string, 0, 2*len(topics))
		streams = append(streams, topics...)
		for range topics {
			streams = append(streams, start)
		}

		args := &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Streams:  streams,
			Count:    16,
			Block:    s.cfg.Block,
		}
		if backlog {
			// the whole pending list in one non-blocking read
			args.Count = 0
			args.Block = -1
		}
		res, err := s.redis.XReadGroup(ctx, args).Result()
		if errors.Is(err, redis.Nil) {
			s.mu.Lock()
			s.backlog = false
			s.mu.Unlock()
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stream.Message{}, ctxErr
			}
			return stream.Message{}, err
		}

		var read []stream.Message
		for _, xs := range res {
			for _, xm := range xs.Messages {
				read = append(read, toMessage(xs.Stream, xm))
			}
		}

		s.mu.Lock()
		s.backlog = false
		s.buf = append(s.buf, read...)
		s.mu.Unlock()
	}
}

// Commit acknowledges msg in the consumer group.
func (s *Stream) Commit(ctx context.Context, msg stream.Message) error {
	return s.redis.XAck(ctx, msg.Topic, s.cfg.Group, msg.ID).Err()
}

func (s *Stream) Publish(ctx context.Context, topic, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			fieldKey:     key,
			fieldPayload: string(payload),
		},
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}
	return s.redis.XAdd(ctx, args).Err()
}

// Close makes further Receive calls fail. The Redis client is owned by the
// caller and stays open.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.buf = nil
	s.mu.Unlock()
	return nil
}

func toMessage(topic string, xm redis.XMessage) stream.Message {
	msg := stream.Message{Topic: topic, ID: xm.ID}
	if v, ok := xm.Values[fieldKey].(string); ok {
		msg.Key = v
	}
	if v, ok := xm.Values[fieldPayload].(string); ok {
		msg.Payload = []byte(v)
	}
	return msg
}
