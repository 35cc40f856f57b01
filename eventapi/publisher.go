// Package eventapi publishes signed domain events onto the message stream.
//
// Each event is a multisig envelope over
//
//	{"iss": producer, "iat": ..., "exp": ..., "jti": uuid, "event": {"name": ..., "record": ..., "changes": ...}}
//
// written to the configured topic under the routing key <producer>.<name>.
package eventapi

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goVerify/multisig"
	"github.com/MrEthical07/goVerify/stream"
	"github.com/google/uuid"
)

// Config names the producer and where its events go.
type Config struct {
	Producer string
	Topic    string
	// TTL sets the exp claim relative to iat.
	TTL time.Duration
}

// Publisher is safe for concurrent use when its stream producer is.
type Publisher struct {
	cfg    Config
	signer *multisig.Signer
	out    stream.Producer
	now    func() time.Time
}

func NewPublisher(cfg Config, signer *multisig.Signer, out stream.Producer) (*Publisher, error) {
	if cfg.Producer == "" || cfg.Topic == "" {
		return nil, errors.New("event producer and topic required")
	}
	if signer == nil || out == nil {
		return nil, errors.New("event signer and stream required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return &Publisher{cfg: cfg, signer: signer, out: out, now: time.Now}, nil
}

// Publish emits a record event without changes.
func (p *Publisher) Publish(ctx context.Context, name string, record map[string]any) error {
	return p.PublishChanges(ctx, name, record, nil)
}

// PublishChanges emits an event carrying the previous values of changed
// fields next to the record.
func (p *Publisher) PublishChanges(ctx context.Context, name string, record, changes map[string]any) error {
	if name == "" {
		return errors.New("event name required")
	}
	now := p.now()
	event := map[string]any{"name": name, "record": record}
	if changes != nil {
		event["changes"] = changes
	}

	raw, err := multisig.Sign(map[string]any{
		"iss":   p.cfg.Producer,
		"iat":   now.Unix(),
		"exp":   now.Add(p.cfg.TTL).Unix(),
		"jti":   uuid.NewString(),
		"event": event,
	}, p.signer)
	if err != nil {
		return err
	}
	return p.out.Publish(ctx, p.cfg.Topic, p.cfg.Producer+"."+name, raw)
}
