package eventmail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/multisig"
	"github.com/MrEthical07/goVerify/stream"
	"github.com/sirupsen/logrus"
)

var (
	// ErrConsumerHalted is returned by Start after a storage connectivity
	// failure. The consumer must be restarted by its supervisor.
	ErrConsumerHalted = errors.New("event consumer halted")
	// ErrSignature marks messages whose exchange signer did not verify.
	ErrSignature = errors.New("event signature verification failed")
	// ErrUnknownExchange marks messages read from an unconfigured topic.
	ErrUnknownExchange = errors.New("unknown exchange")
	// ErrUnknownEvent marks routing keys with no event configuration.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedEvent marks payloads without event.record.user.uid.
	ErrMalformedEvent = errors.New("malformed event payload")
	// ErrUnsupportedLanguage marks users whose language has no template.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrSuppressed marks events withheld by their expression.
	ErrSuppressed = errors.New("event suppressed")
)

// UserLookup resolves event targets. Connectivity failures must wrap
// goVerify.ErrStoreUnavailable.
type UserLookup interface {
	GetUserByUID(ctx context.Context, uid string) (goVerify.UserRecord, error)
}

// Consumer runs the receive, verify, route, dispatch, commit loop. Messages
// are handled one at a time on the goroutine that called Start.
type Consumer struct {
	cfg        *Config
	verifier   *multisig.Verifier
	stream     stream.Consumer
	users      UserLookup
	dispatcher *Dispatcher
	metrics    *goVerify.Metrics
	log        logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	state  consumerState
}

type consumerState int

const (
	stateIdle consumerState = iota
	stateRunning
	stateStopped
)

// Option configures a Consumer.
type Option func(*Consumer)

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Consumer) { c.log = l }
}

// WithMetrics shares the engine counters with the consumer.
func WithMetrics(m *goVerify.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

func NewConsumer(cfg *Config, s stream.Consumer, users UserLookup, d *Dispatcher, opts ...Option) (*Consumer, error) {
	if cfg == nil || s == nil || users == nil || d == nil {
		return nil, errors.New("event consumer: config, stream, users and dispatcher required")
	}
	verifier, err := multisig.NewVerifier(cfg.Keychain)
	if err != nil {
		return nil, fmt.Errorf("event consumer keychain: %w", err)
	}
	c := &Consumer{
		cfg:        cfg,
		verifier:   verifier,
		stream:     s,
		users:      users,
		dispatcher: d,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start subscribes to every exchange and blocks until Stop, ctx
// cancellation or a fatal storage failure. A clean stop returns nil.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return errors.New("event consumer already started")
	}
	c.state = stateRunning
	c.cancel = cancel
	c.mu.Unlock()
	defer c.setState(stateStopped)

	for _, ex := range c.cfg.Exchanges {
		if err := c.stream.Subscribe(ctx, ex.Name); err != nil {
			return fmt.Errorf("subscribe %s: %w", ex.Name, err)
		}
	}
	c.log.WithField("exchanges", len(c.cfg.Exchanges)).Info("listening for events")

	for {
		msg, err := c.stream.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, stream.ErrClosed) {
				c.log.Info("no longer listening for events")
				return nil
			}
			c.metrics.Inc(goVerify.MetricConsumerHalted)
			return fmt.Errorf("%w: receive: %w", ErrConsumerHalted, err)
		}

		// handlers finish even when a stop arrives mid-message
		hctx := context.WithoutCancel(ctx)
		started := time.Now()
		err = c.Handle(hctx, msg)
		c.metrics.Observe(goVerify.MetricEventHandleLatency, time.Since(started))

		entry := c.log.WithFields(logrus.Fields{"topic": msg.Topic, "key": msg.Key, "id": msg.ID})
		if errors.Is(err, goVerify.ErrStoreUnavailable) {
			c.metrics.Inc(goVerify.MetricConsumerHalted)
			entry.WithError(err).Error("storage unavailable, stopping event consumer")
			return fmt.Errorf("%w: %w", ErrConsumerHalted, err)
		}
		c.logOutcome(entry, err)

		if err := c.stream.Commit(hctx, msg); err != nil {
			c.metrics.Inc(goVerify.MetricConsumerHalted)
			entry.WithError(err).Error("commit failed, stopping event consumer")
			return fmt.Errorf("%w: commit: %w", ErrConsumerHalted, err)
		}
	}
}

// Stop ends Start after the message in flight, if any.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.state = stateStopped
}

func (c *Consumer) setState(s consumerState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Consumer) logOutcome(entry logrus.FieldLogger, err error) {
	switch {
	case err == nil:
		c.metrics.Inc(goVerify.MetricEventProcessed)
		entry.Debug("event processed")
	case errors.Is(err, ErrSignature):
		c.metrics.Inc(goVerify.MetricEventSignatureRejected)
		entry.WithError(err).Error("event rejected")
	case errors.Is(err, ErrSuppressed):
		c.metrics.Inc(goVerify.MetricEventSuppressed)
		entry.Info("event skipped by expression")
	case errors.Is(err, ErrUnsupportedLanguage):
		c.metrics.Inc(goVerify.MetricEventSkipped)
		entry.WithError(err).Error("language not supported, skipping")
	case errors.Is(err, ErrUnknownEvent):
		c.metrics.Inc(goVerify.MetricEventSkipped)
		entry.Debug("no configuration for event")
	default:
		c.metrics.Inc(goVerify.MetricEventDispatchFailed)
		entry.WithError(err).Error("event handling failed")
	}
}

// Handle processes one message. The returned error classifies the outcome;
// only errors wrapping goVerify.ErrStoreUnavailable are fatal to Start.
func (c *Consumer) Handle(ctx context.Context, msg stream.Message) error {
	c.metrics.Inc(goVerify.MetricEventReceived)

	exchange, ok := c.cfg.exchangeByTopic(msg.Topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, msg.Topic)
	}

	res, err := c.verifier.VerifySigner(msg.Payload, exchange.Signer)
	if err != nil {
		return fmt.Errorf("%w: from %s: %v", ErrSignature, exchange.Signer, err)
	}

	ev, ok := c.cfg.eventFor(msg.Topic, msg.Key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, msg.Key)
	}

	event, _ := res.Payload["event"].(map[string]any)
	uid, ok := lookup(event, "record.user.uid")
	uidStr, _ := uid.(string)
	if !ok || uidStr == "" {
		return ErrMalformedEvent
	}

	user, err := c.users.GetUserByUID(ctx, uidStr)
	if err != nil {
		return err
	}

	language := strings.ToLower(user.Language)
	tpl, ok := ev.Templates[language]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	if ev.Expression.Suppress(event) {
		return ErrSuppressed
	}

	return c.dispatcher.Dispatch(ctx, tpl, language, event, user)
}
