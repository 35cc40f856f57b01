package eventmail

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/multisig"
	"github.com/MrEthical07/goVerify/stream"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeStream struct {
	mu         sync.Mutex
	subscribed []string
	queue      []stream.Message
	committed  []string
	receives   int
}

func (f *fakeStream) Subscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

// Receive returns queued messages and then blocks until ctx is done.
func (f *fakeStream) Receive(ctx context.Context) (stream.Message, error) {
	f.mu.Lock()
	f.receives++
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return stream.Message{}, ctx.Err()
}

func (f *fakeStream) Commit(_ context.Context, msg stream.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msg.ID)
	return nil
}

func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) stats() (receives int, committed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receives, append([]string(nil), f.committed...)
}

type fakeUsers struct {
	users map[string]goVerify.UserRecord
	err   error
}

func (f *fakeUsers) GetUserByUID(_ context.Context, uid string) (goVerify.UserRecord, error) {
	if f.err != nil {
		return goVerify.UserRecord{}, f.err
	}
	u, ok := f.users[uid]
	if !ok {
		return goVerify.UserRecord{}, goVerify.ErrUserNotFound
	}
	return u, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (f *fakeMailer) SendEmail(_ context.Context, job Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return f.err
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fixture struct {
	cfg     *Config
	trusted *multisig.Signer
	rogue   *multisig.Signer
	stream  *fakeStream
	users   *fakeUsers
	mailer  *fakeMailer
	metrics *goVerify.Metrics
	log     *logrus.Logger
	hook    *test.Hook
}

func ed25519Key(t *testing.T) (multisig.PrivateKey, multisig.Key) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	pubDER, _ := x509.MarshalPKIXPublicKey(pub)
	privDER, _ := x509.MarshalPKCS8PrivateKey(priv)
	enc := func(typ string, der []byte) string {
		return base64.RawURLEncoding.EncodeToString(pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}))
	}
	return multisig.PrivateKey{Algorithm: "EdDSA", Value: enc("PRIVATE KEY", privDER)},
		multisig.Key{Algorithms: []string{"EdDSA"}, Value: enc("PUBLIC KEY", pubDER)}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	priv, pub := ed25519Key(t)
	roguePriv, _ := ed25519Key(t)

	yamlCfg := fmt.Sprintf(`
exchanges:
  barong_system:
    name: events.barong
    signer: barong
keychain:
  barong:
    algorithms: [EdDSA]
    value: %s
branding:
  logo: https://example.com/logo.png
events:
  - name: Login code
    key: system.login.confirmation.code
    exchange: barong_system
    templates:
      EN:
        subject: Your login code
        template_path: login_code.en.html
      ru:
        subject: Код входа
        template_path: login_code.ru.html
  - name: Session created
    key: system.session.create
    exchange: barong_system
    templates:
      en:
        subject: New login
        template_path: session.en.html
    expression:
      and:
        record.user.state: active
`, pub.Value)

	cfg, err := ParseConfig([]byte(yamlCfg))
	if err != nil {
		t.Fatalf("ParseConfig error: %v", err)
	}

	trusted, err := multisig.NewSigner("barong", priv)
	if err != nil {
		t.Fatalf("NewSigner error: %v", err)
	}
	rogue, err := multisig.NewSigner("barong", roguePriv)
	if err != nil {
		t.Fatalf("NewSigner error: %v", err)
	}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	return &fixture{
		cfg:     cfg,
		trusted: trusted,
		rogue:   rogue,
		stream:  &fakeStream{},
		users: &fakeUsers{users: map[string]goVerify.UserRecord{
			"ID123": {UID: "ID123", Email: "alice@example.com", Language: "EN", State: goVerify.UserStateActive},
			"ID456": {UID: "ID456", Email: "boris@example.com", Language: "de", State: goVerify.UserStateActive},
		}},
		mailer:  &fakeMailer{},
		metrics: goVerify.NewMetrics(goVerify.MetricsConfig{Enabled: true}),
		log:     logger,
		hook:    hook,
	}
}

func (f *fixture) consumer(t *testing.T) *Consumer {
	t.Helper()
	c, err := NewConsumer(f.cfg, f.stream, f.users, NewDispatcher(f.mailer, f.cfg.Branding),
		WithMetrics(f.metrics), WithLogger(f.log))
	if err != nil {
		t.Fatalf("NewConsumer error: %v", err)
	}
	return c
}

func (f *fixture) message(t *testing.T, id, key string, signer *multisig.Signer, record map[string]any) stream.Message {
	t.Helper()
	raw, err := multisig.Sign(map[string]any{
		"iss":   "barong",
		"exp":   time.Now().Add(time.Minute).Unix(),
		"event": map[string]any{"name": key, "record": record},
	}, signer)
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	return stream.Message{Topic: "events.barong", Key: "barong." + key, Payload: raw, ID: id}
}

func userRecord(uid, state string) map[string]any {
	return map[string]any{"user": map[string]any{"uid": uid, "state": state}, "code": "123456"}
}

// runUntilIdle starts the consumer and stops it once every queued message
// has been taken.
func runUntilIdle(t *testing.T, c *Consumer, s *fakeStream, queued int) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for {
		if receives, _ := s.stats(); receives > queued {
			break
		}
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("consumer did not drain the queue")
		case <-time.After(5 * time.Millisecond):
		}
	}
	c.Stop()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
		return nil
	}
}

func TestConsumerDispatchesVerifiedEvent(t *testing.T) {
	f := newFixture(t)
	f.stream.queue = []stream.Message{
		f.message(t, "1-0", "system.login.confirmation.code", f.trusted, userRecord("ID123", "active")),
	}

	if err := runUntilIdle(t, f.consumer(t), f.stream, 1); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if len(f.stream.subscribed) != 1 || f.stream.subscribed[0] != "events.barong" {
		t.Fatalf("unexpected subscriptions %v", f.stream.subscribed)
	}
	if f.mailer.count() != 1 {
		t.Fatalf("expected one job, got %d", f.mailer.count())
	}
	job := f.mailer.jobs[0]
	if job.To != "alice@example.com" || job.Language != "en" || job.Template != "login_code.en.html" || job.Logo == "" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Record["code"] != "123456" {
		t.Fatalf("record not forwarded: %v", job.Record)
	}
	_, committed := f.stream.stats()
	if len(committed) != 1 || committed[0] != "1-0" {
		t.Fatalf("expected message to be committed, got %v", committed)
	}
	if f.metrics.Value(goVerify.MetricEventProcessed) != 1 {
		t.Fatal("expected processed metric")
	}
}

func TestConsumerRejectsUnverifiedSigner(t *testing.T) {
	f := newFixture(t)
	f.stream.queue = []stream.Message{
		f.message(t, "1-0", "system.login.confirmation.code", f.rogue, userRecord("ID123", "active")),
	}

	if err := runUntilIdle(t, f.consumer(t), f.stream, 1); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if f.mailer.count() != 0 {
		t.Fatal("dispatcher must not be reached for an unverified signer")
	}
	_, committed := f.stream.stats()
	if len(committed) != 1 {
		t.Fatal("signature failures are committed, not redelivered")
	}
	if f.metrics.Value(goVerify.MetricEventSignatureRejected) != 1 {
		t.Fatal("expected signature rejected metric")
	}

	var sawError bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("signature failure must be logged at error level")
	}
}

func TestConsumerSkipsUnsupportedLanguageAndSuppressed(t *testing.T) {
	f := newFixture(t)
	f.stream.queue = []stream.Message{
		f.message(t, "1-0", "system.login.confirmation.code", f.trusted, userRecord("ID456", "active")),
		f.message(t, "2-0", "system.session.create", f.trusted, userRecord("ID123", "active")),
		f.message(t, "3-0", "system.unknown.event", f.trusted, userRecord("ID123", "active")),
	}

	if err := runUntilIdle(t, f.consumer(t), f.stream, 3); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if f.mailer.count() != 0 {
		t.Fatalf("expected no jobs, got %d", f.mailer.count())
	}
	_, committed := f.stream.stats()
	if len(committed) != 3 {
		t.Fatalf("expected all skipped messages committed, got %v", committed)
	}
	if f.metrics.Value(goVerify.MetricEventSuppressed) != 1 || f.metrics.Value(goVerify.MetricEventSkipped) != 2 {
		t.Fatal("unexpected skip metrics")
	}
}

func TestConsumerMailerFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("smtp down")
	f.stream.queue = []stream.Message{
		f.message(t, "1-0", "system.login.confirmation.code", f.trusted, userRecord("ID123", "active")),
		f.message(t, "2-0", "system.login.confirmation.code", f.trusted, userRecord("ID123", "active")),
	}

	if err := runUntilIdle(t, f.consumer(t), f.stream, 2); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if f.mailer.count() != 2 {
		t.Fatalf("expected both messages attempted, got %d", f.mailer.count())
	}
	if f.metrics.Value(goVerify.MetricEventDispatchFailed) != 2 {
		t.Fatal("expected dispatch failure metric")
	}
}

func TestConsumerHaltsOnStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.users.err = fmt.Errorf("%w: connection refused", goVerify.ErrStoreUnavailable)
	f.stream.queue = []stream.Message{
		f.message(t, "1-0", "system.login.confirmation.code", f.trusted, userRecord("ID123", "active")),
		f.message(t, "2-0", "system.login.confirmation.code", f.trusted, userRecord("ID123", "active")),
	}

	c := f.consumer(t)
	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConsumerHalted) || !errors.Is(err, goVerify.ErrStoreUnavailable) {
			t.Fatalf("expected ErrConsumerHalted wrapping ErrStoreUnavailable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not halt")
	}

	receives, committed := f.stream.stats()
	if receives != 1 {
		t.Fatalf("expected no receive after the failure, got %d receives", receives)
	}
	if len(committed) != 0 {
		t.Fatal("failed message must not be committed")
	}
	if f.mailer.count() != 0 {
		t.Fatal("no job may be sent")
	}
}

func TestConsumerStopWithNoMessages(t *testing.T) {
	f := newFixture(t)
	if err := runUntilIdle(t, f.consumer(t), f.stream, 0); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}
