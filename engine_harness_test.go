package goVerify

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goVerify/password"
	"github.com/MrEthical07/goVerify/vault"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

type mockUserProvider struct {
	mu       sync.Mutex
	byUID    map[string]UserRecord
	verified map[string]bool
	err      error
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{byUID: map[string]UserRecord{}, verified: map[string]bool{}}
}

func (m *mockUserProvider) put(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUID[u.UID] = u
}

func (m *mockUserProvider) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return UserRecord{}, m.err
	}
	for _, u := range m.byUID {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (m *mockUserProvider) GetUserByUID(_ context.Context, uid string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return UserRecord{}, m.err
	}
	u, ok := m.byUID[uid]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *mockUserProvider) MarkPhoneVerified(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified[uid] = true
	return nil
}

type sentSMS struct {
	number, code, channel string
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (f *fakeSMS) SendSMS(_ context.Context, number, code, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentSMS{number, code, channel})
	return nil
}

func (f *fakeSMS) last(t *testing.T) sentSMS {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("expected an sms to be sent")
	}
	return f.sent[len(f.sent)-1]
}

type publishedEvent struct {
	name   string
	record map[string]any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, name string, record map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, publishedEvent{name, record})
	return nil
}

func (f *fakePublisher) named(name string) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedEvent
	for _, ev := range f.events {
		if ev.name == name {
			out = append(out, ev)
		}
	}
	return out
}

// lastCode returns the secret carried by the latest confirmation event of
// the category.
func (f *fakePublisher) lastCode(t *testing.T, category Category) string {
	t.Helper()
	events := f.named("system." + string(category) + ".confirmation.code")
	if len(events) == 0 {
		t.Fatalf("no confirmation event for %s", category)
	}
	code, _ := events[len(events)-1].record["code"].(string)
	return code
}

type fakeSessions struct {
	mu      sync.Mutex
	open    map[string]string
	next    int
	openErr error
}

func (f *fakeSessions) Open(_ context.Context, userID string, _ SessionMeta) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return "", "", f.openErr
	}
	f.next++
	sid := "sid-" + strconv.Itoa(f.next)
	f.open[sid] = userID
	return sid, strings.Repeat("c", 64), nil
}

func (f *fakeSessions) Delete(_ context.Context, _, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, sessionID)
	return nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

type recordingSink struct {
	mu      sync.Mutex
	records []ActivityRecord
}

func (s *recordingSink) Emit(_ context.Context, r ActivityRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *recordingSink) find(action, stage string) []ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ActivityRecord
	for _, r := range s.records {
		if r.Action == action && (stage == "" || r.Metadata["stage"] == stage) {
			out = append(out, r)
		}
	}
	return out
}

type mapTOTPSecrets map[string][]byte

func (m mapTOTPSecrets) TOTPSecret(_ context.Context, uid string) ([]byte, error) {
	s, ok := m[uid]
	if !ok {
		return nil, errors.New("no totp secret")
	}
	return s, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type engineHarness struct {
	engine   *Engine
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	users    *mockUserProvider
	vault    *vault.Vault
	sms      *fakeSMS
	events   *fakePublisher
	sessions *fakeSessions
	activity *recordingSink
	totp     mapTOTPSecrets
	clock    *testClock
}

func newEngineHarness(t *testing.T, cfg Config) *engineHarness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	v, err := vault.New(bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	h := &engineHarness{
		mr:       mr,
		rdb:      rdb,
		users:    newMockUserProvider(),
		vault:    v,
		sms:      &fakeSMS{},
		events:   &fakePublisher{},
		sessions: &fakeSessions{open: map[string]string{}},
		activity: &recordingSink{},
		totp:     mapTOTPSecrets{},
		clock:    &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(h.users).
		WithVault(v).
		WithSMSSender(h.sms).
		WithEventPublisher(h.events).
		WithSessionStore(h.sessions).
		WithTOTP(h.totp).
		WithActivitySink(h.activity).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	engine.now = h.clock.Now
	h.engine = engine

	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})
	return h
}

// addUser stores an active user with testPassword.
func (h *engineHarness) addUser(t *testing.T, uid, email string, otp bool) UserRecord {
	t.Helper()
	hash, err := password.BcryptHash(testPassword, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := UserRecord{
		UID:          uid,
		Email:        email,
		PasswordHash: hash,
		State:        UserStateActive,
		Role:         "member",
		Language:     "en",
		OTPEnabled:   otp,
	}
	h.users.put(u)
	if otp {
		h.totp[uid] = []byte("12345678901234567890")
	}
	return u
}

func (h *engineHarness) otpNow(t *testing.T, uid string) string {
	t.Helper()
	code, err := hotpCode(h.totp[uid], time.Now().Unix()/30, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotp: %v", err)
	}
	return code
}

// verifyPhone submits and verifies number for uid.
func (h *engineHarness) verifyPhone(t *testing.T, uid, number string) {
	t.Helper()
	ctx := context.Background()
	if err := h.engine.SubmitPhone(ctx, uid, number); err != nil {
		t.Fatalf("SubmitPhone failed: %v", err)
	}
	if err := h.engine.VerifyPhone(ctx, uid, h.sms.last(t).code); err != nil {
		t.Fatalf("VerifyPhone failed: %v", err)
	}
}

func (h *engineHarness) codeKeys() []string {
	var out []string
	for _, k := range h.mr.Keys() {
		if strings.HasPrefix(k, "vc:code:") {
			out = append(out, k)
		}
	}
	return out
}
