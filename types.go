package goVerify

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goVerify/internal/audit"
)

// CodeType is the delivery channel of a verification code.
type CodeType string

const (
	CodeTypePhone CodeType = "phone"
	CodeTypeEmail CodeType = "email"
)

// Valid reports whether t is a known code type.
func (t CodeType) Valid() bool {
	return t == CodeTypePhone || t == CodeTypeEmail
}

// Category is the purpose a verification code gates.
type Category string

const (
	CategoryPhoneVerification Category = "phone_verification"
	CategoryResetPassword     Category = "reset_password"
	CategoryChangePassword    Category = "change_password"
	CategoryOTP               Category = "otp"
	CategoryWithdrawal        Category = "withdrawal"
	CategoryLogin             Category = "login"
	CategoryRegister          Category = "register"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryPhoneVerification,
		CategoryResetPassword,
		CategoryChangePassword,
		CategoryOTP,
		CategoryWithdrawal,
		CategoryLogin,
		CategoryRegister:
		return true
	default:
		return false
	}
}

// UserState is the account state as stored by the user provider.
type UserState string

const (
	UserStateActive  UserState = "active"
	UserStatePending UserState = "pending"
	UserStateBanned  UserState = "banned"
	UserStateDeleted UserState = "deleted"
)

// UserRecord is the account view the engine and the event consumer need.
type UserRecord struct {
	UID          string
	Email        string
	PasswordHash string
	State        UserState
	Role         string
	Level        int
	Language     string
	OTPEnabled   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EventView is the user representation attached to published events and
// notification jobs.
func (u UserRecord) EventView() map[string]any {
	return map[string]any{
		"uid":        u.UID,
		"email":      u.Email,
		"role":       u.Role,
		"level":      u.Level,
		"otp":        u.OTPEnabled,
		"state":      string(u.State),
		"language":   u.Language,
		"created_at": u.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// UserProvider resolves users from the account database. Implementations
// wrap connectivity failures with ErrStoreUnavailable and return
// ErrUserNotFound for unknown users.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByUID(ctx context.Context, uid string) (UserRecord, error)
	MarkPhoneVerified(ctx context.Context, uid string) error
}

// CodeStore persists verification codes. FindPending returns nil without an
// error when nothing is pending. CreateOrFetchPending returns the pending code
// or atomically creates one expiring at now+ttl. Save is a compare-and-set on
// Code.Version and returns ErrCodeConflict when the stored row moved.
type CodeStore interface {
	FindPending(ctx context.Context, userID string, codeType CodeType, category Category, now time.Time) (*Code, error)
	CreateOrFetchPending(ctx context.Context, userID string, codeType CodeType, category Category, now time.Time, ttl time.Duration) (*Code, error)
	Save(ctx context.Context, code *Code) error
	Get(ctx context.Context, id string) (*Code, error)
}

// PhoneStore persists the user's phone claim. FindByUser returns nil without
// an error when the user has no phone.
//
// Claim saves phone only if check accepts the other users' phones holding
// the same number index, and returns check's error otherwise. Claims on one
// index are serialized so two users can never both pass check.
type PhoneStore interface {
	FindByUser(ctx context.Context, userID string) (*Phone, error)
	FindByNumberIndex(ctx context.Context, index string) ([]Phone, error)
	Save(ctx context.Context, phone *Phone) error
	Claim(ctx context.Context, phone *Phone, check func(others []Phone) error) error
}

// Vault encrypts contact fields and derives their lookup index.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Index(plaintext string) string
}

// SMSSender delivers phone codes.
type SMSSender interface {
	SendSMS(ctx context.Context, number, code, channel string) error
}

// EventPublisher emits signed domain events.
type EventPublisher interface {
	Publish(ctx context.Context, name string, record map[string]any) error
}

// SessionStore opens and closes authenticated sessions.
type SessionStore interface {
	Open(ctx context.Context, userID string, meta SessionMeta) (sessionID, csrfToken string, err error)
	Delete(ctx context.Context, userID, sessionID string) error
}

// SessionMeta carries request attributes recorded with a session.
type SessionMeta struct {
	IP        string
	UserAgent string
}

// TOTPValidator checks a time-based one-time code for a user.
type TOTPValidator interface {
	Validate(ctx context.Context, uid, code string) (bool, error)
}

// TOTPSecretSource loads the raw TOTP secret for a user.
type TOTPSecretSource interface {
	TOTPSecret(ctx context.Context, uid string) ([]byte, error)
}

// PasswordVerifier compares a plaintext password against a stored hash.
type PasswordVerifier interface {
	Verify(password, encodedHash string) (bool, error)
}

// ActivityRecord is one audit entry written for every pipeline stage.
type ActivityRecord = internalaudit.Event

// ActivitySink receives activity records.
type ActivitySink = internalaudit.Sink

// NoOpActivitySink discards activity.
type NoOpActivitySink = internalaudit.NoOpSink

// ChannelActivitySink buffers activity in a channel.
type ChannelActivitySink = internalaudit.ChannelSink

// JSONWriterActivitySink writes one JSON object per line.
type JSONWriterActivitySink = internalaudit.JSONWriterSink

// NewChannelActivitySink returns a channel sink with the given buffer.
func NewChannelActivitySink(buffer int) *ChannelActivitySink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterActivitySink returns a sink writing to w.
func NewJSONWriterActivitySink(w io.Writer) *JSONWriterActivitySink {
	return internalaudit.NewJSONWriterSink(w)
}

// LoginRequest is the input of Engine.Login.
type LoginRequest struct {
	Email     string
	Password  string
	EmailCode string
	PhoneCode string
	OTPCode   string
}

// LoginResult is returned by a successful Engine.Login.
type LoginResult struct {
	User                 UserRecord
	SessionID            string
	CSRFToken            string
	SecondFactorVerified bool
}

// GenerateRequest is the input of Engine.GenerateCode. Email and PhoneNumber
// override the user's on-file contact.
type GenerateRequest struct {
	UserID      string
	Type        CodeType
	Category    Category
	Email       string
	PhoneNumber string
	Data        []byte
}
