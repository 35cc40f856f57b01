package goVerify

import (
	"errors"
	"strings"
	"time"
)

// Config is the engine configuration. Construct it with DefaultConfig and
// override fields; Builder.Build validates it.
type Config struct {
	Code        CodeConfig
	Login       LoginConfig
	CodeRequest CodeRequestConfig
	TOTP        TOTPConfig
	Activity    ActivityConfig
	Metrics     MetricsConfig
	Redis       RedisConfig
}

/*
====================================
CODE CONFIG
====================================
*/

// CodeConfig holds the verification code policy. The defaults (6 digits,
// 15 minutes, 5 attempts) are the compatibility values.
type CodeConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	// SMSChannel is passed to the SMS sender for phone codes.
	SMSChannel string
	// Domain is copied into code delivery events.
	Domain string
}

/*
====================================
LOGIN CONFIG
====================================
*/

type LoginConfig struct {
	AllowedStates []UserState
}

/*
====================================
CODE REQUEST LIMITS
====================================
*/

type CodeRequestConfig struct {
	RateLimitEnabled bool
	MaxRequests      int
	Window           time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

type TOTPConfig struct {
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

/*
====================================
ACTIVITY CONFIG
====================================
*/

// ActivityConfig controls how activity records reach the sink. With Async
// unset every record is written inline before the operation returns.
type ActivityConfig struct {
	Async      bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
REDIS CONFIG
====================================
*/

type RedisConfig struct {
	// KeyPrefix namespaces the code and phone keys.
	KeyPrefix string
}

// DefaultConfig returns the compatibility defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Code: CodeConfig{
			Digits:      6,
			TTL:         15 * time.Minute,
			MaxAttempts: 5,
			SMSChannel:  "sms",
		},
		Login: LoginConfig{
			AllowedStates: []UserState{UserStateActive, UserStatePending},
		},
		CodeRequest: CodeRequestConfig{
			RateLimitEnabled: false,
			MaxRequests:      5,
			Window:           time.Hour,
		},
		TOTP: TOTPConfig{
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		Activity: ActivityConfig{
			Async:      false,
			BufferSize: 1024,
			DropIfFull: false,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Redis: RedisConfig{
			KeyPrefix: "vc",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Login.AllowedStates != nil {
		out.Login.AllowedStates = append([]UserState(nil), cfg.Login.AllowedStates...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.Code.Digits < 4 || c.Code.Digits > 10 {
		return errors.New("Code Digits must be between 4 and 10")
	}
	if c.Code.TTL <= 0 {
		return errors.New("Code TTL must be > 0")
	}
	if c.Code.MaxAttempts <= 0 {
		return errors.New("Code MaxAttempts must be > 0")
	}
	if strings.TrimSpace(c.Code.SMSChannel) == "" {
		return errors.New("Code SMSChannel must be set")
	}

	if len(c.Login.AllowedStates) == 0 {
		return errors.New("Login AllowedStates must not be empty")
	}
	for _, s := range c.Login.AllowedStates {
		if s == UserStateBanned || s == UserStateDeleted {
			return errors.New("Login AllowedStates must not include banned or deleted")
		}
	}

	if c.CodeRequest.RateLimitEnabled {
		if c.CodeRequest.MaxRequests <= 0 {
			return errors.New("CodeRequest MaxRequests must be > 0")
		}
		if c.CodeRequest.Window <= 0 {
			return errors.New("CodeRequest Window must be > 0")
		}
	}

	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be between 0 and 3")
	}
	if _, err := hmacFunc(c.TOTP.Algorithm); err != nil {
		return err
	}

	if c.Activity.Async && c.Activity.BufferSize <= 0 {
		return errors.New("Activity BufferSize must be > 0 when Async is enabled")
	}

	if strings.TrimSpace(c.Redis.KeyPrefix) == "" {
		return errors.New("Redis KeyPrefix must be set")
	}

	return nil
}

func (c *Config) stateAllowed(state UserState) bool {
	for _, s := range c.Login.AllowedStates {
		if s == state {
			return true
		}
	}
	return false
}
