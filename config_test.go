package goVerify

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Code.Digits != 6 || cfg.Code.TTL != 15*time.Minute || cfg.Code.MaxAttempts != 5 {
		t.Fatalf("unexpected code defaults: %+v", cfg.Code)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{"eight digit codes", func(c *Config) { c.Code.Digits = 8 }, true},
		{"code digits too short", func(c *Config) { c.Code.Digits = 3 }, false},
		{"code digits too long", func(c *Config) { c.Code.Digits = 11 }, false},
		{"zero ttl", func(c *Config) { c.Code.TTL = 0 }, false},
		{"zero attempts", func(c *Config) { c.Code.MaxAttempts = 0 }, false},
		{"blank sms channel", func(c *Config) { c.Code.SMSChannel = "  " }, false},
		{"no login states", func(c *Config) { c.Login.AllowedStates = nil }, false},
		{"banned allowed", func(c *Config) { c.Login.AllowedStates = []UserState{UserStateBanned} }, false},
		{"rate limit disabled ignores bounds", func(c *Config) { c.CodeRequest.MaxRequests = 0 }, true},
		{"rate limit zero requests", func(c *Config) {
			c.CodeRequest.RateLimitEnabled = true
			c.CodeRequest.MaxRequests = 0
		}, false},
		{"rate limit zero window", func(c *Config) {
			c.CodeRequest.RateLimitEnabled = true
			c.CodeRequest.Window = 0
		}, false},
		{"totp eight digits", func(c *Config) { c.TOTP.Digits = 8 }, true},
		{"totp seven digits", func(c *Config) { c.TOTP.Digits = 7 }, false},
		{"totp zero period", func(c *Config) { c.TOTP.Period = 0 }, false},
		{"totp skew too wide", func(c *Config) { c.TOTP.Skew = 4 }, false},
		{"totp sha512", func(c *Config) { c.TOTP.Algorithm = "sha512" }, true},
		{"totp md5", func(c *Config) { c.TOTP.Algorithm = "MD5" }, false},
		{"async without buffer", func(c *Config) {
			c.Activity.Async = true
			c.Activity.BufferSize = 0
		}, false},
		{"blank key prefix", func(c *Config) { c.Redis.KeyPrefix = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneConfigCopiesAllowedStates(t *testing.T) {
	cfg := DefaultConfig()
	clone := cloneConfig(cfg)
	clone.Login.AllowedStates[0] = UserStateBanned
	if cfg.Login.AllowedStates[0] == UserStateBanned {
		t.Fatal("clone must not share AllowedStates")
	}
}
