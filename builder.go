package goVerify

import (
	"errors"

	"github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/password"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an Engine. Each With method records a collaborator;
// Build validates the set and may only be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	codes     CodeStore
	phones    PhoneStore
	users     UserProvider
	vault     Vault
	sms       SMSSender
	events    EventPublisher
	sessions  SessionStore
	passwords PasswordVerifier
	totp      TOTPValidator
	secrets   TOTPSecretSource
	activity  ActivitySink
	log       logrus.FieldLogger

	built bool
}

func New() *Builder {
	return &Builder{config: defaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs codes and phones with Redis unless explicit stores are
// given, and enables the code request limiter when configured.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCodeStore(s CodeStore) *Builder {
	b.codes = s
	return b
}

func (b *Builder) WithPhoneStore(s PhoneStore) *Builder {
	b.phones = s
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.users = up
	return b
}

func (b *Builder) WithVault(v Vault) *Builder {
	b.vault = v
	return b
}

func (b *Builder) WithSMSSender(s SMSSender) *Builder {
	b.sms = s
	return b
}

func (b *Builder) WithEventPublisher(p EventPublisher) *Builder {
	b.events = p
	return b
}

func (b *Builder) WithSessionStore(s SessionStore) *Builder {
	b.sessions = s
	return b
}

// WithPasswordVerifier overrides the default argon2id/bcrypt verifier.
func (b *Builder) WithPasswordVerifier(v PasswordVerifier) *Builder {
	b.passwords = v
	return b
}

// WithTOTP enables the built-in RFC 6238 validator over the given secrets.
func (b *Builder) WithTOTP(secrets TOTPSecretSource) *Builder {
	b.secrets = secrets
	return b
}

// WithTOTPValidator plugs an external OTP service instead of WithTOTP.
func (b *Builder) WithTOTPValidator(v TOTPValidator) *Builder {
	b.totp = v
	return b
}

func (b *Builder) WithActivitySink(sink ActivitySink) *Builder {
	b.activity = sink
	return b
}

func (b *Builder) WithLogger(l logrus.FieldLogger) *Builder {
	b.log = l
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.codes == nil || b.phones == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or explicit code and phone stores required")
		}
	}
	if cfg.CodeRequest.RateLimitEnabled && b.redis == nil {
		return nil, errors.New("CodeRequest rate limiting requires redis client")
	}
	if b.users == nil {
		return nil, errors.New("user provider required")
	}
	if b.vault == nil {
		return nil, errors.New("vault required")
	}
	if b.sms == nil {
		return nil, errors.New("sms sender required")
	}
	if b.events == nil {
		return nil, errors.New("event publisher required")
	}
	if b.sessions == nil {
		return nil, errors.New("session store required")
	}
	if b.activity == nil {
		return nil, errors.New("activity sink required")
	}

	engine := &Engine{
		config:    cfg,
		codes:     b.codes,
		phones:    b.phones,
		users:     b.users,
		vault:     b.vault,
		sms:       b.sms,
		events:    b.events,
		sessions:  b.sessions,
		passwords: b.passwords,
		totp:      b.totp,
		activity:  b.activity,
		metrics:   NewMetrics(cfg.Metrics),
		log:       b.log,
	}

	if engine.codes == nil {
		engine.codes = newRedisCodeStore(b.redis, cfg.Redis.KeyPrefix)
	}
	if engine.phones == nil {
		engine.phones = newRedisPhoneStore(b.redis, cfg.Redis.KeyPrefix)
	}
	if engine.passwords == nil {
		engine.passwords = password.NewVerifier()
	}
	if engine.totp == nil && b.secrets != nil {
		engine.totp = newTOTPValidator(cfg.TOTP, b.secrets)
	}
	if cfg.CodeRequest.RateLimitEnabled {
		engine.limiter = limiters.NewCodeRequestLimiter(b.redis, limiters.CodeRequestConfig{
			MaxRequests: cfg.CodeRequest.MaxRequests,
			Window:      cfg.CodeRequest.Window,
		})
	}
	if cfg.Activity.Async {
		engine.async = audit.NewDispatcher(audit.Config{
			BufferSize: cfg.Activity.BufferSize,
			DropIfFull: cfg.Activity.DropIfFull,
		}, b.activity)
	}
	if engine.log == nil {
		engine.log = logrus.StandardLogger()
	}

	b.built = true
	return engine, nil
}
