package main

import (
	"context"
	"database/sql"
	"fmt"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/eventapi"
	"github.com/MrEthical07/goVerify/eventmail"
	"github.com/MrEthical07/goVerify/internal/health"
	"github.com/MrEthical07/goVerify/internal/settings"
	"github.com/MrEthical07/goVerify/multisig"
	"github.com/MrEthical07/goVerify/notify"
	"github.com/MrEthical07/goVerify/pgstore"
	"github.com/MrEthical07/goVerify/session"
	"github.com/MrEthical07/goVerify/stream/redisstream"
	"github.com/MrEthical07/goVerify/vault"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type app struct {
	db       *sql.DB
	redis    *redis.Client
	engine   *goVerify.Engine
	consumer *eventmail.Consumer
	health   *health.Checker
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func build(ctx context.Context, s *settings.Settings, log *logrus.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	db, err := sql.Open("postgres", s.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	if s.Database.Migrate {
		if err := pgstore.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     s.Redis.Addr,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
	})

	v, err := vault.NewFromHex(s.Vault.EncryptionKey, s.Vault.IndexKey)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	signer, err := multisig.NewSigner(s.Events.Producer, multisig.PrivateKey{
		Algorithm: s.Events.Algorithm,
		Value:     s.Events.PrivateKey,
	})
	if err != nil {
		return nil, fmt.Errorf("event signer: %w", err)
	}
	publisher, err := eventapi.NewPublisher(eventapi.Config{
		Producer: s.Events.Producer,
		Topic:    s.Events.Topic,
		TTL:      s.Events.TTL,
	}, signer, redisstream.New(a.redis, redisstream.Config{}))
	if err != nil {
		return nil, fmt.Errorf("event publisher: %w", err)
	}

	users := pgstore.NewUserStore(db)

	cfg := goVerify.DefaultConfig()
	cfg.Code.Digits = s.Code.Digits
	cfg.Code.TTL = s.Code.TTL
	cfg.Code.MaxAttempts = s.Code.MaxAttempts
	cfg.Code.Domain = s.Code.Domain
	cfg.Code.SMSChannel = s.Code.SMSChannel
	cfg.CodeRequest.RateLimitEnabled = s.Code.RateLimit.Enabled
	cfg.CodeRequest.MaxRequests = s.Code.RateLimit.MaxRequests
	cfg.CodeRequest.Window = s.Code.RateLimit.Window
	cfg.Activity.Async = s.Activity.Async
	cfg.Activity.BufferSize = s.Activity.BufferSize
	cfg.Metrics.EnableLatencyHistograms = true

	a.engine, err = goVerify.New().
		WithConfig(cfg).
		WithRedis(a.redis).
		WithCodeStore(pgstore.NewCodeStore(db)).
		WithPhoneStore(pgstore.NewPhoneStore(db)).
		WithUserProvider(users).
		WithVault(v).
		WithSMSSender(smsSender(s, log)).
		WithEventPublisher(publisher).
		WithSessionStore(session.NewStore(a.redis, s.Session.Prefix, s.Session.TTL)).
		WithActivitySink(goVerify.NewJSONWriterActivitySink(log.Writer())).
		WithLogger(log.WithField("component", "engine")).
		Build()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if s.Mailer.Enabled {
		a.consumer, err = buildMailer(s, users, a, log)
		if err != nil {
			return nil, err
		}
	}

	a.health = health.NewChecker(health.PingFunc(users.Ping), health.RedisPinger(a.redis), 0)
	ok = true
	return a, nil
}

func smsSender(s *settings.Settings, log logrus.FieldLogger) goVerify.SMSSender {
	cfg := notify.SMSConfig{
		AccountSID:      s.SMS.AccountSID,
		AuthToken:       s.SMS.AuthToken,
		From:            s.SMS.From,
		ContentTemplate: s.SMS.ContentTemplate,
	}
	if s.SMS.Provider == "twilio" {
		return notify.NewTwilioSMS(cfg)
	}
	return notify.NewLogSMS(cfg, log.WithField("component", "sms"))
}

func buildMailer(s *settings.Settings, users eventmail.UserLookup, a *app, log *logrus.Logger) (*eventmail.Consumer, error) {
	mailCfg, err := eventmail.LoadConfig(s.Mailer.Config)
	if err != nil {
		return nil, fmt.Errorf("mailer config: %w", err)
	}

	renderer := notify.NewRenderer(s.Mailer.TemplatesDir)
	var mailer eventmail.Mailer
	switch s.Mailer.Provider {
	case "sendgrid":
		mailer = notify.NewSendGridMailer(notify.SendGridConfig{
			APIKey:     s.Mailer.SendGrid.APIKey,
			From:       s.Mailer.From,
			SenderName: s.Mailer.SenderName,
		}, renderer)
	default:
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:       s.Mailer.SMTP.Host,
			Port:       s.Mailer.SMTP.Port,
			User:       s.Mailer.SMTP.User,
			Password:   s.Mailer.SMTP.Password,
			From:       s.Mailer.From,
			SenderName: s.Mailer.SenderName,
		}, renderer)
	}

	in := redisstream.New(a.redis, redisstream.Config{
		Group:    s.Mailer.Group,
		Consumer: s.Mailer.Consumer,
	})
	return eventmail.NewConsumer(mailCfg, in, users, eventmail.NewDispatcher(mailer, mailCfg.Branding),
		eventmail.WithLogger(log.WithField("component", "mailer")),
		eventmail.WithMetrics(a.engine.Metrics()),
	)
}
