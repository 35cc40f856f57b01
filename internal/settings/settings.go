// Package settings loads the identityd daemon configuration.
//
// The YAML file may reference environment variables as ${NAME}; a .env file
// next to the process is loaded first when present.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`

	Database struct {
		DSN     string `yaml:"dsn"`
		Migrate bool   `yaml:"migrate"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Vault struct {
		EncryptionKey string `yaml:"encryption_key"`
		IndexKey      string `yaml:"index_key"`
	} `yaml:"vault"`

	Code struct {
		Digits      int           `yaml:"digits"`
		TTL         time.Duration `yaml:"ttl"`
		MaxAttempts int           `yaml:"max_attempts"`
		Domain      string        `yaml:"domain"`
		SMSChannel  string        `yaml:"sms_channel"`
		RateLimit   struct {
			Enabled     bool          `yaml:"enabled"`
			MaxRequests int           `yaml:"max_requests"`
			Window      time.Duration `yaml:"window"`
		} `yaml:"rate_limit"`
	} `yaml:"code"`

	Session struct {
		Prefix string        `yaml:"prefix"`
		TTL    time.Duration `yaml:"ttl"`
	} `yaml:"session"`

	Events struct {
		Producer  string        `yaml:"producer"`
		Topic     string        `yaml:"topic"`
		TTL       time.Duration `yaml:"ttl"`
		Algorithm string        `yaml:"algorithm"`
		// PrivateKey is the base64url PEM signing key of the producer.
		PrivateKey string `yaml:"private_key"`
	} `yaml:"events"`

	Mailer struct {
		Enabled      bool   `yaml:"enabled"`
		Config       string `yaml:"config"`
		TemplatesDir string `yaml:"templates_dir"`
		Group        string `yaml:"group"`
		Consumer     string `yaml:"consumer"`
		Provider     string `yaml:"provider"`
		From         string `yaml:"from"`
		SenderName   string `yaml:"sender_name"`
		SMTP         struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
		} `yaml:"smtp"`
		SendGrid struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"sendgrid"`
	} `yaml:"mailer"`

	SMS struct {
		Provider        string `yaml:"provider"`
		AccountSID      string `yaml:"account_sid"`
		AuthToken       string `yaml:"auth_token"`
		From            string `yaml:"from"`
		ContentTemplate string `yaml:"content_template"`
	} `yaml:"sms"`

	Activity struct {
		Async      bool `yaml:"async"`
		BufferSize int  `yaml:"buffer_size"`
	} `yaml:"activity"`
}

// Load reads .env (if any) and the YAML file at path.
func Load(path string) (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands ${VAR} references, decodes data and applies defaults.
func Parse(data []byte) (*Settings, error) {
	s := defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func defaults() *Settings {
	s := &Settings{LogLevel: "info", HTTPAddr: ":8080"}
	s.Redis.Addr = "localhost:6379"
	s.Code.Digits = 6
	s.Code.TTL = 15 * time.Minute
	s.Code.MaxAttempts = 5
	s.Code.SMSChannel = "sms"
	s.Code.RateLimit.MaxRequests = 5
	s.Code.RateLimit.Window = time.Hour
	s.Session.Prefix = "vs"
	s.Session.TTL = 24 * time.Hour
	s.Events.Producer = "barong"
	s.Events.Topic = "events.barong"
	s.Events.TTL = time.Minute
	s.Events.Algorithm = "ES256"
	s.Mailer.Group = "mailer"
	s.Mailer.Consumer = "mailer-1"
	s.Mailer.Provider = "smtp"
	s.SMS.Provider = "log"
	s.SMS.ContentTemplate = "Your verification code: {{code}}"
	s.Activity.BufferSize = 1024
	return s
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if s.Vault.EncryptionKey == "" || s.Vault.IndexKey == "" {
		return errors.New("vault.encryption_key and vault.index_key are required")
	}
	if s.Events.PrivateKey == "" {
		return errors.New("events.private_key is required")
	}
	switch s.SMS.Provider {
	case "log", "twilio":
	default:
		return fmt.Errorf("unknown sms.provider %q", s.SMS.Provider)
	}
	if s.Mailer.Enabled {
		if s.Mailer.Config == "" || s.Mailer.TemplatesDir == "" {
			return errors.New("mailer.config and mailer.templates_dir are required when the mailer is enabled")
		}
		switch s.Mailer.Provider {
		case "smtp", "sendgrid":
		default:
			return fmt.Errorf("unknown mailer.provider %q", s.Mailer.Provider)
		}
	}
	return nil
}
