package eventmail

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MrEthical07/goVerify/multisig"
	"gopkg.in/yaml.v3"
)

// Config is the mailer configuration: which exchanges to read, who signs
// them, and how each event maps to templates.
type Config struct {
	Exchanges map[string]Exchange `yaml:"exchanges"`
	Keychain  multisig.Keychain   `yaml:"keychain"`
	Events    []Event             `yaml:"events"`
	Branding  Branding            `yaml:"branding"`
}

// Exchange is one stream topic and the signer every message on it must
// carry.
type Exchange struct {
	Name   string `yaml:"name"`
	Signer string `yaml:"signer"`
}

// Event binds a routing key on an exchange to per-language templates.
type Event struct {
	Name       string              `yaml:"name"`
	Key        string              `yaml:"key"`
	Exchange   string              `yaml:"exchange"`
	Templates  map[string]Template `yaml:"templates"`
	Expression *Expression         `yaml:"expression,omitempty"`
}

type Template struct {
	Subject      string `yaml:"subject"`
	TemplatePath string `yaml:"template_path"`
}

// Branding is attached to every job.
type Branding struct {
	Logo string `yaml:"logo"`
}

// LoadConfig reads and validates a YAML mailer configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mailer config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross references and lowercases template languages.
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return errors.New("mailer config: no exchanges")
	}
	for id, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("mailer config: exchange %q has no name", id)
		}
		if _, ok := c.Keychain[ex.Signer]; !ok {
			return fmt.Errorf("mailer config: exchange %q signer %q not in keychain", id, ex.Signer)
		}
	}

	for i := range c.Events {
		ev := &c.Events[i]
		if ev.Key == "" {
			return fmt.Errorf("mailer config: event %d has no key", i)
		}
		if _, ok := c.Exchanges[ev.Exchange]; !ok {
			return fmt.Errorf("mailer config: event %q uses unknown exchange %q", ev.Key, ev.Exchange)
		}
		if len(ev.Templates) == 0 {
			return fmt.Errorf("mailer config: event %q has no templates", ev.Key)
		}
		templates := make(map[string]Template, len(ev.Templates))
		for lang, tpl := range ev.Templates {
			if tpl.TemplatePath == "" {
				return fmt.Errorf("mailer config: event %q language %q has no template_path", ev.Key, lang)
			}
			templates[strings.ToLower(lang)] = tpl
		}
		ev.Templates = templates
	}
	return nil
}

// exchangeByTopic returns the exchange reading topic.
func (c *Config) exchangeByTopic(topic string) (Exchange, bool) {
	for _, ex := range c.Exchanges {
		if ex.Name == topic {
			return ex, true
		}
	}
	return Exchange{}, false
}

// eventFor matches a routing key, with its producer segment dropped, among
// the events bound to the exchange reading topic.
func (c *Config) eventFor(topic, routingKey string) (*Event, bool) {
	_, key, found := strings.Cut(routingKey, ".")
	if !found {
		return nil, false
	}
	for i := range c.Events {
		ev := &c.Events[i]
		if ev.Key == key && c.Exchanges[ev.Exchange].Name == topic {
			return ev, true
		}
	}
	return nil, false
}
