package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// SMSConfig configures the SMS senders. ContentTemplate replaces {{code}}
// with the code.
type SMSConfig struct {
	AccountSID      string
	AuthToken       string
	From            string
	ContentTemplate string
	BaseURL         string
}

func (c SMSConfig) content(code string) string {
	tpl := c.ContentTemplate
	if tpl == "" {
		tpl = "Your verification code: {{code}}"
	}
	return strings.ReplaceAll(tpl, "{{code}}", code)
}

// TwilioSMS sends codes through the Twilio Messages API. Numbers are given
// in international form without the leading plus.
type TwilioSMS struct {
	cfg    SMSConfig
	client *http.Client
}

func NewTwilioSMS(cfg SMSConfig) *TwilioSMS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	return &TwilioSMS{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

// SendSMS ignores channel; Twilio Messages only delivers SMS.
func (s *TwilioSMS) SendSMS(ctx context.Context, number, code, _ string) error {
	form := url.Values{}
	form.Set("To", "+"+strings.TrimPrefix(number, "+"))
	form.Set("From", s.cfg.From)
	form.Set("Body", s.cfg.content(code))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, url.PathEscape(s.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
	return fmt.Errorf("twilio status %d: code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
}

// LogSMS only logs the message. It stands in for TwilioSMS in development.
type LogSMS struct {
	cfg SMSConfig
	log logrus.FieldLogger
}

func NewLogSMS(cfg SMSConfig, log logrus.FieldLogger) *LogSMS {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSMS{cfg: cfg, log: log}
}

func (s *LogSMS) SendSMS(_ context.Context, number, code, channel string) error {
	s.log.WithFields(logrus.Fields{
		"to":      "+" + number,
		"channel": channel,
	}).Info(s.cfg.content(code))
	return nil
}
