package notify

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/MrEthical07/goVerify/eventmail"
	"gopkg.in/gomail.v2"
)

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	From       string
	SenderName string
}

// SMTPMailer sends rendered jobs over SMTP.
type SMTPMailer struct {
	from     string
	name     string
	renderer *Renderer
	send     func(*gomail.Message) error
}

func NewSMTPMailer(cfg SMTPConfig, renderer *Renderer) *SMTPMailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &SMTPMailer{
		from:     cfg.From,
		name:     cfg.SenderName,
		renderer: renderer,
		send:     func(m *gomail.Message) error { return d.DialAndSend(m) },
	}
}

// SendEmail renders and sends job. The context is not observed by the
// SMTP client.
func (m *SMTPMailer) SendEmail(_ context.Context, job eventmail.Job) error {
	body, err := m.renderer.Render(job)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.from, m.name)
	msg.SetHeader("To", job.To)
	msg.SetHeader("Subject", job.Subject)
	msg.SetBody("text/html", body)

	if err := m.send(msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", job.To, err)
	}
	return nil
}
