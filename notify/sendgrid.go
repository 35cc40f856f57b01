package notify

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goVerify/eventmail"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridConfig configures SendGridMailer.
type SendGridConfig struct {
	APIKey     string
	From       string
	SenderName string
}

// SendGridMailer sends rendered jobs through the SendGrid v3 API.
type SendGridMailer struct {
	from     *mail.Email
	renderer *Renderer
	client   sendgridClient
}

func NewSendGridMailer(cfg SendGridConfig, renderer *Renderer) *SendGridMailer {
	return &SendGridMailer{
		from:     mail.NewEmail(cfg.SenderName, cfg.From),
		renderer: renderer,
		client:   sendgrid.NewSendClient(cfg.APIKey),
	}
}

func (m *SendGridMailer) SendEmail(ctx context.Context, job eventmail.Job) error {
	body, err := m.renderer.Render(job)
	if err != nil {
		return err
	}

	message := mail.NewSingleEmail(m.from, job.Subject, mail.NewEmail("", job.To), "", body)
	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send to %s: %w", job.To, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
