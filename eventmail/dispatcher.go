package eventmail

import (
	"context"
	"errors"

	goVerify "github.com/MrEthical07/goVerify"
)

// Job is a fully resolved email ready for a Mailer.
type Job struct {
	To       string
	Subject  string
	Template string
	Language string
	Logo     string
	Record   map[string]any
	Changes  map[string]any
	User     goVerify.UserRecord
}

// Mailer delivers a Job.
type Mailer interface {
	SendEmail(ctx context.Context, job Job) error
}

// Dispatcher builds jobs and forwards them to the Mailer. It does not retry.
type Dispatcher struct {
	mailer   Mailer
	branding Branding
}

func NewDispatcher(mailer Mailer, branding Branding) *Dispatcher {
	return &Dispatcher{mailer: mailer, branding: branding}
}

// Dispatch sends the event rendered with tpl to user. The recipient is the
// record's email when the event carries one, otherwise the user's.
func (d *Dispatcher) Dispatch(ctx context.Context, tpl Template, language string, event map[string]any, user goVerify.UserRecord) error {
	if d == nil || d.mailer == nil {
		return errors.New("mailer not configured")
	}
	record, _ := event["record"].(map[string]any)
	changes, _ := event["changes"].(map[string]any)

	to := user.Email
	if email, ok := record["email"].(string); ok && email != "" {
		to = email
	}

	return d.mailer.SendEmail(ctx, Job{
		To:       to,
		Subject:  tpl.Subject,
		Template: tpl.TemplatePath,
		Language: language,
		Logo:     d.branding.Logo,
		Record:   record,
		Changes:  changes,
		User:     user,
	})
}
