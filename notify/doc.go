// Package notify delivers verification codes and notification emails.
//
// Email jobs from eventmail are rendered with html/template files and sent
// through SMTP (gomail) or the SendGrid API. SMS codes go through the Twilio
// Messages API or, in development, are only logged.
package notify
