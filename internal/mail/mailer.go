// Package mail sends report delivery emails over SMTP. The Mailer interface
// keeps the delivery worker testable; SMTPMailer is the production
// implementation on gomail.
package mail

import (
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"reportflow/internal/types"
)

// Attachment is a file attached to an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Message is one outgoing delivery email. TextBody is the plain-text
// alternative for clients that do not render HTML.
type Message struct {
	To          []string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []Attachment
}

// Mailer sends delivery emails.
type Mailer interface {
	Send(msg *Message) error
}

// Config holds the SMTP relay settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    types.SecretString
	FromName    string
	FromAddress string
}

// SMTPMailer implements Mailer over an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	cfg    Config
}

var _ Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer creates a mailer for the given relay.
func NewSMTPMailer(cfg Config) *SMTPMailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password.Unmask())
	return &SMTPMailer{dialer: dialer, cfg: cfg}
}

// Send dials the relay and delivers the message. Each call opens a fresh
// connection; delivery volume is low enough that connection reuse is not
// worth the bookkeeping.
func (m *SMTPMailer) Send(msg *Message) error {
	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", m.cfg.FromAddress, m.cfg.FromName)
	gm.SetHeader("To", msg.To...)
	gm.SetHeader("Subject", msg.Subject)
	if msg.TextBody != "" {
		gm.SetBody("text/plain", msg.TextBody)
		gm.AddAlternative("text/html", msg.HTMLBody)
	} else {
		gm.SetBody("text/html", msg.HTMLBody)
	}

	for _, att := range msg.Attachments {
		body := att.Body
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(body)
				return err
			}),
		}
		if att.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {att.ContentType},
			}))
		}
		gm.Attach(att.Filename, settings...)
	}

	if err := m.dialer.DialAndSend(gm); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamMail,
			fmt.Sprintf("failed to send email to %d recipients", len(msg.To)), err)
	}
	return nil
}
