// Package email delivers operator alert mail over SMTP.
package email

import (
	"context"
	"fmt"
	"net"
	"time"

	"salesops_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// Sender delivers one HTML message to a list of recipients.
type Sender interface {
	Send(ctx context.Context, to []string, subject, htmlContent string) error
}

// SMTPSender implements Sender over a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
}

// NewSMTPSender returns nil when alerting is not configured.
func NewSMTPSender(cfg config.AlertConfig) *SMTPSender {
	if !cfg.IsAlertEnabled() {
		return nil
	}
	return &SMTPSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromEmail: cfg.GetAlertFromAddress(),
	}
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(to...); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}
