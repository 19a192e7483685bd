// Package email delivers notification emails over SMTP.
package email

import (
	"context"
	"fmt"
	"net"
	"time"

	"wacampaign_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// Sender delivers notification emails.
type Sender interface {
	SendJobSummaryEmail(ctx context.Context, toEmail, campaignName string, total, succeeded, failed int) error
}

// NoopSender is used when email delivery is disabled.
type NoopSender struct{}

func (NoopSender) SendJobSummaryEmail(context.Context, string, string, int, int, int) error {
	return nil
}

// SMTPSender delivers via a direct SMTP connection using go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSender creates the configured sender: SMTP when email is enabled,
// otherwise a noop.
func NewSender(cfg config.EmailConfig) Sender {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}
	}
	return &SMTPSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
	}
}

// SendJobSummaryEmail sends a bulk dispatch completion summary.
func (s *SMTPSender) SendJobSummaryEmail(ctx context.Context, toEmail, campaignName string, total, succeeded, failed int) error {
	subject := fmt.Sprintf("Campaign %q finished: %d/%d delivered to provider", campaignName, succeeded, total)
	body := fmt.Sprintf(
		`<h2>Campaign %s finished</h2>
<p>Your bulk dispatch has completed.</p>
<ul>
  <li>Total recipients: %d</li>
  <li>Accepted by provider: %d</li>
  <li>Failed: %d</li>
</ul>
<p>Delivery and read confirmations continue to arrive asynchronously; check the campaign summary for live counts.</p>`,
		campaignName, total, succeeded, failed,
	)
	return s.send(ctx, toEmail, subject, body)
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
