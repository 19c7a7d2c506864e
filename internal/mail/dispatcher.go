package mail

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	gomail "gopkg.in/gomail.v2"

	"github.com/openclaw/wa-gateway-go/internal/config"
)

// Dispatcher delivers a reconnect link carrying an opaque single-use token.
// Token issuance, validation and consumption are owned by a collaborator
// service; this side only puts the link in front of the account owner.
type Dispatcher interface {
	SendReconnectLink(ctx context.Context, accountID, recipientEmail, token string) error
}

// SMTPDispatcher sends reconnect links over SMTP.
type SMTPDispatcher struct {
	dialer  *gomail.Dialer
	from    string
	baseURL string
}

// NewSMTPDispatcher returns nil when SMTP is not configured; callers treat a
// nil dispatcher as mail delivery disabled.
func NewSMTPDispatcher(cfg *config.Config) *SMTPDispatcher {
	if cfg.SMTPHost == "" {
		return nil
	}
	return &SMTPDispatcher{
		dialer:  gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		from:    cfg.SMTPFrom,
		baseURL: cfg.ReconnectBaseURL,
	}
}

func (d *SMTPDispatcher) SendReconnectLink(ctx context.Context, accountID, recipientEmail, token string) error {
	link := fmt.Sprintf("%s/reconnect?token=%s", d.baseURL, token)

	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", recipientEmail)
	m.SetHeader("Subject", "Your messaging account needs to be reconnected")
	m.SetBody("text/html", fmt.Sprintf(
		"<p>Your WhatsApp account was disconnected and needs to be paired again.</p>"+
			"<p><a href=%q>Reconnect your account</a></p>"+
			"<p>This link can be used once and expires shortly.</p>", link))

	if err := d.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send reconnect mail: %w", err)
	}

	log.Info().
		Str("accountId", accountID).
		Str("recipient", recipientEmail).
		Msg("reconnect link sent")
	return nil
}
