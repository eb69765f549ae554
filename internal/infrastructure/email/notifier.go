package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "gopkg.in/mail.v2"

	"RiskScanner/internal/config"
	"RiskScanner/internal/ports"
)

// Notifier delivers risk alerts via SMTP.
type Notifier struct {
	cfg  config.EmailConfig
	send func(...*gomail.Message) error
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier with the given SMTP configuration.
func NewNotifier(cfg config.EmailConfig) *Notifier {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.Timeout = 10 * time.Second
	return &Notifier{cfg: cfg, send: dialer.DialAndSend}
}

// Notify sends a plain text email to every configured recipient.
func (n *Notifier) Notify(ctx context.Context, subject, message string) error {
	recipients := splitRecipients(n.cfg.To)
	if n.cfg.Host == "" || n.cfg.From == "" || len(recipients) == 0 {
		return fmt.Errorf("email notifier misconfigured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", message)

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email %q: %w", subject, err)
	}
	return nil
}

func splitRecipients(to string) []string {
	var out []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
