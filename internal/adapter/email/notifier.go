// Package email implements a notifier.Notifier over SMTP.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"

	"github.com/sprintpilot/sprintpilot/internal/port/notifier"
)

const providerName = "email"

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	To       string
	Password string
}

// Notifier sends email notifications via SMTP.
type Notifier struct {
	cfg SMTPConfig
	// sendMail is swappable for testing.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg, sendMail: smtp.SendMail}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: false,
		Threads:        false,
	}
}

// Send delivers the notification as a plain-text email to the configured
// recipient.
func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" || n.cfg.To == "" {
		return notifier.ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	subject := fmt.Sprintf("[%s] %s", notification.Level, notification.Title)
	body := notification.Message
	for _, key := range []string{"session", "target", "unit"} {
		if v, ok := notification.Meta[key]; ok {
			body += fmt.Sprintf("\r\n%s: %s", key, v)
		}
	}
	if notification.Source != "" {
		body += "\r\n\r\nSource: " + notification.Source
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.cfg.From, n.cfg.To, subject, body)

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}

	return n.sendMail(addr, auth, n.cfg.From, []string{n.cfg.To}, []byte(msg))
}

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		port, _ := strconv.Atoi(config["port"])
		return NewNotifier(SMTPConfig{
			Host:     config["host"],
			Port:     port,
			From:     config["from"],
			To:       config["to"],
			Password: config["password"],
		}), nil
	})
}
