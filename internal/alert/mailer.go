package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/digggggmori-pixel/usbsentinel/internal/config"
	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
)

const (
	// Subject of every alert email
	Subject = "USB Device Alert"

	dialTimeout = 30 * time.Second
)

// Mailer delivers one alert message for a device
type Mailer interface {
	Send(ctx context.Context, deviceID, message string) error
}

// ComposeBody renders the plaintext alert body
func ComposeBody(deviceID, message string) string {
	return fmt.Sprintf("Alert for USB Device ID: %s\n\n%s", deviceID, message)
}

// SMTPMailer sends alerts through an authenticated relay with mandatory STARTTLS
type SMTPMailer struct {
	smtp      config.SMTPConfig
	recipient string
}

// NewSMTPMailer creates a mailer for the configured relay and recipient
func NewSMTPMailer(cfg config.AlertConfig) *SMTPMailer {
	return &SMTPMailer{smtp: cfg.SMTP, recipient: cfg.Recipient}
}

// Send opens one relay session and sends a single message
func (m *SMTPMailer) Send(ctx context.Context, deviceID, message string) error {
	msg, err := m.buildMessage(deviceID, message)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(m.smtp.Host,
		mail.WithPort(m.smtp.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.smtp.Username),
		mail.WithPassword(m.smtp.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(dialTimeout),
	)
	if err != nil {
		return fmt.Errorf("create mail client: %w", err)
	}

	logger.APICall("DialAndSend", m.smtp.Host, m.smtp.Port, m.recipient)
	err = client.DialAndSendWithContext(ctx, msg)
	logger.APIResult("DialAndSend", deviceID, err)
	if err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", m.smtp.Host, m.smtp.Port, err)
	}
	return nil
}

func (m *SMTPMailer) buildMessage(deviceID, message string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.smtp.Username); err != nil {
		return nil, fmt.Errorf("set sender %q: %w", m.smtp.Username, err)
	}
	if err := msg.To(m.recipient); err != nil {
		return nil, fmt.Errorf("set recipient %q: %w", m.recipient, err)
	}
	msg.Subject(Subject)
	msg.SetBodyString(mail.TypeTextPlain, ComposeBody(deviceID, message))
	return msg, nil
}
