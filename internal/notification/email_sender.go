package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailSenderConfig holds SMTP settings.
type EmailSenderConfig struct {
	Host string
	Port int
	From string
}

// EmailSender delivers notifications over plain SMTP.
type EmailSender struct {
	addr string
	from string
	// send is swapped out in tests.
	send func(addr, from string, to []string, msg []byte) error
}

// NewEmailSender creates an email notification sender.
func NewEmailSender(config EmailSenderConfig) *EmailSender {
	return &EmailSender{
		addr: fmt.Sprintf("%s:%d", config.Host, config.Port),
		from: config.From,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// Channel returns the channel this sender handles.
func (s *EmailSender) Channel() Channel {
	return ChannelEmail
}

// Send delivers a message via SMTP.
func (s *EmailSender) Send(ctx context.Context, msg *Message) SendResult {
	if msg.To.Email == "" {
		return SendResult{
			Success: false,
			Error:   fmt.Errorf("recipient %s has no email address", msg.To.UserID),
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")

	if err := s.send(s.addr, s.from, []string{msg.To.Email}, []byte(b.String())); err != nil {
		return SendResult{
			Success: false,
			Error:   fmt.Errorf("smtp send to %s failed: %w", msg.To.Email, err),
		}
	}

	return SendResult{Success: true}
}
