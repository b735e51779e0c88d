package email

import (
	"context"
	"errors"
)

type Message struct {
	To      []string
	Subject string
	// Text is sent as text/plain.
	Text string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

var (
	ErrNotConfigured = errors.New("email_not_configured")
	ErrNoRecipients  = errors.New("email_no_recipients")
)

// UnconfiguredProvider fails every send so missing SMTP settings surface as
// failed deliveries instead of silently dropped alerts.
type UnconfiguredProvider struct{}

func (UnconfiguredProvider) Send(context.Context, Message) error {
	return ErrNotConfigured
}
