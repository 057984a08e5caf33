package email

import (
	"context"
	"errors"
)

//go:generate mockgen -source=provider.go -destination=mocks/mock_provider.go -package=mocks

var ErrNoRecipients = errors.New("email: no recipients")

// Message is a single HTML email. From may carry a display name ("Name <addr>").
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return nil
}
