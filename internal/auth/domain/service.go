package domain

import "context"

// Provider issues login credentials.
type Provider interface {
	CreateCredential(ctx context.Context, req CreateCredentialRequest) (*Credential, error)
	FindByEmail(ctx context.Context, email string) (*Credential, error)
}

type CreateCredentialRequest struct {
	Email       string
	Password    string
	DisplayName string
	// PreConfirmed marks the email as verified at creation, skipping the confirmation round trip.
	PreConfirmed       bool
	MustChangePassword bool
}
