package domain

import "context"

type Repository interface {
	Create(ctx context.Context, credential *Credential) error
	FindByEmail(ctx context.Context, email string) (*Credential, error)
}
