package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	// FindByEmail expects a normalized email and returns ErrAccountNotFound when absent.
	FindByEmail(ctx context.Context, email string) (*Account, error)
	// Create returns ErrAccountExists when the email is already taken.
	Create(ctx context.Context, account *Account) error
	UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
}
