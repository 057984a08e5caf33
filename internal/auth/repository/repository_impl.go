package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/courseaccess/internal/auth/domain"
	"github.com/smallbiznis/courseaccess/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(conn *gorm.DB) domain.Repository {
	return &repo{db: conn}
}

func (r *repo) Create(ctx context.Context, credential *domain.Credential) error {
	err := r.db.WithContext(ctx).Create(credential).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrCredentialExists
	}
	return err
}

func (r *repo) FindByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	var credential domain.Credential
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	return &credential, nil
}
