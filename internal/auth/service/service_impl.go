package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/courseaccess/internal/auth/domain"
	"github.com/smallbiznis/courseaccess/internal/auth/password"
	"github.com/smallbiznis/courseaccess/internal/clock"
	"go.uber.org/zap"
)

const minPasswordLength = 8

type Service struct {
	log   *zap.Logger
	repo  domain.Repository
	clock clock.Clock
}

func New(log *zap.Logger, repo domain.Repository, clk clock.Clock) domain.Provider {
	return &Service{
		log:   log.Named("auth.service"),
		repo:  repo,
		clock: clk,
	}
}

func (s *Service) CreateCredential(ctx context.Context, req domain.CreateCredentialRequest) (*domain.Credential, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredential
	}
	if len(req.Password) < minPasswordLength {
		return nil, domain.ErrInvalidCredential
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	credential := &domain.Credential{
		ID:                 uuid.NewString(),
		Email:              email,
		PasswordHash:       hashed,
		DisplayName:        strings.TrimSpace(req.DisplayName),
		MustChangePassword: req.MustChangePassword,
		CreatedAt:          now,
	}
	if req.PreConfirmed {
		credential.EmailConfirmedAt = &now
	}

	if err := s.repo.Create(ctx, credential); err != nil {
		return nil, err
	}

	s.log.Debug("credential created",
		zap.String("credential_id", credential.ID),
		zap.Bool("pre_confirmed", req.PreConfirmed),
	)
	return credential, nil
}

func (s *Service) FindByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, domain.ErrInvalidCredential
	}
	return s.repo.FindByEmail(ctx, normalized)
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(addr.Address), nil
}
