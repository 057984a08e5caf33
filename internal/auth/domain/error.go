package domain

import "errors"

var (
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
)
