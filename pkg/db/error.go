package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsDuplicateKeyErr reports whether err is a unique constraint violation from any supported dialect.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	msg := err.Error()
	switch {
	// PostgreSQL without pgconn wrapping
	case strings.Contains(msg, "duplicate key value violates unique constraint"):
		return true
	// MySQL
	case strings.Contains(msg, "Error 1062"):
		return true
	// SQLite
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return true
	}

	return false
}
