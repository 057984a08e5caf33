package domain

import (
	"errors"

	paymentdomain "github.com/smallbiznis/courseaccess/internal/payment/domain"
)

var (
	ErrMissingCustomerEmail = errors.New("missing_customer_email")
	ErrIdentityStore        = errors.New("identity_store_error")
	ErrEmailSend            = errors.New("email_send_error")
	ErrProfileIncomplete    = errors.New("profile_incomplete")
	ErrEventNotFound        = errors.New("event_record_not_found")
)

// IsTerminal reports whether redelivering the same request can never succeed.
func IsTerminal(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidSignature) ||
		errors.Is(err, paymentdomain.ErrInvalidPayload) ||
		errors.Is(err, ErrMissingCustomerEmail)
}
