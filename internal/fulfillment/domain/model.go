// Package domain contains the purchase fulfillment workflow types.
package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/courseaccess/internal/payment/domain"
	"gorm.io/datatypes"
)

// Path is the branch the provisioning workflow took.
type Path string

const (
	PathNone            Path = "none"
	PathUpgradeExisting Path = "upgrade_existing"
	PathCreateNew       Path = "create_new"
)

// Status summarizes a delivery. StatusPartial means access was granted but a
// follow-up step (profile row or notification) did not complete.
type Status string

const (
	StatusOK      Status = "ok"
	StatusIgnored Status = "ignored"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

type Warning string

const (
	WarningProfileMissing Warning = "profile_missing"
	WarningNotifyFailed   Warning = "notify_failed"
)

// Outcome records what a single delivery did.
type Outcome struct {
	Provider  string
	EventID   string
	EventType string
	SessionID string
	Email     string

	Path   Path
	Status Status

	AccountID        snowflake.ID
	IdentityID       string
	AccessGranted    bool
	CredentialIssued bool
	RaceResolved     bool
	Notified         bool
	AlertSent        bool
	Warnings         []Warning
}

func (o *Outcome) Warn(w Warning) {
	for _, existing := range o.Warnings {
		if existing == w {
			return
		}
	}
	o.Warnings = append(o.Warnings, w)
}

func (o *Outcome) HasWarning(w Warning) bool {
	for _, existing := range o.Warnings {
		if existing == w {
			return true
		}
	}
	return false
}

type Service interface {
	// HandleWebhook verifies, parses and fulfills one raw provider delivery.
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*Outcome, error)
	// Fulfill runs the provisioning workflow for an already verified event.
	Fulfill(ctx context.Context, event *paymentdomain.PurchaseEvent) (*Outcome, error)
}

// EventRecord is the audit row kept per provider event. It is never used to
// skip a redelivery.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"column:provider;type:text;not null;uniqueIndex:ux_purchase_events_provider_event"`
	ProviderEventID string         `gorm:"column:provider_event_id;type:text;not null;uniqueIndex:ux_purchase_events_provider_event"`
	EventType       string         `gorm:"column:event_type;type:text;not null"`
	SessionID       string         `gorm:"column:session_id;type:text;not null;default:''"`
	Email           string         `gorm:"column:email;type:text;not null;default:''"`
	Payload         datatypes.JSON `gorm:"column:payload"`
	Path            string         `gorm:"column:path;type:text;not null;default:''"`
	Status          string         `gorm:"column:status;type:text;not null;default:''"`
	LastError       string         `gorm:"column:last_error;type:text;not null;default:''"`
	Attempts        int            `gorm:"column:attempts;not null;default:1"`
	ReceivedAt      time.Time      `gorm:"column:received_at;not null"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at"`
}

func (EventRecord) TableName() string { return "purchase_events" }

type Repository interface {
	// Record inserts the row or, on redelivery, bumps attempts and overwrites the outcome columns.
	Record(ctx context.Context, record *EventRecord) error
	FindByEvent(ctx context.Context, provider, providerEventID string) (*EventRecord, error)
}
