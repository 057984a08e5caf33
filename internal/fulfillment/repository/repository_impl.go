package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/courseaccess/internal/fulfillment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	db *gorm.DB
}

func New(conn *gorm.DB) domain.Repository {
	return &repo{db: conn}
}

func (r *repo) Record(ctx context.Context, record *domain.EventRecord) error {
	if record.Attempts == 0 {
		record.Attempts = 1
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"attempts":     gorm.Expr("attempts + 1"),
			"session_id":   record.SessionID,
			"email":        record.Email,
			"payload":      record.Payload,
			"path":         record.Path,
			"status":       record.Status,
			"last_error":   record.LastError,
			"processed_at": record.ProcessedAt,
		}),
	}).Create(record).Error
}

func (r *repo) FindByEvent(ctx context.Context, provider, providerEventID string) (*domain.EventRecord, error) {
	var record domain.EventRecord
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
