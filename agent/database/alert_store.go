package database

import (
	"context"
	"errors"
	"fmt"

	"curve-watch/agent/internal/models"

	"gorm.io/gorm"
)

const maxRecentAlerts = 100

var errNilDB = errors.New("alert store has no database")

// AlertStore writes the alert_log table.
type AlertStore struct {
	db *gorm.DB
}

func NewAlertStore(db *gorm.DB) *AlertStore {
	return &AlertStore{db: db}
}

func (s *AlertStore) RecordAlert(ctx context.Context, rec models.AlertRecord) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	rec.ID = 0
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert alert %s for %s: %w", rec.ThresholdKey, rec.TokenID, err)
	}
	return nil
}

// RecentAlerts returns the newest alerts for token, newest first.
func (s *AlertStore) RecentAlerts(ctx context.Context, token models.TokenID, limit int) ([]models.AlertRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 || limit > maxRecentAlerts {
		limit = maxRecentAlerts
	}

	var out []models.AlertRecord
	err := s.db.WithContext(ctx).
		Where("token_id = ?", token.String()).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query alerts for %s: %w", token, err)
	}
	return out, nil
}
