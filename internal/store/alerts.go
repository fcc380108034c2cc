package store

import (
	"context"
	"fmt"
	"time"
)

// CreateAlert persists one alert.
func (s *Store) CreateAlert(ctx context.Context, a *Alert) error {
	if a.Status == "" {
		a.Status = AlertStatusNew
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to create alert %s: %w", a.AlertID, err)
	}
	return nil
}

// HasAlertForTrade reports whether an alert was already emitted for a
// trade. The monitor uses this to avoid duplicate alerts across polls.
func (s *Store) HasAlertForTrade(ctx context.Context, tradeID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Alert{}).
		Where("trade_id = ?", tradeID).
		Count(&n).Error
	return n > 0, err
}

// ListAlerts returns alerts, optionally filtered by status, newest first.
func (s *Store) ListAlerts(ctx context.Context, status string, limit int) ([]Alert, error) {
	q := s.db.WithContext(ctx).Order("triggered_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var alerts []Alert
	if err := q.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// UpdateAlertStatus moves an alert through its lifecycle.
func (s *Store) UpdateAlertStatus(ctx context.Context, alertID, status string) error {
	res := s.db.WithContext(ctx).Model(&Alert{}).
		Where("alert_id = ?", alertID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("alert %s not found", alertID)
	}
	return nil
}

// CountAlertsSince returns the number of alerts triggered after the cutoff.
func (s *Store) CountAlertsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Alert{}).
		Where("triggered_at >= ?", since).
		Count(&n).Error
	return n, err
}
