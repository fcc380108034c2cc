package store

import (
	"context"
	"fmt"
	"time"
)

// CreateDiscoveryBatch records the start of a discovery run.
func (s *Store) CreateDiscoveryBatch(ctx context.Context, b *DiscoveryBatch) error {
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("failed to create discovery batch %s: %w", b.BatchID, err)
	}
	return nil
}

// CompleteDiscoveryBatch writes the run's results.
func (s *Store) CompleteDiscoveryBatch(ctx context.Context, batchID string, considered, created int, topScore, medianScore *float64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&DiscoveryBatch{}).
		Where("batch_id = ?", batchID).
		Updates(map[string]any{
			"trades_considered":  considered,
			"candidates_created": created,
			"top_score":          topScore,
			"median_score":       medianScore,
			"completed_at":       at,
		}).Error
}

// GetDiscoveryBatch fetches one batch by its public id.
func (s *Store) GetDiscoveryBatch(ctx context.Context, batchID string) (*DiscoveryBatch, error) {
	var b DiscoveryBatch
	if err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListDiscoveryBatches returns recent batches, newest first.
func (s *Store) ListDiscoveryBatches(ctx context.Context, limit int) ([]DiscoveryBatch, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var batches []DiscoveryBatch
	if err := q.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}
