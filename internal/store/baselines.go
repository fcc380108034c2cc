package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

// UpsertBaseline inserts or replaces the baseline for one
// (category, metric) pair.
func (s *Store) UpsertBaseline(ctx context.Context, b *Baseline) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "category"}, {Name: "metric"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"mean", "std_dev", "median", "p75", "p90", "p95", "p99",
			"sample_count", "insider_mean", "insider_std_dev",
			"insider_sample_count", "separation_score", "calculated_at",
		}),
	}).Create(b).Error
	if err != nil {
		return fmt.Errorf("failed to upsert baseline %s/%s: %w", b.Category, b.Metric, err)
	}
	return nil
}

// GetBaseline fetches the baseline for one (category, metric) pair.
func (s *Store) GetBaseline(ctx context.Context, category, metric string) (*Baseline, error) {
	var b Baseline
	if err := s.db.WithContext(ctx).
		Where("category = ? AND metric = ?", category, metric).
		First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBaselines returns every stored baseline.
func (s *Store) ListBaselines(ctx context.Context) ([]Baseline, error) {
	var baselines []Baseline
	if err := s.db.WithContext(ctx).
		Order("category, metric").
		Find(&baselines).Error; err != nil {
		return nil, err
	}
	return baselines, nil
}

// BaselineMap loads all baselines keyed by category then metric.
func (s *Store) BaselineMap(ctx context.Context) (map[string]map[string]*Baseline, error) {
	baselines, err := s.ListBaselines(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]map[string]*Baseline)
	for i := range baselines {
		b := &baselines[i]
		if m[b.Category] == nil {
			m[b.Category] = make(map[string]*Baseline)
		}
		m[b.Category][b.Metric] = b
	}
	return m, nil
}
