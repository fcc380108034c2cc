package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// UpsertPattern inserts a pattern or refreshes its definition. The
// validation counters on an existing row are left untouched.
func (s *Store) UpsertPattern(ctx context.Context, p *Pattern) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pattern_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"description", "conditions", "alert_threshold", "updated_at",
		}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("failed to upsert pattern %s: %w", p.PatternName, err)
	}
	return nil
}

// GetPatternByName fetches one pattern.
func (s *Store) GetPatternByName(ctx context.Context, name string) (*Pattern, error) {
	var p Pattern
	if err := s.db.WithContext(ctx).Where("pattern_name = ?", name).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPatterns returns all patterns, active or not.
func (s *Store) ListPatterns(ctx context.Context) ([]Pattern, error) {
	var patterns []Pattern
	if err := s.db.WithContext(ctx).Order("pattern_name").Find(&patterns).Error; err != nil {
		return nil, err
	}
	return patterns, nil
}

// ListActivePatterns returns only the patterns the scorer should apply.
func (s *Store) ListActivePatterns(ctx context.Context) ([]Pattern, error) {
	var patterns []Pattern
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("pattern_name").
		Find(&patterns).Error; err != nil {
		return nil, err
	}
	return patterns, nil
}

// UpdatePatternValidation writes the validation metrics computed
// against resolved trades.
func (s *Store) UpdatePatternValidation(ctx context.Context, patternID uint, tp, fp int, precision, recall, f1, lift *float64, validatedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&Pattern{}).Where("id = ?", patternID).
		Updates(map[string]any{
			"true_positives":  tp,
			"false_positives": fp,
			"precision":       precision,
			"recall":          recall,
			"f1_score":        f1,
			"lift":            lift,
			"validated_at":    validatedAt,
		}).Error
}

// SetPatternActive toggles whether a pattern participates in scoring.
func (s *Store) SetPatternActive(ctx context.Context, patternID uint, active bool) error {
	return s.db.WithContext(ctx).Model(&Pattern{}).Where("id = ?", patternID).
		Update("is_active", active).Error
}
