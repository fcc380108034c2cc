package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertMarket inserts a market or updates the mutable fields of the
// existing row with the same condition id. A recorded resolution is
// immutable: resolved_outcome and resolution_date are written on insert
// and by MarkMarketResolved, never by a metadata re-sync.
func (s *Store) UpsertMarket(ctx context.Context, m *Market) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "condition_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"question", "outcomes", "outcome_prices", "end_date",
			"volume", "volume24h",
			"liquidity", "category", "is_event_based", "is_active",
			"meta", "last_synced_at", "updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("failed to upsert market %s: %w", m.ConditionID, err)
	}
	return nil
}

// CreateStubMarket records a placeholder market for a token id that
// could not be resolved. Idempotent; the second return reports whether
// a new row was inserted rather than an existing stub reused.
func (s *Store) CreateStubMarket(ctx context.Context, tokenID string) (*Market, bool, error) {
	short := tokenID
	if len(short) > 32 {
		short = short[:32]
	}
	conditionID := StubConditionPrefix + short

	if existing, err := s.GetMarketByConditionID(ctx, conditionID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	m := &Market{
		ConditionID: conditionID,
		Question:    "Unknown market (token " + short + ")",
		Outcomes:    datatypes.JSON(`["Yes","No"]`),
		Category:    CategoryOther,
		IsActive:    true,
		Meta: map[string]any{
			"needs_metadata": true,
			"token_id":       tokenID,
		},
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "condition_id"}},
		DoNothing: true,
	}).Create(m).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create stub market: %w", err)
	}
	if m.ID == 0 {
		existing, err := s.GetMarketByConditionID(ctx, conditionID)
		return existing, false, err
	}
	return m, true, nil
}

// GetMarketByConditionID fetches one market by condition id.
func (s *Store) GetMarketByConditionID(ctx context.Context, conditionID string) (*Market, error) {
	var m Market
	if err := s.db.WithContext(ctx).Where("condition_id = ?", conditionID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMarketByID fetches one market by primary key.
func (s *Store) GetMarketByID(ctx context.Context, id uint) (*Market, error) {
	var m Market
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// PromoteStubMarket resolves a stub to its real condition id. If a
// market with the real condition id already exists, the stub's trades
// are moved onto it and the stub row is deleted. Otherwise the stub
// itself is rewritten in place.
func (s *Store) PromoteStubMarket(ctx context.Context, stubID uint, real *Market) (*Market, error) {
	var result *Market
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stub Market
		if err := tx.First(&stub, stubID).Error; err != nil {
			return err
		}

		var existing Market
		err := tx.Where("condition_id = ?", real.ConditionID).First(&existing).Error
		switch {
		case err == nil:
			// Trades only move onto a canonical row that carries real
			// metadata; a bare row is filled from the sync payload first.
			if marketNeedsMetadata(&existing) {
				if err := tx.Model(&existing).Updates(map[string]any{
					"question":       real.Question,
					"outcomes":       real.Outcomes,
					"outcome_prices": real.OutcomePrices,
					"end_date":       real.EndDate,
					"category":       real.Category,
					"is_active":      real.IsActive,
					"meta":           real.Meta,
				}).Error; err != nil {
					return err
				}
			}
			if err := tx.Model(&Trade{}).
				Where("market_id = ?", stub.ID).
				Updates(map[string]any{"market_id": existing.ID, "condition_id": existing.ConditionID}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&stub).Error; err != nil {
				return err
			}
			result = &existing
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			updates := map[string]any{
				"condition_id":   real.ConditionID,
				"question":       real.Question,
				"outcomes":       real.Outcomes,
				"outcome_prices": real.OutcomePrices,
				"end_date":       real.EndDate,
				"category":       real.Category,
				"is_active":      real.IsActive,
				"volume":         real.Volume,
				"liquidity":      real.Liquidity,
				"meta":           real.Meta,
			}
			if err := tx.Model(&stub).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.Model(&Trade{}).
				Where("market_id = ?", stub.ID).
				Update("condition_id", real.ConditionID).Error; err != nil {
				return err
			}
			result = &stub
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to promote stub market %d: %w", stubID, err)
	}
	return result, nil
}

// marketNeedsMetadata reports whether a market row is still a
// metadata placeholder.
func marketNeedsMetadata(m *Market) bool {
	if m.Question == "" {
		return true
	}
	v, ok := m.Meta["needs_metadata"].(bool)
	return ok && v
}

// ListStubMarkets returns markets still awaiting metadata.
func (s *Store) ListStubMarkets(ctx context.Context, limit int) ([]Market, error) {
	var markets []Market
	q := s.db.WithContext(ctx).Where("condition_id LIKE ?", StubConditionPrefix+"%")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&markets).Error; err != nil {
		return nil, err
	}
	return markets, nil
}

// ListUnresolvedEndedMarkets returns markets whose end date has passed
// but which carry no resolved outcome yet.
func (s *Store) ListUnresolvedEndedMarkets(ctx context.Context, now time.Time, limit int) ([]Market, error) {
	var markets []Market
	q := s.db.WithContext(ctx).
		Where("resolved_outcome IS NULL AND end_date IS NOT NULL AND end_date < ?", now).
		Where("condition_id NOT LIKE ?", StubConditionPrefix+"%").
		Order("end_date ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&markets).Error; err != nil {
		return nil, err
	}
	return markets, nil
}

// MarkMarketResolved records the winning outcome.
func (s *Store) MarkMarketResolved(ctx context.Context, marketID uint, outcome string, resolvedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&Market{}).Where("id = ?", marketID).
		Updates(map[string]any{
			"resolved_outcome": outcome,
			"resolution_date":  resolvedAt,
			"is_active":        false,
		}).Error
}

// CountMarkets returns the total number of markets and how many are stubs.
func (s *Store) CountMarkets(ctx context.Context) (total int64, stubs int64, err error) {
	if err = s.db.WithContext(ctx).Model(&Market{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = s.db.WithContext(ctx).Model(&Market{}).
		Where("condition_id LIKE ?", StubConditionPrefix+"%").Count(&stubs).Error; err != nil {
		return 0, 0, err
	}
	return total, stubs, nil
}
