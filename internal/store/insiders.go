package store

import (
	"context"
	"fmt"
)

// CreateConfirmedInsider records a labeled truth case. Weight defaults
// by confidence when unset: confirmed 1.0, likely 0.7, suspected 0.4.
func (s *Store) CreateConfirmedInsider(ctx context.Context, ci *ConfirmedInsider) error {
	if ci.TrainingWeight == 0 {
		switch ci.ConfidenceLevel {
		case ConfidenceConfirmed:
			ci.TrainingWeight = 1.0
		case ConfidenceLikely:
			ci.TrainingWeight = 0.7
		default:
			ci.TrainingWeight = 0.4
		}
	}
	if err := s.db.WithContext(ctx).Create(ci).Error; err != nil {
		return fmt.Errorf("failed to record confirmed insider %s: %w", ci.WalletAddress, err)
	}
	return nil
}

// ListConfirmedInsiders returns all labeled cases.
func (s *Store) ListConfirmedInsiders(ctx context.Context) ([]ConfirmedInsider, error) {
	var insiders []ConfirmedInsider
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&insiders).Error; err != nil {
		return nil, err
	}
	return insiders, nil
}

// IsConfirmedInsiderWallet reports whether an address has at least one
// label usable for training.
func (s *Store) IsConfirmedInsiderWallet(ctx context.Context, address string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ConfirmedInsider{}).
		Where("wallet_address = ? AND used_for_training = ?", address, true).
		Count(&n).Error
	return n > 0, err
}

// CountConfirmedInsiders returns the number of labeled cases.
func (s *Store) CountConfirmedInsiders(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ConfirmedInsider{}).Count(&n).Error
	return n, err
}

// MarkInsidersForTraining flags every unmarked labeled case as usable
// for training. Returns how many rows were newly marked.
func (s *Store) MarkInsidersForTraining(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&ConfirmedInsider{}).
		Where("used_for_training = ?", false).
		Update("used_for_training", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark insiders for training: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// InsiderTradeIDSet returns the ids of every trade tied to a labeled
// insider: trades referenced directly plus all trades placed by a
// training-flagged wallet.
func (s *Store) InsiderTradeIDSet(ctx context.Context) (map[uint]struct{}, error) {
	var byWallet []uint
	if err := s.db.WithContext(ctx).Model(&Trade{}).
		Joins("JOIN confirmed_insiders ON confirmed_insiders.wallet_address = trades.wallet_address").
		Where("confirmed_insiders.used_for_training = ?", true).
		Distinct().
		Pluck("trades.id", &byWallet).Error; err != nil {
		return nil, err
	}

	var direct []uint
	if err := s.db.WithContext(ctx).Model(&ConfirmedInsider{}).
		Where("trade_id IS NOT NULL").
		Pluck("trade_id", &direct).Error; err != nil {
		return nil, err
	}

	set := make(map[uint]struct{}, len(byWallet)+len(direct))
	for _, id := range byWallet {
		set[id] = struct{}{}
	}
	for _, id := range direct {
		set[id] = struct{}{}
	}
	return set, nil
}
