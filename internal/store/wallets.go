package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetOrCreateWallet returns the wallet for an address, creating it on
// first sight. FirstSeenAt only moves backwards, LastSeenAt forwards.
func (s *Store) GetOrCreateWallet(ctx context.Context, address string, seenAt time.Time) (*Wallet, error) {
	w := &Wallet{
		Address:     address,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(w).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet %s: %w", address, err)
	}
	if w.ID != 0 {
		return w, nil
	}

	var existing Wallet
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&existing).Error; err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if seenAt.Before(existing.FirstSeenAt) {
		updates["first_seen_at"] = seenAt
		existing.FirstSeenAt = seenAt
	}
	if seenAt.After(existing.LastSeenAt) {
		updates["last_seen_at"] = seenAt
		existing.LastSeenAt = seenAt
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &existing, nil
}

// GetWalletByAddress fetches one wallet.
func (s *Store) GetWalletByAddress(ctx context.Context, address string) (*Wallet, error) {
	var w Wallet
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// walletAggregates holds the recomputed rollup for one wallet.
type walletAggregates struct {
	TotalTrades   int
	TotalVolume   float64
	UniqueMarkets int
}

// RefreshWalletAggregates recomputes a wallet's rollup columns from its
// trades. Win/loss counts only consider trades with a recorded outcome.
func (s *Store) RefreshWalletAggregates(ctx context.Context, walletID uint) error {
	db := s.db.WithContext(ctx)

	var agg walletAggregates
	err := db.Model(&Trade{}).
		Select("COUNT(*) AS total_trades, COALESCE(SUM(usdc_size), 0) AS total_volume, COUNT(DISTINCT market_id) AS unique_markets").
		Where("wallet_id = ?", walletID).
		Scan(&agg).Error
	if err != nil {
		return fmt.Errorf("failed to aggregate trades for wallet %d: %w", walletID, err)
	}

	// First and last trade come from typed row reads; aggregate MIN/MAX
	// over a timestamp column scans inconsistently across drivers.
	var first, last Trade
	firstErr := db.Where("wallet_id = ?", walletID).Order("trade_timestamp ASC").First(&first).Error
	if firstErr != nil && !errors.Is(firstErr, gorm.ErrRecordNotFound) {
		return firstErr
	}
	lastErr := db.Where("wallet_id = ?", walletID).Order("trade_timestamp DESC").First(&last).Error
	if lastErr != nil && !errors.Is(lastErr, gorm.ErrRecordNotFound) {
		return lastErr
	}

	var wins, losses int64
	if err := db.Model(&Trade{}).Where("wallet_id = ? AND was_correct = ?", walletID, true).Count(&wins).Error; err != nil {
		return err
	}
	if err := db.Model(&Trade{}).Where("wallet_id = ? AND was_correct = ?", walletID, false).Count(&losses).Error; err != nil {
		return err
	}

	resolved := wins + losses
	winRate := 0.0
	if resolved > 0 {
		winRate = float64(wins) / float64(resolved)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"total_trades":       agg.TotalTrades,
		"total_volume":       agg.TotalVolume,
		"unique_markets":     agg.UniqueMarkets,
		"resolved_positions": resolved,
		"wins":               wins,
		"losses":             losses,
		"win_rate":           winRate,
		"last_aggregated_at": now,
	}
	if firstErr == nil {
		updates["first_seen_at"] = first.TradeTimestamp
	}
	if lastErr == nil {
		updates["last_seen_at"] = last.TradeTimestamp
	}
	return db.Model(&Wallet{}).Where("id = ?", walletID).Updates(updates).Error
}

// ListStaleWallets returns wallets whose aggregates are older than the
// cutoff (or never computed), ordered oldest first.
func (s *Store) ListStaleWallets(ctx context.Context, cutoff time.Time, limit int) ([]Wallet, error) {
	var wallets []Wallet
	q := s.db.WithContext(ctx).
		Where("last_aggregated_at IS NULL OR last_aggregated_at < ?", cutoff).
		Order("last_aggregated_at ASC NULLS FIRST")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&wallets).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return wallets, nil
}

// CountWallets returns the number of known wallets.
func (s *Store) CountWallets(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Wallet{}).Count(&n).Error
	return n, err
}
