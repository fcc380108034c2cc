package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// UpsertTrade inserts a trade, keyed by transaction hash. When the
// hash is already present the derived metric columns are refreshed on
// the existing row instead. Returns whether a new row was inserted.
func (s *Store) UpsertTrade(ctx context.Context, t *Trade) (inserted bool, err error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_hash"}},
		DoNothing: true,
	}).Create(t)
	if res.Error != nil {
		return false, fmt.Errorf("failed to upsert trade %s: %w", t.TransactionHash, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var existing Trade
	if err := s.db.WithContext(ctx).Where("transaction_hash = ?", t.TransactionHash).First(&existing).Error; err != nil {
		return false, err
	}
	updates := map[string]any{
		"hours_before_resolution": t.HoursBeforeResolution,
		"wallet_age_days":         t.WalletAgeDays,
		"wallet_trade_count":      t.WalletTradeCount,
		"price_extremity":         t.PriceExtremity,
	}
	if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return false, err
	}
	*t = existing
	return false, nil
}

// GetTradeByHash fetches one trade by transaction hash.
func (s *Store) GetTradeByHash(ctx context.Context, hash string) (*Trade, error) {
	var t Trade
	if err := s.db.WithContext(ctx).Where("transaction_hash = ?", hash).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTradeByID fetches one trade by primary key.
func (s *Store) GetTradeByID(ctx context.Context, id uint) (*Trade, error) {
	var t Trade
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTradesSince returns trades at or after the cutoff, newest first.
func (s *Store) ListTradesSince(ctx context.Context, since time.Time, limit int) ([]Trade, error) {
	var trades []Trade
	q := s.db.WithContext(ctx).
		Where("trade_timestamp >= ?", since).
		Order("trade_timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// ListUnscoredTrades returns trades that have no score row yet,
// oldest first so a backlog drains in order.
func (s *Store) ListUnscoredTrades(ctx context.Context, limit int) ([]Trade, error) {
	var trades []Trade
	q := s.db.WithContext(ctx).
		Where("id NOT IN (?)", s.db.Model(&TradeScore{}).Select("trade_id")).
		Order("trade_timestamp ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// ListTradesForMarket returns all trades on one market.
func (s *Store) ListTradesForMarket(ctx context.Context, marketID uint) ([]Trade, error) {
	var trades []Trade
	if err := s.db.WithContext(ctx).Where("market_id = ?", marketID).Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// ListOpenTradesForMarket returns trades on a market with no recorded
// outcome yet.
func (s *Store) ListOpenTradesForMarket(ctx context.Context, marketID uint) ([]Trade, error) {
	var trades []Trade
	if err := s.db.WithContext(ctx).
		Where("market_id = ? AND was_correct IS NULL", marketID).
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// UpdateTradeOutcome records resolution results on one trade.
func (s *Store) UpdateTradeOutcome(ctx context.Context, tradeID uint, wasCorrect bool, profitLoss float64, hoursBefore *float64) error {
	updates := map[string]any{
		"was_correct": wasCorrect,
		"profit_loss": profitLoss,
	}
	if hoursBefore != nil {
		updates["hours_before_resolution"] = *hoursBefore
	}
	return s.db.WithContext(ctx).Model(&Trade{}).Where("id = ?", tradeID).Updates(updates).Error
}

// ListWalletTradesOnMarket returns every trade one wallet placed on one
// market, for net-position math.
func (s *Store) ListWalletTradesOnMarket(ctx context.Context, walletID, marketID uint) ([]Trade, error) {
	var trades []Trade
	if err := s.db.WithContext(ctx).
		Where("wallet_id = ? AND market_id = ?", walletID, marketID).
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// ListTradesForWallet returns a wallet's trades, newest first.
func (s *Store) ListTradesForWallet(ctx context.Context, walletAddress string, limit int) ([]Trade, error) {
	var trades []Trade
	q := s.db.WithContext(ctx).
		Where("wallet_address = ?", walletAddress).
		Order("trade_timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// WalletProfitLoss sums a wallet's realized profit over resolved trades.
func (s *Store) WalletProfitLoss(ctx context.Context, walletAddress string) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&Trade{}).
		Select("COALESCE(SUM(profit_loss), 0)").
		Where("wallet_address = ? AND profit_loss IS NOT NULL", walletAddress).
		Scan(&total).Error
	return total, err
}

// WalletMarketVolume returns the wallet's total USDC volume on one
// market.
func (s *Store) WalletMarketVolume(ctx context.Context, walletID, marketID uint) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&Trade{}).
		Select("COALESCE(SUM(usdc_size), 0)").
		Where("wallet_id = ? AND market_id = ?", walletID, marketID).
		Scan(&total).Error
	return total, err
}

// CountTrades returns the total number of stored trades.
func (s *Store) CountTrades(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Trade{}).Count(&n).Error
	return n, err
}

// LatestTradeTimestamp returns the timestamp of the most recent trade,
// or the zero time when no trades are stored.
func (s *Store) LatestTradeTimestamp(ctx context.Context) (time.Time, error) {
	var t Trade
	err := s.db.WithContext(ctx).Order("trade_timestamp DESC").First(&t).Error
	if err != nil {
		return time.Time{}, err
	}
	return t.TradeTimestamp, nil
}

// MetricSamples returns the values of one metric for all trades in a
// category. CategoryAll spans every category. Null metric values are
// excluded rather than coerced.
func (s *Store) MetricSamples(ctx context.Context, category, metric string) ([]float64, error) {
	expr, err := metricColumn(metric)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(&Trade{}).
		Select(expr).
		Where(expr + " IS NOT NULL")
	if category != CategoryAll {
		q = q.Joins("JOIN markets ON markets.id = trades.market_id").
			Where("markets.category = ?", category)
	}

	var samples []float64
	if err := q.Pluck(expr, &samples).Error; err != nil {
		return nil, fmt.Errorf("failed to sample %s/%s: %w", category, metric, err)
	}
	return samples, nil
}

// InsiderMetricSamples returns metric values restricted to trades
// placed by confirmed insider wallets.
func (s *Store) InsiderMetricSamples(ctx context.Context, category, metric string) ([]float64, error) {
	expr, err := metricColumn(metric)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(&Trade{}).
		Select(expr).
		Joins("JOIN confirmed_insiders ON confirmed_insiders.wallet_address = trades.wallet_address").
		Where("confirmed_insiders.used_for_training = ?", true).
		Where(expr + " IS NOT NULL")
	if category != CategoryAll {
		q = q.Joins("JOIN markets ON markets.id = trades.market_id").
			Where("markets.category = ?", category)
	}

	var samples []float64
	if err := q.Pluck(expr, &samples).Error; err != nil {
		return nil, fmt.Errorf("failed to sample insider %s/%s: %w", category, metric, err)
	}
	return samples, nil
}

func metricColumn(metric string) (string, error) {
	switch metric {
	case MetricSize:
		return "trades.size", nil
	case MetricUsdcSize:
		return "trades.usdc_size", nil
	case MetricTiming:
		return "trades.hours_before_resolution", nil
	case MetricWalletAge:
		return "trades.wallet_age_days", nil
	case MetricWalletActivity:
		return "trades.wallet_trade_count", nil
	case MetricPriceExtremity:
		return "trades.price_extremity", nil
	default:
		return "", fmt.Errorf("unknown baseline metric %q", metric)
	}
}
