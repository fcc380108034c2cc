package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

// UpsertScore inserts or replaces the score row for a trade. Rescoring
// overwrites the previous vector.
func (s *Store) UpsertScore(ctx context.Context, sc *TradeScore) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trade_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"size_z_score", "timing_z_score", "wallet_age_z_score",
			"wallet_activity_z_score", "price_extremity_z_score",
			"position_concentration_z_score", "funding_proximity_z_score",
			"anomaly_score", "insider_probability", "trinity_pattern",
			"matched_patterns", "breakdown", "scored_at",
		}),
	}).Create(sc).Error
	if err != nil {
		return fmt.Errorf("failed to upsert score for trade %d: %w", sc.TradeID, err)
	}
	return nil
}

// GetScoreByTradeID fetches the score row for one trade.
func (s *Store) GetScoreByTradeID(ctx context.Context, tradeID uint) (*TradeScore, error) {
	var sc TradeScore
	if err := s.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&sc).Error; err != nil {
		return nil, err
	}
	return &sc, nil
}

// ScoredTrade pairs a trade with its score for ranked listings.
type ScoredTrade struct {
	Trade Trade
	Score TradeScore
}

// ScoreFilter narrows ranked score listings.
type ScoreFilter struct {
	MinAnomalyScore float64
	MinProbability  float64
	MatchAny        bool     // either threshold suffices; zero thresholds are ignored
	MinProfit       *float64 // only trades with profit_loss >= this; requires resolution
	CorrectOnly     bool
	EventBasedOnly  bool
	ExcludeKnown    bool // drop trades already labeled or already promoted
	Limit           int
}

// ListTopScoredTrades returns trades whose scores clear the filter,
// ranked by insider probability then anomaly score, both descending.
func (s *Store) ListTopScoredTrades(ctx context.Context, f ScoreFilter) ([]ScoredTrade, error) {
	q := s.db.WithContext(ctx).Model(&TradeScore{}).
		Joins("JOIN trades ON trades.id = trade_scores.trade_id").
		Order("trade_scores.insider_probability DESC, trade_scores.anomaly_score DESC")

	switch {
	case !f.MatchAny:
		q = q.Where("trade_scores.anomaly_score >= ?", f.MinAnomalyScore).
			Where("trade_scores.insider_probability >= ?", f.MinProbability)
	case f.MinAnomalyScore > 0 && f.MinProbability > 0:
		q = q.Where("trade_scores.anomaly_score >= ? OR trade_scores.insider_probability >= ?",
			f.MinAnomalyScore, f.MinProbability)
	case f.MinAnomalyScore > 0:
		q = q.Where("trade_scores.anomaly_score >= ?", f.MinAnomalyScore)
	case f.MinProbability > 0:
		q = q.Where("trade_scores.insider_probability >= ?", f.MinProbability)
	}

	if f.EventBasedOnly {
		q = q.Joins("JOIN markets ON markets.id = trades.market_id").
			Where("markets.is_event_based = ?", true)
	}
	if f.ExcludeKnown {
		q = q.Where("NOT EXISTS (SELECT 1 FROM confirmed_insiders WHERE confirmed_insiders.wallet_address = trades.wallet_address OR confirmed_insiders.trade_id = trades.id)").
			Where("NOT EXISTS (SELECT 1 FROM investigation_candidates WHERE investigation_candidates.trade_id = trades.id)")
	}
	if f.MinProfit != nil {
		q = q.Where("trades.profit_loss IS NOT NULL AND trades.profit_loss >= ?", *f.MinProfit)
	}
	if f.CorrectOnly {
		q = q.Where("trades.was_correct = ?", true)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var scores []TradeScore
	if err := q.Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("failed to list scored trades: %w", err)
	}

	out := make([]ScoredTrade, 0, len(scores))
	for _, sc := range scores {
		t, err := s.GetTradeByID(ctx, sc.TradeID)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredTrade{Trade: *t, Score: sc})
	}
	return out, nil
}

// ListResolvedScoredTrades returns every scored trade whose market has
// resolved, for pattern validation.
func (s *Store) ListResolvedScoredTrades(ctx context.Context, limit int) ([]ScoredTrade, error) {
	q := s.db.WithContext(ctx).Model(&TradeScore{}).
		Joins("JOIN trades ON trades.id = trade_scores.trade_id").
		Where("trades.was_correct IS NOT NULL").
		Order("trade_scores.trade_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var scores []TradeScore
	if err := q.Find(&scores).Error; err != nil {
		return nil, err
	}
	out := make([]ScoredTrade, 0, len(scores))
	for _, sc := range scores {
		t, err := s.GetTradeByID(ctx, sc.TradeID)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredTrade{Trade: *t, Score: sc})
	}
	return out, nil
}

// ListScoresForRescore returns score rows in id order for batched
// rescoring after a baseline or pattern change.
func (s *Store) ListScoresForRescore(ctx context.Context, afterID uint, limit int) ([]TradeScore, error) {
	var scores []TradeScore
	q := s.db.WithContext(ctx).Where("id > ?", afterID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&scores).Error; err != nil {
		return nil, err
	}
	return scores, nil
}

// ListSuspiciousTradesOnMarket returns other scored trades on one
// market above the anomaly cutoff, for the investigation profile.
func (s *Store) ListSuspiciousTradesOnMarket(ctx context.Context, marketID uint, minAnomaly float64, excludeTradeID uint, limit int) ([]ScoredTrade, error) {
	q := s.db.WithContext(ctx).Model(&TradeScore{}).
		Joins("JOIN trades ON trades.id = trade_scores.trade_id").
		Where("trades.market_id = ?", marketID).
		Where("trades.id <> ?", excludeTradeID).
		Where("trade_scores.anomaly_score >= ?", minAnomaly).
		Order("trade_scores.anomaly_score DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var scores []TradeScore
	if err := q.Find(&scores).Error; err != nil {
		return nil, err
	}
	out := make([]ScoredTrade, 0, len(scores))
	for _, sc := range scores {
		t, err := s.GetTradeByID(ctx, sc.TradeID)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredTrade{Trade: *t, Score: sc})
	}
	return out, nil
}

// CountScores returns the number of scored trades.
func (s *Store) CountScores(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&TradeScore{}).Count(&n).Error
	return n, err
}
