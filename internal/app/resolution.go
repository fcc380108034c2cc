package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"polysentry/clients/dataapi"
	"polysentry/internal/store"
)

// Resolver sweeps ended markets for resolution outcomes and labels the
// trades on them.
type Resolver struct {
	logger *zap.Logger
	st     *store.Store
	gamma  GammaClient
}

func NewResolver(logger *zap.Logger, st *store.Store, gamma GammaClient) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger, st: st, gamma: gamma}
}

// ResolutionStats summarizes one sweep.
type ResolutionStats struct {
	Checked      int `json:"checked"`
	Resolved     int `json:"resolved"`
	Ambiguous    int `json:"ambiguous"`
	TradesLabled int `json:"trades_labeled"`
	Errors       int `json:"errors"`
}

// Sweep checks every ended, unresolved market against gamma. Ambiguous
// resolutions (multiple winning prices) are logged and left unresolved
// rather than guessed at.
func (r *Resolver) Sweep(ctx context.Context, limit int) (*ResolutionStats, error) {
	markets, err := r.st.ListUnresolvedEndedMarkets(ctx, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}

	stats := &ResolutionStats{}
	for i := range markets {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		m := &markets[i]
		stats.Checked++

		gm, err := r.gamma.GetMarketByConditionID(ctx, m.ConditionID)
		if err != nil {
			stats.Errors++
			r.logger.Warn("failed to fetch market for resolution",
				zap.String("conditionID", shortID(m.ConditionID)),
				zap.Error(err),
			)
			continue
		}

		outcome, winIdx, err := gm.WinningOutcome()
		if errors.Is(err, dataapi.ErrAmbiguousResolution) {
			stats.Ambiguous++
			r.logger.Warn("ambiguous market resolution, leaving unresolved",
				zap.String("conditionID", shortID(m.ConditionID)),
				zap.String("question", m.Question),
			)
			continue
		}
		if err != nil {
			stats.Errors++
			continue
		}
		if winIdx < 0 {
			continue // ended but not yet resolved upstream
		}

		resolvedAt := time.Now().UTC()
		if gm.ClosedTime != "" {
			if t, perr := parseGammaTime(gm.ClosedTime); perr == nil {
				resolvedAt = t
			}
		}

		if err := r.st.MarkMarketResolved(ctx, m.ID, outcome, resolvedAt); err != nil {
			stats.Errors++
			continue
		}
		stats.Resolved++

		labeled, err := r.labelTrades(ctx, m.ID, winIdx, resolvedAt)
		if err != nil {
			stats.Errors++
			r.logger.Warn("failed to label trades after resolution",
				zap.String("conditionID", shortID(m.ConditionID)),
				zap.Error(err),
			)
			continue
		}
		stats.TradesLabled += labeled
	}

	r.logger.Info("resolution sweep complete",
		zap.Int("checked", stats.Checked),
		zap.Int("resolved", stats.Resolved),
		zap.Int("ambiguous", stats.Ambiguous),
		zap.Int("tradesLabeled", stats.TradesLabled),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// labelTrades records correctness, profit and timing for every open
// trade on a resolved market. A buyer is correct holding the winning
// outcome; a seller is correct having sold a losing one.
func (r *Resolver) labelTrades(ctx context.Context, marketID uint, winIdx int, resolvedAt time.Time) (int, error) {
	trades, err := r.st.ListOpenTradesForMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}

	labeled := 0
	for i := range trades {
		t := &trades[i]
		correct, pl := settleTrade(t, winIdx)
		hours := resolvedAt.Sub(t.TradeTimestamp).Hours()
		if err := r.st.UpdateTradeOutcome(ctx, t.ID, correct, pl, &hours); err != nil {
			return labeled, err
		}
		labeled++
	}
	return labeled, nil
}

// settleTrade computes correctness and profit for one trade given the
// winning outcome index. Winning shares settle at 1, losing at 0.
func settleTrade(t *store.Trade, winIdx int) (correct bool, profitLoss float64) {
	held := t.OutcomeIndex == winIdx
	if t.Side == store.SideBuy {
		if held {
			return true, t.Size - t.UsdcSize
		}
		return false, -t.UsdcSize
	}
	// SELL: the usdc is banked; the question is what the sold shares
	// would have settled at.
	if held {
		return false, t.UsdcSize - t.Size
	}
	return true, t.UsdcSize
}
