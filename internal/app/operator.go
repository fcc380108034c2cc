package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"polysentry/internal/store"
)

// Operator assembles status summaries for the CLI.
type Operator struct {
	logger *zap.Logger
	st     *store.Store
	health *HealthMonitor
}

func NewOperator(logger *zap.Logger, st *store.Store, health *HealthMonitor) *Operator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Operator{logger: logger, st: st, health: health}
}

// Summary reports the shape of the stored dataset and source health.
func (o *Operator) Summary(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}

	totalMarkets, stubs, err := o.st.CountMarkets(ctx)
	if err != nil {
		return nil, err
	}
	out["markets"] = map[string]any{
		"total": totalMarkets,
		"stubs": stubs,
	}

	wallets, err := o.st.CountWallets(ctx)
	if err != nil {
		return nil, err
	}
	out["wallets"] = wallets

	trades, err := o.st.CountTrades(ctx)
	if err != nil {
		return nil, err
	}
	scores, err := o.st.CountScores(ctx)
	if err != nil {
		return nil, err
	}
	out["trades"] = map[string]any{
		"total":    trades,
		"scored":   scores,
		"unscored": trades - scores,
	}
	if latest, err := o.st.LatestTradeTimestamp(ctx); err == nil && !latest.IsZero() {
		out["latest_trade_at"] = latest.UTC().Format(time.RFC3339)
	}

	baselines, err := o.st.ListBaselines(ctx)
	if err != nil {
		return nil, err
	}
	out["baselines"] = len(baselines)

	insiders, err := o.st.CountConfirmedInsiders(ctx)
	if err != nil {
		return nil, err
	}
	out["confirmed_insiders"] = insiders

	byStatus, err := o.st.CountCandidatesByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out["candidates"] = byStatus

	alerts24h, err := o.st.CountAlertsSince(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	out["alerts_last_24h"] = alerts24h

	if o.health != nil {
		sources, recommended := o.health.Snapshot()
		out["sources"] = sources
		out["recommended_source"] = recommended
	}
	return out, nil
}

// CandidateSummaries renders the investigation queue for the CLI.
func (o *Operator) CandidateSummaries(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	candidates, err := o.st.ListCandidates(ctx, store.CandidateFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		row := map[string]any{
			"id":                  c.ID,
			"rank":                c.DiscoveryRank,
			"wallet":              c.WalletAddress,
			"question":            c.Question,
			"category":            c.Category,
			"side":                c.Side,
			"outcome":             c.Outcome,
			"usdc_size":           c.UsdcSize,
			"anomaly_score":       c.AnomalyScore,
			"insider_probability": c.InsiderProbability,
			"status":              c.Status,
			"priority":            c.Priority,
			"discovered_at":       c.DiscoveredAt.UTC().Format(time.RFC3339),
		}
		if c.ProfitLoss != nil {
			row["profit_loss"] = *c.ProfitLoss
		}
		if c.Resolution != nil {
			row["resolution"] = *c.Resolution
		}
		out = append(out, row)
	}
	return out, nil
}

// BaselineSummaries renders the baseline table for the CLI.
func (o *Operator) BaselineSummaries(ctx context.Context) ([]map[string]any, error) {
	baselines, err := o.st.ListBaselines(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(baselines))
	for i := range baselines {
		b := &baselines[i]
		row := map[string]any{
			"category":   b.Category,
			"metric":     b.Metric,
			"mean":       b.Mean,
			"std_dev":    b.StdDev,
			"median":     b.Median,
			"p95":        b.P95,
			"p99":        b.P99,
			"samples":    b.SampleCount,
			"calculated": b.CalculatedAt.UTC().Format(time.RFC3339),
		}
		if b.InsiderMean != nil {
			row["insider_mean"] = *b.InsiderMean
			row["insider_samples"] = b.InsiderSampleCount
		}
		if b.SeparationScore != nil {
			row["separation"] = *b.SeparationScore
		}
		out = append(out, row)
	}
	return out, nil
}
