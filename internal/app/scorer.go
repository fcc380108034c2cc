package app

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"polysentry/internal/store"
	"polysentry/internal/telemetry"
)

// Metric weights in the composite anomaly score. The weights are
// fixed: a metric with no usable z-score contributes nothing, and its
// weight is not redistributed, so missing signals lower the score
// instead of inflating the rest.
var anomalyWeights = map[string]float64{
	store.MetricSize:           0.25,
	store.MetricTiming:         0.25,
	store.MetricWalletAge:      0.20,
	"position_concentration":   0.15,
	store.MetricWalletActivity: 0.08,
	store.MetricPriceExtremity: 0.04,
	"funding_proximity":        0.03,
}

// trinityBoost multiplies the anomaly score when size, timing and
// wallet age are all simultaneously extreme.
const (
	trinityBoost     = 1.25
	trinityThreshold = 2.0
)

// Population parameters for the concentration z-score. Concentration
// has no per-category baseline track; typical wallets sit around 0.6
// after rescaling.
const (
	concentrationMean   = 0.6
	concentrationStdDev = 0.2
)

// zSaturation is the |z| at which a single metric's contribution to
// the composite maxes out.
const zSaturation = 3.0

// Severity buckets for absolute z-scores.
const (
	SeverityNormal   = "normal"
	SeverityElevated = "elevated"
	SeverityHigh     = "high"
	SeverityVeryHigh = "very_high"
	SeverityExtreme  = "extreme"
)

// Scorer turns trades into anomaly feature vectors against the current
// baselines.
type Scorer struct {
	logger   *zap.Logger
	st       *store.Store
	patterns *PatternEngine

	baselines map[string]map[string]*store.Baseline
	loadedAt  time.Time
}

func NewScorer(logger *zap.Logger, st *store.Store, patterns *PatternEngine) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{logger: logger, st: st, patterns: patterns}
}

// RefreshBaselines reloads the baseline cache from the store.
func (s *Scorer) RefreshBaselines(ctx context.Context) error {
	m, err := s.st.BaselineMap(ctx)
	if err != nil {
		return err
	}
	s.baselines = m
	s.loadedAt = time.Now().UTC()
	return nil
}

// baseline looks a (category, metric) pair up, falling back to the
// cross-category track when the category has no baseline.
func (s *Scorer) baseline(category, metric string) *store.Baseline {
	if byMetric, ok := s.baselines[category]; ok {
		if b, ok := byMetric[metric]; ok {
			return b
		}
	}
	if byMetric, ok := s.baselines[store.CategoryAll]; ok {
		return byMetric[metric]
	}
	return nil
}

// zScore standardizes a value against a baseline. Nil when the value
// is unavailable or the baseline cannot standardize (missing or zero
// spread); a missing input is never coerced to zero.
func (s *Scorer) zScore(category, metric string, value *float64) *float64 {
	if value == nil {
		return nil
	}
	b := s.baseline(category, metric)
	if b == nil || b.StdDev == 0 {
		return nil
	}
	z := (*value - b.Mean) / b.StdDev
	return &z
}

// ScoreTrade computes and persists the score row for one trade.
func (s *Scorer) ScoreTrade(ctx context.Context, trade *store.Trade) (*store.TradeScore, error) {
	if s.baselines == nil {
		if err := s.RefreshBaselines(ctx); err != nil {
			return nil, err
		}
	}

	market, err := s.st.GetMarketByID(ctx, trade.MarketID)
	if err != nil {
		return nil, err
	}
	category := market.Category

	score := &store.TradeScore{
		TradeID:  trade.ID,
		ScoredAt: time.Now().UTC(),
	}

	score.SizeZScore = s.zScore(category, store.MetricSize, &trade.Size)
	score.TimingZScore = s.zScore(category, store.MetricTiming, trade.HoursBeforeResolution)
	score.WalletAgeZScore = s.zScore(category, store.MetricWalletAge, trade.WalletAgeDays)
	activity := float64(trade.WalletTradeCount)
	score.WalletActivityZScore = s.zScore(category, store.MetricWalletActivity, &activity)
	score.PriceExtremityZScore = s.zScore(category, store.MetricPriceExtremity, &trade.PriceExtremity)
	score.PositionConcentrationZScore, err = s.concentrationZ(ctx, trade)
	if err != nil {
		return nil, err
	}
	// Funding proximity needs off-platform funding data; stays null
	// until a funding feed lands.
	score.FundingProximityZScore = nil

	score.AnomalyScore = s.compositeAnomaly(score)
	score.TrinityPattern = isTrinity(score)
	if score.TrinityPattern {
		score.AnomalyScore = math.Min(1, score.AnomalyScore*trinityBoost)
	}

	fv := featureVector(trade, score)
	matches, err := s.patterns.Match(ctx, fv)
	if err != nil {
		return nil, err
	}
	patternScore := 0.0
	if len(matches) > 0 {
		score.MatchedPatterns = make(map[string]any, len(matches))
		for _, m := range matches {
			score.MatchedPatterns[m.Name] = m.Score
			if m.Score > patternScore {
				patternScore = m.Score
			}
		}
	}

	correct := 0.0
	if trade.WasCorrect != nil && *trade.WasCorrect {
		correct = 1.0
	}
	score.InsiderProbability = clamp01(0.4*score.AnomalyScore + 0.4*patternScore + 0.2*correct)

	score.Breakdown = breakdown(score)

	if err := s.st.UpsertScore(ctx, score); err != nil {
		return nil, err
	}
	telemetry.TradesScored.Inc()
	return score, nil
}

// ScoreRunStats summarizes one scoring pass.
type ScoreRunStats struct {
	Scored int `json:"scored"`
	Errors int `json:"errors"`
}

// ScorePending scores every trade that has no score row yet.
func (s *Scorer) ScorePending(ctx context.Context, limit int) (*ScoreRunStats, error) {
	if err := s.RefreshBaselines(ctx); err != nil {
		return nil, err
	}
	trades, err := s.st.ListUnscoredTrades(ctx, limit)
	if err != nil {
		return nil, err
	}

	stats := &ScoreRunStats{}
	for i := range trades {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if _, err := s.ScoreTrade(ctx, &trades[i]); err != nil {
			stats.Errors++
			s.logger.Warn("failed to score trade",
				zap.Uint("tradeID", trades[i].ID),
				zap.Error(err),
			)
			continue
		}
		stats.Scored++
	}

	s.logger.Info("scoring pass complete",
		zap.Int("scored", stats.Scored),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// concentrationZ standardizes how one-sided the wallet's exposure on
// this trade's market is. Trades net per outcome (buys add size, sells
// subtract); the dominant net position over the total absolute net
// position gives raw concentration, which is rescaled so anything at
// or below an even split reads as zero. A wallet that nets out to flat
// has concentration zero. The z-score is always computed.
func (s *Scorer) concentrationZ(ctx context.Context, trade *store.Trade) (*float64, error) {
	trades, err := s.st.ListWalletTradesOnMarket(ctx, trade.WalletID, trade.MarketID)
	if err != nil {
		return nil, err
	}

	net := make(map[string]float64)
	for i := range trades {
		t := &trades[i]
		if t.Side == store.SideSell {
			net[t.Outcome] -= t.Size
		} else {
			net[t.Outcome] += t.Size
		}
	}

	var dominant, total float64
	for _, n := range net {
		abs := math.Abs(n)
		total += abs
		if abs > dominant {
			dominant = abs
		}
	}

	c := 0.0
	if total > 0 {
		c = math.Max(0, (dominant/total-0.5)*2)
	}
	z := (c - concentrationMean) / concentrationStdDev
	return &z, nil
}

// compositeAnomaly folds the z-scores into [0, 1]. Each component
// saturates at |z| = 3 and carries its fixed weight; unavailable
// components contribute zero.
func (s *Scorer) compositeAnomaly(score *store.TradeScore) float64 {
	components := []struct {
		name string
		z    *float64
	}{
		{store.MetricSize, score.SizeZScore},
		{store.MetricTiming, score.TimingZScore},
		{store.MetricWalletAge, score.WalletAgeZScore},
		{"position_concentration", score.PositionConcentrationZScore},
		{store.MetricWalletActivity, score.WalletActivityZScore},
		{store.MetricPriceExtremity, score.PriceExtremityZScore},
		{"funding_proximity", score.FundingProximityZScore},
	}

	var weighted float64
	for _, c := range components {
		if c.z == nil {
			continue
		}
		weighted += anomalyWeights[c.name] * math.Min(math.Abs(*c.z)/zSaturation, 1)
	}
	return clamp01(weighted)
}

// rmsAnomaly is the earlier scoring mode: the root mean square of the
// available z-scores, scaled by the saturation point. Kept for
// rescoring comparisons against historical score rows.
func rmsAnomaly(zs []float64) float64 {
	if len(zs) == 0 {
		return 0
	}
	var sum float64
	for _, z := range zs {
		sum += z * z
	}
	return clamp01(math.Sqrt(sum/float64(len(zs))) / zSaturation)
}

// isTrinity reports whether size, timing and wallet age are all
// simultaneously extreme.
func isTrinity(score *store.TradeScore) bool {
	for _, z := range []*float64{score.SizeZScore, score.TimingZScore, score.WalletAgeZScore} {
		if z == nil || math.Abs(*z) < trinityThreshold {
			return false
		}
	}
	return true
}

// featureVector builds the rule-evaluation view of a scored trade.
func featureVector(trade *store.Trade, score *store.TradeScore) FeatureVector {
	fv := FeatureVector{
		FeatureSizeZScore:           score.SizeZScore,
		FeatureTimingZScore:         score.TimingZScore,
		FeatureWalletAgeZScore:      score.WalletAgeZScore,
		FeatureWalletActivityZScore: score.WalletActivityZScore,
		FeaturePriceExtremityZScore: score.PriceExtremityZScore,
		FeatureConcentrationZScore:  score.PositionConcentrationZScore,
		FeatureAnomalyScore:         fptr(score.AnomalyScore),
		FeaturePriceExtremity:       fptr(trade.PriceExtremity),
		FeatureUsdcSize:             fptr(trade.UsdcSize),
	}
	if trade.WasCorrect != nil {
		v := 0.0
		if *trade.WasCorrect {
			v = 1.0
		}
		fv[FeatureWasCorrect] = &v
	}
	return fv
}

// severityFor buckets an absolute z-score.
func severityFor(z float64) string {
	abs := math.Abs(z)
	switch {
	case abs >= 3.0:
		return SeverityExtreme
	case abs >= 2.5:
		return SeverityVeryHigh
	case abs >= 2.0:
		return SeverityHigh
	case abs >= 1.5:
		return SeverityElevated
	default:
		return SeverityNormal
	}
}

// breakdown renders per-metric z-scores with severity labels for the
// investigation UI.
func breakdown(score *store.TradeScore) map[string]any {
	entries := map[string]*float64{
		store.MetricSize:           score.SizeZScore,
		store.MetricTiming:         score.TimingZScore,
		store.MetricWalletAge:      score.WalletAgeZScore,
		store.MetricWalletActivity: score.WalletActivityZScore,
		store.MetricPriceExtremity: score.PriceExtremityZScore,
		"position_concentration":   score.PositionConcentrationZScore,
	}
	out := make(map[string]any, len(entries))
	for name, z := range entries {
		if z == nil {
			continue
		}
		out[name] = map[string]any{
			"zscore":   *z,
			"severity": severityFor(*z),
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
