package app

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"polysentry/internal/store"
)

// Feedback closes the loop: confirmed insider labels sharpen the
// baselines, patterns are validated against the labeled trades,
// existing scores are recomputed under the new parameters, and a fresh
// discovery run surfaces the next candidates.
type Feedback struct {
	logger    *zap.Logger
	st        *store.Store
	baselines *BaselineEngine
	scorer    *Scorer
	patterns  *PatternEngine
	discovery *Discovery
}

func NewFeedback(logger *zap.Logger, st *store.Store, baselines *BaselineEngine, scorer *Scorer, patterns *PatternEngine, discovery *Discovery) *Feedback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feedback{
		logger:    logger,
		st:        st,
		baselines: baselines,
		scorer:    scorer,
		patterns:  patterns,
		discovery: discovery,
	}
}

// BaselineDelta reports how one baseline's insider separation moved.
type BaselineDelta struct {
	Category string   `json:"category"`
	Metric   string   `json:"metric"`
	Before   *float64 `json:"before"`
	After    *float64 `json:"after"`
	Change   string   `json:"change"`
}

// Delta classifications for separation and validation movement.
const (
	DeltaSignificant = "significant"
	DeltaModerate    = "moderate"
	DeltaSlight      = "slight"
	DeltaNone        = "none"
	DeltaRegression  = "regression"
)

// PatternValidation reports one pattern's performance against the
// confirmed insider labels.
type PatternValidation struct {
	PatternName    string   `json:"pattern_name"`
	Matched        int      `json:"matched"`
	TruePositives  int      `json:"true_positives"`
	FalsePositives int      `json:"false_positives"`
	Precision      *float64 `json:"precision"`
	Recall         *float64 `json:"recall"`
	F1Score        *float64 `json:"f1_score"`
	Lift           *float64 `json:"lift"`
}

// FeedbackParams bounds one feedback cycle.
type FeedbackParams struct {
	RescoreAll bool
	BatchSize  int
	Discovery  DiscoveryParams
}

// FeedbackReport summarizes one feedback cycle.
type FeedbackReport struct {
	Insiders            int64               `json:"insiders"`
	NewTrainingInsiders int64               `json:"new_training_insiders"`
	BaselineDeltas      []BaselineDelta     `json:"baseline_deltas"`
	PatternsValidated   []PatternValidation `json:"patterns_validated"`
	Rescored            int                 `json:"rescored"`
	RescoreErrors       int                 `json:"rescore_errors"`
	Discovery           *DiscoveryResult    `json:"discovery"`
	SeparationDelta     float64             `json:"separation_delta"`
	F1Delta             float64             `json:"f1_delta"`
	Improvement         string              `json:"improvement"`
}

// Run executes one feedback cycle: fold unconsumed insider labels into
// the training set, recompute baselines, validate patterns against the
// labels, rescore, then run discovery under the refreshed parameters.
// RescoreAll recomputes every stored score in batches; otherwise only
// unscored trades are picked up.
func (f *Feedback) Run(ctx context.Context, p FeedbackParams) (*FeedbackReport, error) {
	report := &FeedbackReport{}

	var err error
	report.NewTrainingInsiders, err = f.st.MarkInsidersForTraining(ctx)
	if err != nil {
		return nil, err
	}
	report.Insiders, err = f.st.CountConfirmedInsiders(ctx)
	if err != nil {
		return nil, err
	}

	sepBefore, err := f.separationSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	f1Before, err := f.meanPatternF1(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := f.baselines.Recompute(ctx); err != nil {
		return nil, err
	}

	report.BaselineDeltas, err = f.separationDeltas(ctx, sepBefore)
	if err != nil {
		return nil, err
	}

	report.PatternsValidated, err = f.validatePatterns(ctx)
	if err != nil {
		return nil, err
	}

	report.Rescored, report.RescoreErrors, err = f.rescore(ctx, p.RescoreAll, p.BatchSize)
	if err != nil {
		return nil, err
	}

	report.Discovery, err = f.discovery.Run(ctx, p.Discovery)
	if err != nil {
		return nil, err
	}

	f1After, err := f.meanPatternF1(ctx)
	if err != nil {
		return nil, err
	}
	report.SeparationDelta = meanSeparationDelta(report.BaselineDeltas)
	report.F1Delta = f1After - f1Before
	report.Improvement = classifyImprovement(math.Max(report.SeparationDelta, report.F1Delta))

	f.logger.Info("feedback cycle complete",
		zap.Int64("insiders", report.Insiders),
		zap.Int64("newTrainingInsiders", report.NewTrainingInsiders),
		zap.Int("patternsValidated", len(report.PatternsValidated)),
		zap.Int("rescored", report.Rescored),
		zap.Int("rescoreErrors", report.RescoreErrors),
		zap.String("improvement", report.Improvement),
	)
	return report, nil
}

func (f *Feedback) separationSnapshot(ctx context.Context) (map[string]*float64, error) {
	baselines, err := f.st.ListBaselines(ctx)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]*float64, len(baselines))
	for i := range baselines {
		b := &baselines[i]
		snap[b.Category+"/"+b.Metric] = b.SeparationScore
	}
	return snap, nil
}

func (f *Feedback) separationDeltas(ctx context.Context, before map[string]*float64) ([]BaselineDelta, error) {
	baselines, err := f.st.ListBaselines(ctx)
	if err != nil {
		return nil, err
	}

	var deltas []BaselineDelta
	for i := range baselines {
		b := &baselines[i]
		prev := before[b.Category+"/"+b.Metric]
		if prev == nil && b.SeparationScore == nil {
			continue
		}
		deltas = append(deltas, BaselineDelta{
			Category: b.Category,
			Metric:   b.Metric,
			Before:   prev,
			After:    b.SeparationScore,
			Change:   classifyDelta(prev, b.SeparationScore),
		})
	}
	return deltas, nil
}

// classifyDelta buckets movement in absolute separation.
func classifyDelta(before, after *float64) string {
	prev := 0.0
	if before != nil {
		prev = abs(*before)
	}
	cur := 0.0
	if after != nil {
		cur = abs(*after)
	}
	return classifyImprovement(cur - prev)
}

// classifyImprovement buckets a metric delta.
func classifyImprovement(diff float64) string {
	switch {
	case diff >= 0.5:
		return DeltaSignificant
	case diff >= 0.1:
		return DeltaModerate
	case diff > 0:
		return DeltaSlight
	case diff == 0:
		return DeltaNone
	default:
		return DeltaRegression
	}
}

// meanSeparationDelta averages the movement in absolute separation over
// the baselines that reported a delta.
func meanSeparationDelta(deltas []BaselineDelta) float64 {
	if len(deltas) == 0 {
		return 0
	}
	var sum float64
	for _, d := range deltas {
		prev := 0.0
		if d.Before != nil {
			prev = abs(*d.Before)
		}
		cur := 0.0
		if d.After != nil {
			cur = abs(*d.After)
		}
		sum += cur - prev
	}
	return sum / float64(len(deltas))
}

// meanPatternF1 averages the stored F1 over patterns that have one.
func (f *Feedback) meanPatternF1(ctx context.Context) (float64, error) {
	patterns, err := f.st.ListPatterns(ctx)
	if err != nil {
		return 0, err
	}
	var sum float64
	var n int
	for i := range patterns {
		if patterns[i].F1Score == nil {
			continue
		}
		sum += *patterns[i].F1Score
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// validatePatterns measures every pattern against the confirmed
// insider labels over resolved trades and persists the counters. A
// match counts as a true positive only when the trade is tied to a
// confirmed insider; winning by itself is not a label.
func (f *Feedback) validatePatterns(ctx context.Context) ([]PatternValidation, error) {
	resolved, err := f.st.ListResolvedScoredTrades(ctx, 0)
	if err != nil {
		return nil, err
	}
	patterns, err := f.st.ListPatterns(ctx)
	if err != nil {
		return nil, err
	}
	insiderIDs, err := f.st.InsiderTradeIDSet(ctx)
	if err != nil {
		return nil, err
	}

	totalInsiders := 0
	vectors := make([]FeatureVector, len(resolved))
	labels := make([]bool, len(resolved))
	for i := range resolved {
		vectors[i] = featureVector(&resolved[i].Trade, &resolved[i].Score)
		if _, ok := insiderIDs[resolved[i].Trade.ID]; ok {
			labels[i] = true
			totalInsiders++
		}
	}

	now := time.Now().UTC()
	var validations []PatternValidation
	for i := range patterns {
		p := &patterns[i]
		c, err := ParseConditions(p.Conditions)
		if err != nil {
			continue
		}

		val := PatternValidation{PatternName: p.PatternName}
		for j, fv := range vectors {
			if ok, _ := c.Evaluate(fv); !ok {
				continue
			}
			val.Matched++
			if labels[j] {
				val.TruePositives++
			} else {
				val.FalsePositives++
			}
		}

		if val.Matched > 0 {
			val.Precision = fptr(float64(val.TruePositives) / float64(val.Matched))
		}
		if totalInsiders > 0 {
			val.Recall = fptr(float64(val.TruePositives) / float64(totalInsiders))
		}
		if val.Precision != nil && val.Recall != nil && *val.Precision+*val.Recall > 0 {
			val.F1Score = fptr(2 * *val.Precision * *val.Recall / (*val.Precision + *val.Recall))
		}
		if val.Precision != nil && len(resolved) > 0 && totalInsiders > 0 {
			baseRate := float64(totalInsiders) / float64(len(resolved))
			val.Lift = fptr(*val.Precision / baseRate)
		}

		if err := f.st.UpdatePatternValidation(ctx, p.ID,
			val.TruePositives, val.FalsePositives,
			val.Precision, val.Recall, val.F1Score, val.Lift, now); err != nil {
			return nil, err
		}
		validations = append(validations, val)
	}
	return validations, nil
}

// rescore recomputes scores under the refreshed baselines and pattern
// stats.
func (f *Feedback) rescore(ctx context.Context, all bool, batchSize int) (rescored, errs int, err error) {
	if err := f.scorer.RefreshBaselines(ctx); err != nil {
		return 0, 0, err
	}
	if !all {
		stats, err := f.scorer.ScorePending(ctx, 0)
		if err != nil {
			return 0, 0, err
		}
		return stats.Scored, stats.Errors, nil
	}

	if batchSize <= 0 {
		batchSize = 500
	}
	var afterID uint
	for {
		if err := ctx.Err(); err != nil {
			return rescored, errs, err
		}
		scores, err := f.st.ListScoresForRescore(ctx, afterID, batchSize)
		if err != nil {
			return rescored, errs, err
		}
		if len(scores) == 0 {
			return rescored, errs, nil
		}
		for i := range scores {
			afterID = scores[i].ID
			trade, err := f.st.GetTradeByID(ctx, scores[i].TradeID)
			if err != nil {
				errs++
				continue
			}
			if _, err := f.scorer.ScoreTrade(ctx, trade); err != nil {
				errs++
				continue
			}
			rescored++
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
