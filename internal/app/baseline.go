package app

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"polysentry/internal/store"
)

// maxSeparation caps Cohen's d so a degenerate variance cannot blow the
// column out.
const maxSeparation = 9.9999

// minInsiderSamples is the floor below which the insider distribution
// track is left null.
const minInsiderSamples = 3

// BaselineEngine computes per-category metric distributions from the
// stored trade population.
type BaselineEngine struct {
	logger     *zap.Logger
	st         *store.Store
	minSamples int
}

func NewBaselineEngine(logger *zap.Logger, st *store.Store, minSamples int) *BaselineEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minSamples <= 0 {
		minSamples = 10
	}
	return &BaselineEngine{logger: logger, st: st, minSamples: minSamples}
}

// BaselineRunStats summarizes one recompute pass.
type BaselineRunStats struct {
	Computed int `json:"computed"`
	Skipped  int `json:"skipped"` // below minimum sample count
	Errors   int `json:"errors"`
}

// Recompute rebuilds the baseline for every (category, metric) pair,
// including the cross-category "all" track. Pairs with too few samples
// are skipped and keep their previous row, if any.
func (e *BaselineEngine) Recompute(ctx context.Context) (*BaselineRunStats, error) {
	stats := &BaselineRunStats{}
	categories := append([]string{store.CategoryAll}, store.Categories...)

	for _, category := range categories {
		for _, metric := range store.Metrics {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			computed, err := e.recomputeOne(ctx, category, metric)
			switch {
			case err != nil:
				stats.Errors++
				e.logger.Warn("baseline computation failed",
					zap.String("category", category),
					zap.String("metric", metric),
					zap.Error(err),
				)
			case computed:
				stats.Computed++
			default:
				stats.Skipped++
			}
		}
	}

	e.logger.Info("baseline recompute complete",
		zap.Int("computed", stats.Computed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

func (e *BaselineEngine) recomputeOne(ctx context.Context, category, metric string) (bool, error) {
	samples, err := e.st.MetricSamples(ctx, category, metric)
	if err != nil {
		return false, err
	}
	if len(samples) < e.minSamples {
		return false, nil
	}

	b := summarize(samples)
	b.Category = category
	b.Metric = metric
	b.CalculatedAt = time.Now().UTC()

	insider, err := e.st.InsiderMetricSamples(ctx, category, metric)
	if err != nil {
		return false, err
	}
	if len(insider) >= minInsiderSamples {
		im := stat.Mean(insider, nil)
		is := populationStdDev(insider, im)
		b.InsiderMean = &im
		b.InsiderStdDev = &is
		b.InsiderSampleCount = len(insider)

		if d, ok := cohensD(samples, insider); ok {
			b.SeparationScore = &d
		}
	}

	return true, e.st.UpsertBaseline(ctx, b)
}

// summarize computes the distribution columns for one sample set.
func summarize(samples []float64) *store.Baseline {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	mean := stat.Mean(sorted, nil)
	return &store.Baseline{
		Mean:        mean,
		StdDev:      populationStdDev(sorted, mean),
		Median:      percentile(sorted, 0.50),
		P75:         percentile(sorted, 0.75),
		P90:         percentile(sorted, 0.90),
		P95:         percentile(sorted, 0.95),
		P99:         percentile(sorted, 0.99),
		SampleCount: len(sorted),
	}
}

// percentile interpolates linearly between the order statistics at rank
// (n-1) * p. The input must already be sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// populationStdDev is the population (not sample) standard deviation,
// matching how z-scores are later taken against the whole population.
func populationStdDev(samples []float64, mean float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// cohensD measures the gap between the normal and insider means in
// root-mean-variance units, with both spreads taken as population
// standard deviations. Returns false when either spread is degenerate.
func cohensD(normal, insider []float64) (float64, bool) {
	if len(normal) < 2 || len(insider) < 2 {
		return 0, false
	}
	mn := stat.Mean(normal, nil)
	mi := stat.Mean(insider, nil)
	sn := populationStdDev(normal, mn)
	si := populationStdDev(insider, mi)
	if sn == 0 || si == 0 {
		return 0, false
	}

	d := math.Abs(mi-mn) / math.Sqrt((sn*sn+si*si)/2)
	if d > maxSeparation {
		d = maxSeparation
	}
	return d, true
}
