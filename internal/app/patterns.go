package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"polysentry/internal/store"
)

// Feature names a rule can reference. A feature absent from the vector
// (nil) never satisfies a rule.
const (
	FeatureSizeZScore           = "size_zscore"
	FeatureTimingZScore         = "timing_zscore"
	FeatureWalletAgeZScore      = "wallet_age_zscore"
	FeatureWalletActivityZScore = "wallet_activity_zscore"
	FeaturePriceExtremityZScore = "price_extremity_zscore"
	FeatureConcentrationZScore  = "position_concentration_zscore"
	FeatureAnomalyScore         = "anomaly_score"
	FeaturePriceExtremity       = "price_extremity"
	FeatureUsdcSize             = "usdc_size"
	FeatureWasCorrect           = "was_correct" // 1 correct, 0 incorrect, absent unresolved
)

// FeatureVector is the rule-evaluation view of one scored trade.
type FeatureVector map[string]*float64

// Rule is one comparison in a pattern's condition set.
type Rule struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"` // number, or [lo, hi] for between
}

// Conditions is a pattern's declarative rule set.
type Conditions struct {
	Rules      []Rule `json:"rules"`
	Logic      string `json:"logic"`       // AND (default) or OR
	MinMatches int    `json:"min_matches"` // OR only; 0 means 1
}

// ParseConditions decodes a stored condition document.
func ParseConditions(raw datatypes.JSON) (*Conditions, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty conditions")
	}
	var c Conditions
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	if len(c.Rules) == 0 {
		return nil, fmt.Errorf("conditions carry no rules")
	}
	return &c, nil
}

// Evaluate reports whether the feature vector satisfies the conditions
// and the score of the match: 1.0 for an AND match, the fraction of
// rules satisfied for an OR match.
func (c *Conditions) Evaluate(fv FeatureVector) (bool, float64) {
	matches := 0
	for _, r := range c.Rules {
		if r.matches(fv) {
			matches++
		}
	}
	if strings.EqualFold(c.Logic, "OR") {
		need := c.MinMatches
		if need <= 0 {
			need = 1
		}
		if matches < need {
			return false, 0
		}
		return true, float64(matches) / float64(len(c.Rules))
	}
	if matches != len(c.Rules) {
		return false, 0
	}
	return true, 1.0
}

func (r *Rule) matches(fv FeatureVector) bool {
	v, ok := fv[r.Field]
	if !ok || v == nil {
		return false
	}

	if strings.EqualFold(r.Op, "between") {
		bounds, ok := r.Value.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, okLo := toFloat(bounds[0])
		hi, okHi := toFloat(bounds[1])
		return okLo && okHi && *v >= lo && *v <= hi
	}

	threshold, ok := toFloat(r.Value)
	if !ok {
		return false
	}
	switch r.Op {
	case ">=":
		return *v >= threshold
	case ">":
		return *v > threshold
	case "<=":
		return *v <= threshold
	case "<":
		return *v < threshold
	case "==", "=":
		return *v == threshold
	case "!=":
		return *v != threshold
	default:
		return false
	}
}

// toFloat coerces the numeric encodings json.Unmarshal produces.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// PatternEngine evaluates stored patterns against feature vectors.
type PatternEngine struct {
	logger *zap.Logger
	st     *store.Store
}

func NewPatternEngine(logger *zap.Logger, st *store.Store) *PatternEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternEngine{logger: logger, st: st}
}

// PatternMatch is one pattern a trade satisfied. Score is 1.0 for an
// AND pattern and the fraction of satisfied rules for an OR pattern.
type PatternMatch struct {
	Name  string
	Score float64
}

// Match runs every active pattern against the feature vector.
func (e *PatternEngine) Match(ctx context.Context, fv FeatureVector) ([]PatternMatch, error) {
	patterns, err := e.st.ListActivePatterns(ctx)
	if err != nil {
		return nil, err
	}

	var matched []PatternMatch
	for i := range patterns {
		p := &patterns[i]
		c, err := ParseConditions(p.Conditions)
		if err != nil {
			e.logger.Warn("skipping pattern with bad conditions",
				zap.String("pattern", p.PatternName),
				zap.Error(err),
			)
			continue
		}
		ok, score := c.Evaluate(fv)
		if !ok {
			continue
		}
		matched = append(matched, PatternMatch{Name: p.PatternName, Score: score})
	}
	return matched, nil
}

// seedPattern builds a pattern row from a condition set.
func seedPattern(name, description string, threshold float64, c Conditions) store.Pattern {
	raw, _ := json.Marshal(c)
	return store.Pattern{
		PatternName:    name,
		Description:    description,
		Conditions:     datatypes.JSON(raw),
		AlertThreshold: threshold,
		IsActive:       true,
	}
}

// SeedPatterns are the starting rule library. Definitions are refreshed
// on every startup; validation counters survive.
func SeedPatterns() []store.Pattern {
	return []store.Pattern{
		seedPattern("whale_trade",
			"Position size far above the category norm.",
			0.7, Conditions{Rules: []Rule{
				{Field: FeatureSizeZScore, Op: ">=", Value: 3.0},
			}}),
		seedPattern("whale_correct",
			"Large position that went on to win.",
			0.6, Conditions{Rules: []Rule{
				{Field: FeatureSizeZScore, Op: ">=", Value: 2.5},
				{Field: FeatureWasCorrect, Op: "==", Value: 1.0},
			}}),
		seedPattern("extreme_whale_correct",
			"Extreme outlier size on a winning position.",
			0.5, Conditions{Rules: []Rule{
				{Field: FeatureSizeZScore, Op: ">=", Value: 4.0},
				{Field: FeatureWasCorrect, Op: "==", Value: 1.0},
			}}),
		seedPattern("high_anomaly",
			"Composite anomaly score in the top band.",
			0.7, Conditions{Rules: []Rule{
				{Field: FeatureAnomalyScore, Op: ">=", Value: 0.7},
			}}),
		seedPattern("high_anomaly_correct",
			"Anomalous trade that went on to win.",
			0.6, Conditions{Rules: []Rule{
				{Field: FeatureAnomalyScore, Op: ">=", Value: 0.6},
				{Field: FeatureWasCorrect, Op: "==", Value: 1.0},
			}}),
		seedPattern("extreme_price_correct",
			"Winning bet placed at longshot odds.",
			0.6, Conditions{Rules: []Rule{
				{Field: FeaturePriceExtremity, Op: ">=", Value: 0.45},
				{Field: FeatureWasCorrect, Op: "==", Value: 1.0},
			}}),
		seedPattern("multi_signal",
			"At least two of: outsized position, late timing, fresh wallet.",
			0.7, Conditions{
				Logic:      "OR",
				MinMatches: 2,
				Rules: []Rule{
					{Field: FeatureSizeZScore, Op: ">=", Value: 2.0},
					{Field: FeatureTimingZScore, Op: "<=", Value: -2.0},
					{Field: FeatureWalletAgeZScore, Op: "<=", Value: -2.0},
				},
			}),
		seedPattern("perfect_storm",
			"Outsized position, late timing and fresh wallet together.",
			0.5, Conditions{Rules: []Rule{
				{Field: FeatureSizeZScore, Op: ">=", Value: 2.0},
				{Field: FeatureTimingZScore, Op: "<=", Value: -2.0},
				{Field: FeatureWalletAgeZScore, Op: "<=", Value: -2.0},
			}}),
	}
}

// EnsureSeedPatterns installs or refreshes the seed library.
func (e *PatternEngine) EnsureSeedPatterns(ctx context.Context) error {
	for _, p := range SeedPatterns() {
		p := p
		if err := e.st.UpsertPattern(ctx, &p); err != nil {
			return err
		}
	}
	return nil
}
