package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gorm.io/datatypes"
)

func vec(pairs map[string]float64) FeatureVector {
	fv := make(FeatureVector, len(pairs))
	for k, v := range pairs {
		v := v
		fv[k] = &v
	}
	return fv
}

func TestRuleOperators(t *testing.T) {
	cases := []struct {
		rule  Rule
		value float64
		want  bool
	}{
		{Rule{Field: "x", Op: ">=", Value: 2.0}, 2.0, true},
		{Rule{Field: "x", Op: ">=", Value: 2.0}, 1.9, false},
		{Rule{Field: "x", Op: ">", Value: 2.0}, 2.0, false},
		{Rule{Field: "x", Op: "<=", Value: -2.0}, -2.5, true},
		{Rule{Field: "x", Op: "<", Value: 0.0}, 0.0, false},
		{Rule{Field: "x", Op: "==", Value: 1.0}, 1.0, true},
		{Rule{Field: "x", Op: "=", Value: 1.0}, 1.0, true},
		{Rule{Field: "x", Op: "!=", Value: 1.0}, 0.0, true},
		{Rule{Field: "x", Op: "between", Value: []any{0.4, 0.6}}, 0.5, true},
		{Rule{Field: "x", Op: "between", Value: []any{0.4, 0.6}}, 0.7, false},
		{Rule{Field: "x", Op: "bogus", Value: 1.0}, 1.0, false},
	}
	for _, tc := range cases {
		got := tc.rule.matches(vec(map[string]float64{"x": tc.value}))
		if got != tc.want {
			t.Errorf("rule %v against %f = %v, want %v", tc.rule, tc.value, got, tc.want)
		}
	}
}

func TestRuleNilFeatureNeverMatches(t *testing.T) {
	r := Rule{Field: "x", Op: "!=", Value: 99.0}
	if r.matches(FeatureVector{}) {
		t.Error("missing feature matched")
	}
	if r.matches(FeatureVector{"x": nil}) {
		t.Error("nil feature matched")
	}
}

func TestConditionsAndLogic(t *testing.T) {
	c := Conditions{Rules: []Rule{
		{Field: "a", Op: ">=", Value: 1.0},
		{Field: "b", Op: ">=", Value: 1.0},
	}}
	ok, score := c.Evaluate(vec(map[string]float64{"a": 1, "b": 2}))
	if !ok {
		t.Error("AND with all rules satisfied must match")
	}
	if score != 1.0 {
		t.Errorf("AND match score = %f, want 1.0", score)
	}
	if ok, score := c.Evaluate(vec(map[string]float64{"a": 1, "b": 0})); ok || score != 0 {
		t.Error("AND with one rule failing must not match")
	}
}

func TestConditionsOrMinMatches(t *testing.T) {
	c := Conditions{
		Logic:      "OR",
		MinMatches: 2,
		Rules: []Rule{
			{Field: "a", Op: ">=", Value: 2.0},
			{Field: "b", Op: "<=", Value: -2.0},
			{Field: "c", Op: "<=", Value: -2.0},
		},
	}
	if ok, _ := c.Evaluate(vec(map[string]float64{"a": 3, "b": 0, "c": 0})); ok {
		t.Error("one of three must not clear min_matches 2")
	}
	ok, score := c.Evaluate(vec(map[string]float64{"a": 3, "b": -3, "c": 0}))
	if !ok {
		t.Error("two of three must clear min_matches 2")
	}
	// An OR match scores the fraction of rules satisfied.
	if want := 2.0 / 3.0; score != want {
		t.Errorf("OR match score = %f, want %f", score, want)
	}
	if ok, score := c.Evaluate(vec(map[string]float64{"a": 3, "b": -3, "c": -3})); !ok || score != 1.0 {
		t.Errorf("three of three = %v score %f, want full score", ok, score)
	}

	// OR without min_matches needs a single rule.
	c.MinMatches = 0
	if ok, _ := c.Evaluate(vec(map[string]float64{"a": 3, "b": 0, "c": 0})); !ok {
		t.Error("OR with min_matches 0 must default to 1")
	}
}

func TestParseConditionsRoundTrip(t *testing.T) {
	raw, _ := json.Marshal(Conditions{Rules: []Rule{
		{Field: FeatureSizeZScore, Op: ">=", Value: 3.0},
	}})
	c, err := ParseConditions(datatypes.JSON(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ok, _ := c.Evaluate(vec(map[string]float64{FeatureSizeZScore: 3.5})); !ok {
		t.Error("decoded conditions did not evaluate")
	}

	if _, err := ParseConditions(nil); err == nil {
		t.Error("empty conditions must fail")
	}
	if _, err := ParseConditions(datatypes.JSON(`{"rules":[]}`)); err == nil {
		t.Error("ruleless conditions must fail")
	}
}

func TestSeedPatternsEvaluate(t *testing.T) {
	byName := make(map[string]*Conditions)
	for _, p := range SeedPatterns() {
		c, err := ParseConditions(p.Conditions)
		if err != nil {
			t.Fatalf("seed pattern %s has bad conditions: %v", p.PatternName, err)
		}
		byName[p.PatternName] = c
	}
	if len(byName) != 8 {
		t.Fatalf("seed library has %d patterns, want 8", len(byName))
	}

	whale := vec(map[string]float64{FeatureSizeZScore: 3.5})
	if ok, score := byName["whale_trade"].Evaluate(whale); !ok || score != 1.0 {
		t.Errorf("whale_trade = %v score %f, want a full match at z = 3.5", ok, score)
	}
	if ok, _ := byName["whale_correct"].Evaluate(whale); ok {
		t.Error("whale_correct needs a resolved winning trade")
	}

	storm := vec(map[string]float64{
		FeatureSizeZScore:      2.5,
		FeatureTimingZScore:    -2.5,
		FeatureWalletAgeZScore: -2.5,
	})
	if ok, score := byName["perfect_storm"].Evaluate(storm); !ok || score != 1.0 {
		t.Errorf("perfect_storm = %v score %f, want all three signals", ok, score)
	}
	if ok, score := byName["multi_signal"].Evaluate(storm); !ok || score != 1.0 {
		t.Errorf("multi_signal = %v score %f, want three of three", ok, score)
	}

	two := vec(map[string]float64{
		FeatureSizeZScore:   2.5,
		FeatureTimingZScore: -2.5,
	})
	if ok, _ := byName["perfect_storm"].Evaluate(two); ok {
		t.Error("perfect_storm needs the wallet age signal too")
	}
	if ok, score := byName["multi_signal"].Evaluate(two); !ok || score != 2.0/3.0 {
		t.Errorf("multi_signal = %v score %f, want two of three", ok, score)
	}
}

func TestPatternEngineMatchScores(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	engine := NewPatternEngine(nil, st)

	if err := engine.EnsureSeedPatterns(ctx); err != nil {
		t.Fatalf("seeding failed: %v", err)
	}

	// Validation counters never change the match score; a full AND
	// match always carries 1.0.
	whale, err := st.GetPatternByName(ctx, "whale_trade")
	if err != nil {
		t.Fatalf("whale_trade not seeded: %v", err)
	}
	precision := 0.85
	if err := st.UpdatePatternValidation(ctx, whale.ID, 17, 3, &precision, nil, nil, nil, time.Now().UTC()); err != nil {
		t.Fatalf("validation update failed: %v", err)
	}

	matches, err := engine.Match(ctx, vec(map[string]float64{FeatureSizeZScore: 3.5}))
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	found := map[string]float64{}
	for _, m := range matches {
		found[m.Name] = m.Score
	}
	if found["whale_trade"] != 1.0 {
		t.Errorf("whale_trade score = %f, want 1.0 for a full AND match", found["whale_trade"])
	}
	// multi_signal needs two signals; only size is extreme here.
	if _, ok := found["multi_signal"]; ok {
		t.Error("multi_signal must not match a single signal")
	}

	// An OR pattern scores the fraction of rules it satisfied.
	matches, err = engine.Match(ctx, vec(map[string]float64{
		FeatureSizeZScore:   2.5,
		FeatureTimingZScore: -2.5,
	}))
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	found = map[string]float64{}
	for _, m := range matches {
		found[m.Name] = m.Score
	}
	if want := 2.0 / 3.0; found["multi_signal"] != want {
		t.Errorf("multi_signal score = %f, want %f", found["multi_signal"], want)
	}
}
