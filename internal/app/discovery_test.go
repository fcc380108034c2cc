package app

import (
	"context"
	"testing"
	"time"

	"polysentry/internal/store"
)

// seedScoredTrade seeds a scored trade that resolved correct, the shape
// discovery is hunting for.
func seedScoredTrade(t *testing.T, st *store.Store, m *store.Market, n int, anomaly, probability float64) *store.Trade {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tr := seedBaselineTrade(t, st, m, n, 100, base)
	if err := st.UpdateTradeOutcome(ctx, tr.ID, true, 100, nil); err != nil {
		t.Fatalf("failed to resolve seed trade: %v", err)
	}
	if err := st.UpsertScore(ctx, &store.TradeScore{
		TradeID:            tr.ID,
		AnomalyScore:       anomaly,
		InsiderProbability: probability,
		ScoredAt:           base,
	}); err != nil {
		t.Fatalf("failed to seed score: %v", err)
	}
	return tr
}

func TestDiscoveryPromotesAboveThreshold(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := NewDiscovery(nil, st)

	m := seedBaselineMarket(t, st, "0xdisc", store.CategoryPolitics)
	seedScoredTrade(t, st, m, 0, 0.95, 0.92) // critical
	seedScoredTrade(t, st, m, 1, 0.80, 0.60) // medium
	seedScoredTrade(t, st, m, 2, 0.30, 0.10) // below threshold

	result, err := d.Run(ctx, DiscoveryParams{
		AnomalyThreshold:     0.7,
		ProbabilityThreshold: 0.5,
		Limit:                10,
	})
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}
	if result.TradesConsidered != 2 || result.CandidatesCreated != 2 {
		t.Errorf("result = %+v, want 2 considered and created", result)
	}
	if result.TopScore != 0.95 {
		t.Errorf("top score = %f, want 0.95", result.TopScore)
	}

	candidates, err := st.ListCandidates(ctx, store.CandidateFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(candidates))
	}
	top := candidates[0]
	if top.AnomalyScore != 0.95 || top.DiscoveryRank != 1 {
		t.Errorf("top candidate = %+v", top)
	}
	if top.Status != store.StatusUndiscovered {
		t.Errorf("status = %s, want undiscovered", top.Status)
	}
	if top.Priority != store.PriorityCritical {
		t.Errorf("priority = %s, want critical", top.Priority)
	}
	if top.Question == "" || top.WalletAddress == "" {
		t.Error("candidate missing denormalized trade context")
	}
	if candidates[1].Priority != store.PriorityMedium {
		t.Errorf("second priority = %s, want medium", candidates[1].Priority)
	}

	batch, err := st.GetDiscoveryBatch(ctx, result.BatchID)
	if err != nil {
		t.Fatalf("batch missing: %v", err)
	}
	if batch.CompletedAt == nil || batch.CandidatesCreated != 2 {
		t.Errorf("batch not completed: %+v", batch)
	}
}

func TestDiscoveryLeavesEarlierCandidates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := NewDiscovery(nil, st)

	m := seedBaselineMarket(t, st, "0xrepeat", store.CategoryCrypto)
	seedScoredTrade(t, st, m, 0, 0.9, 0.8)

	first, err := d.Run(ctx, DiscoveryParams{AnomalyThreshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.CandidatesCreated != 1 {
		t.Fatalf("first run created %d, want 1", first.CandidatesCreated)
	}

	// The promoted trade is filtered out of the second scan entirely.
	second, err := d.Run(ctx, DiscoveryParams{AnomalyThreshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.TradesConsidered != 0 || second.CandidatesCreated != 0 {
		t.Errorf("second run = %+v, want nothing considered", second)
	}

	// The candidate keeps its original batch.
	candidates, _ := st.ListCandidates(ctx, store.CandidateFilter{})
	if len(candidates) != 1 || candidates[0].BatchID != first.BatchID {
		t.Errorf("candidate rebatched: %+v", candidates)
	}
}

func TestDiscoverySkipsConfirmedInsiderWallets(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := NewDiscovery(nil, st)

	m := seedBaselineMarket(t, st, "0xknown", store.CategoryPolitics)
	flagged := seedScoredTrade(t, st, m, 0, 0.95, 0.9)
	seedScoredTrade(t, st, m, 1, 0.85, 0.8)

	if err := st.CreateConfirmedInsider(ctx, &store.ConfirmedInsider{
		WalletAddress:   flagged.WalletAddress,
		ConfidenceLevel: store.ConfidenceConfirmed,
	}); err != nil {
		t.Fatalf("failed to flag wallet: %v", err)
	}

	result, err := d.Run(ctx, DiscoveryParams{AnomalyThreshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}
	if result.TradesConsidered != 1 || result.CandidatesCreated != 1 {
		t.Errorf("result = %+v, want the flagged wallet excluded", result)
	}

	candidates, _ := st.ListCandidates(ctx, store.CandidateFilter{})
	if len(candidates) != 1 || candidates[0].WalletAddress == flagged.WalletAddress {
		t.Errorf("candidates = %+v, want only the unflagged wallet", candidates)
	}
}

func TestDiscoveryRequiresWinningEventTrades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := NewDiscovery(nil, st)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	event := seedBaselineMarket(t, st, "0xevent", store.CategoryPolitics)
	seedScoredTrade(t, st, event, 0, 0.9, 0.9)

	// Unresolved trade on the same market: no was_correct label yet.
	open := seedBaselineTrade(t, st, event, 1, 100, base)
	if err := st.UpsertScore(ctx, &store.TradeScore{
		TradeID: open.ID, AnomalyScore: 0.9, InsiderProbability: 0.9, ScoredAt: base,
	}); err != nil {
		t.Fatalf("failed to seed score: %v", err)
	}

	// Winning trade on a market that hangs off no event.
	standalone := seedBaselineMarket(t, st, "0xstandalone", store.CategoryPolitics)
	if err := st.DB().Model(standalone).Update("is_event_based", false).Error; err != nil {
		t.Fatalf("failed to retag market: %v", err)
	}
	seedScoredTrade(t, st, standalone, 2, 0.9, 0.9)

	result, err := d.Run(ctx, DiscoveryParams{AnomalyThreshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}
	if result.TradesConsidered != 1 || result.CandidatesCreated != 1 {
		t.Errorf("result = %+v, want only the winning event trade", result)
	}
}

func TestDiscoveryRanksFreshWalletsOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := NewDiscovery(nil, st)

	m := seedBaselineMarket(t, st, "0xrank", store.CategoryPolitics)
	confirmed := seedScoredTrade(t, st, m, 0, 0.97, 0.95)
	promoted := seedScoredTrade(t, st, m, 1, 0.92, 0.9)
	fresh := seedScoredTrade(t, st, m, 2, 0.8, 0.7)

	if err := st.CreateConfirmedInsider(ctx, &store.ConfirmedInsider{
		WalletAddress:   confirmed.WalletAddress,
		ConfidenceLevel: store.ConfidenceConfirmed,
	}); err != nil {
		t.Fatalf("failed to flag wallet: %v", err)
	}
	if _, err := st.CreateCandidate(ctx, &store.InvestigationCandidate{
		TradeID:       promoted.ID,
		MarketID:      m.ID,
		WalletAddress: promoted.WalletAddress,
		Status:        store.StatusInvestigating,
		DiscoveredAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("failed to pre-promote: %v", err)
	}

	// Known wallets are dropped before ranking, so the fresh wallet
	// takes rank 1 despite lower scores.
	result, err := d.Run(ctx, DiscoveryParams{AnomalyThreshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}
	if result.TradesConsidered != 1 || result.CandidatesCreated != 1 {
		t.Fatalf("result = %+v, want one fresh candidate", result)
	}

	c, err := st.GetCandidateByTradeID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("fresh candidate missing: %v", err)
	}
	if c.DiscoveryRank != 1 {
		t.Errorf("rank = %d, want 1 after exclusions", c.DiscoveryRank)
	}
}

func TestPriorityFor(t *testing.T) {
	cases := map[float64]string{
		0.95: store.PriorityCritical,
		0.9:  store.PriorityCritical,
		0.7:  store.PriorityHigh,
		0.5:  store.PriorityMedium,
		0.49: store.PriorityLow,
		0:    store.PriorityLow,
	}
	for p, want := range cases {
		if got := priorityFor(p); got != want {
			t.Errorf("priorityFor(%f) = %s, want %s", p, got, want)
		}
	}
}

func TestScoreSummary(t *testing.T) {
	top, median := scoreSummary(nil)
	if top != nil || median != nil {
		t.Error("empty input must yield nils")
	}

	top, median = scoreSummary([]float64{0.9, 0.7, 0.5})
	if *top != 0.9 || *median != 0.7 {
		t.Errorf("odd summary = %f/%f", *top, *median)
	}

	top, median = scoreSummary([]float64{0.9, 0.7, 0.5, 0.3})
	if *top != 0.9 || *median != 0.6 {
		t.Errorf("even summary = %f/%f", *top, *median)
	}
}
