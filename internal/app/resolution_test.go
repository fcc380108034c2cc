package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"polysentry/internal/store"
)

func TestSettleTrade(t *testing.T) {
	cases := []struct {
		name       string
		side       string
		heldIdx    int
		winIdx     int
		size       float64
		usdc       float64
		wantRight  bool
		wantProfit float64
	}{
		{"buy winner", store.SideBuy, 0, 0, 100, 40, true, 60},
		{"buy loser", store.SideBuy, 1, 0, 100, 40, false, -40},
		{"sell winner", store.SideSell, 0, 0, 100, 40, false, -60},
		{"sell loser", store.SideSell, 1, 0, 100, 40, true, 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &store.Trade{
				Side:         tc.side,
				OutcomeIndex: tc.heldIdx,
				Size:         tc.size,
				UsdcSize:     tc.usdc,
			}
			correct, pl := settleTrade(tr, tc.winIdx)
			if correct != tc.wantRight || pl != tc.wantProfit {
				t.Errorf("settle = (%v, %f), want (%v, %f)", correct, pl, tc.wantRight, tc.wantProfit)
			}
		})
	}
}

func TestResolverSweep(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	api := NewMockDataAPI()
	resolver := NewResolver(nil, st, api)

	past := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	// Market one: cleanly resolved, Yes wins.
	m1 := seedBaselineMarket(t, st, "0xdone", store.CategoryPolitics)
	gm1 := gammaMarket("0xdone", "resolved", []string{"Yes", "No"}, []string{"1", "2"})
	gm1.Closed = true
	prices, _ := json.Marshal([]string{"1", "0"})
	gm1.OutcomePrices = prices
	api.markets["0xdone"] = gm1

	// Market two: two outcomes both priced as winners.
	m2 := seedBaselineMarket(t, st, "0xsplit", store.CategoryPolitics)
	gm2 := gammaMarket("0xsplit", "ambiguous", []string{"Yes", "No"}, []string{"3", "4"})
	gm2.Closed = true
	both, _ := json.Marshal([]string{"1", "1"})
	gm2.OutcomePrices = both
	api.markets["0xsplit"] = gm2

	for _, m := range []*store.Market{m1, m2} {
		if err := st.DB().Model(&store.Market{}).Where("id = ?", m.ID).
			Update("end_date", past).Error; err != nil {
			t.Fatalf("failed to backdate market: %v", err)
		}
	}

	// One open trade on the resolvable market: a buyer of the winner.
	tr := seedBaselineTrade(t, st, m1, 0, 40, past.Add(-time.Hour))
	if err := st.DB().Model(&store.Trade{}).Where("id = ?", tr.ID).
		Updates(map[string]any{"outcome_index": 0, "size": 100}).Error; err != nil {
		t.Fatalf("failed to shape trade: %v", err)
	}

	stats, err := resolver.Sweep(ctx, 10)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Checked != 2 || stats.Resolved != 1 || stats.Ambiguous != 1 {
		t.Errorf("stats = %+v, want 2 checked, 1 resolved, 1 ambiguous", stats)
	}
	if stats.TradesLabled != 1 {
		t.Errorf("labeled = %d, want 1", stats.TradesLabled)
	}

	resolved, _ := st.GetMarketByConditionID(ctx, "0xdone")
	if resolved.ResolvedOutcome == nil || *resolved.ResolvedOutcome != "Yes" {
		t.Errorf("market not marked resolved: %+v", resolved)
	}
	if resolved.ResolutionDate == nil {
		t.Error("resolution date not set")
	}

	// The ambiguous market stays open for a later sweep.
	open, _ := st.GetMarketByConditionID(ctx, "0xsplit")
	if open.ResolvedOutcome != nil {
		t.Error("ambiguous market must stay unresolved")
	}

	labeled, _ := st.GetTradeByHash(ctx, tr.TransactionHash)
	if labeled.WasCorrect == nil || !*labeled.WasCorrect {
		t.Fatalf("trade not labeled correct: %+v", labeled)
	}
	if labeled.ProfitLoss == nil || *labeled.ProfitLoss != 60 {
		t.Errorf("profit = %v, want 60", labeled.ProfitLoss)
	}
	if labeled.HoursBeforeResolution == nil || *labeled.HoursBeforeResolution <= 0 {
		t.Errorf("hours before resolution = %v, want positive", labeled.HoursBeforeResolution)
	}
}

func TestResolverSweepSkipsUnresolvedUpstream(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	api := NewMockDataAPI()
	resolver := NewResolver(nil, st, api)

	past := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	m := seedBaselineMarket(t, st, "0xlimbo", store.CategoryOther)
	if err := st.DB().Model(&store.Market{}).Where("id = ?", m.ID).
		Update("end_date", past).Error; err != nil {
		t.Fatalf("failed to backdate market: %v", err)
	}

	// Ended on our side but gamma has no winning price yet.
	gm := gammaMarket("0xlimbo", "pending", []string{"Yes", "No"}, []string{"5", "6"})
	gm.Closed = true
	prices, _ := json.Marshal([]string{"0.6", "0.4"})
	gm.OutcomePrices = prices
	api.markets["0xlimbo"] = gm

	stats, err := resolver.Sweep(ctx, 10)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Checked != 1 || stats.Resolved != 0 {
		t.Errorf("stats = %+v, want checked without resolving", stats)
	}
}
