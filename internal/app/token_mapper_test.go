package app

import (
	"context"
	"encoding/json"
	"testing"

	"polysentry/clients/dataapi"
	"polysentry/clients/subgraph"
)

func gammaMarket(conditionID, question string, outcomes, tokens []string) *dataapi.GammaMarket {
	o, _ := json.Marshal(outcomes)
	tk, _ := json.Marshal(tokens)
	return &dataapi.GammaMarket{
		ConditionID: conditionID,
		Question:    question,
		Outcomes:    o,
		ClobTokenIDs: tk,
		Active:      true,
	}
}

func TestTokenMapperAddMarketPositional(t *testing.T) {
	m := NewTokenMapper(nil)
	added := m.AddMarket(gammaMarket("0xcond", "Will X happen?",
		[]string{"Yes", "No"}, []string{"111", "222"}))
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}

	ref, ok := m.Resolve("222")
	if !ok {
		t.Fatal("token 222 not mapped")
	}
	if ref.ConditionID != "0xcond" || ref.OutcomeIndex != 1 || ref.Outcome != "No" {
		t.Errorf("unexpected ref: %+v", ref)
	}
}

func TestTokenMapperSubgraphDoesNotOverrideGamma(t *testing.T) {
	m := NewTokenMapper(nil)
	m.AddMarket(gammaMarket("0xgamma", "Q", []string{"Yes", "No"}, []string{"111", "222"}))

	if m.AddSubgraphMapping(subgraph.MarketData{ID: "111", Condition: "0xother", OutcomeIndex: "0"}) {
		t.Error("subgraph mapping must not override a gamma entry")
	}
	ref, _ := m.Resolve("111")
	if ref.ConditionID != "0xgamma" {
		t.Errorf("gamma mapping lost: %+v", ref)
	}

	// A token gamma has not served is accepted.
	if !m.AddSubgraphMapping(subgraph.MarketData{ID: "333", Condition: "0xsub", OutcomeIndex: "1"}) {
		t.Error("new subgraph mapping rejected")
	}
	ref, ok := m.Resolve("333")
	if !ok || ref.ConditionID != "0xsub" || ref.OutcomeIndex != 1 {
		t.Errorf("unexpected subgraph ref: %+v", ref)
	}
}

func TestTokenMapperRefreshFromSubgraph(t *testing.T) {
	m := NewTokenMapper(nil)
	sub := &MockSubgraph{mappings: []subgraph.MarketData{
		{ID: "1", Condition: "0xa", OutcomeIndex: "0"},
		{ID: "2", Condition: "0xa", OutcomeIndex: "1"},
		{ID: "3", Condition: "0xb", OutcomeIndex: "0"},
	}}

	added, err := m.RefreshFromSubgraph(context.Background(), sub, 0)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if added != 3 || m.Size() != 3 {
		t.Errorf("added = %d size = %d, want 3/3", added, m.Size())
	}
}
