package app

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"polysentry/clients/bus"
	"polysentry/clients/dataapi"
	"polysentry/clients/subgraph"
)

func makeTrades(n int) []dataapi.Trade {
	trades := make([]dataapi.Trade, n)
	for i := range trades {
		trades[i] = dataapi.Trade{
			TransactionHash: "0xhash" + strconv.Itoa(i),
			ProxyWallet:     "0xwallet",
			ConditionID:     "0xcond",
			Side:            "BUY",
			UsdcSize:        100,
			Timestamp:       1700000000,
		}
	}
	return trades
}

func makeEvents(n int) []subgraph.OrderFilledEvent {
	events := make([]subgraph.OrderFilledEvent, n)
	for i := range events {
		events[i] = subgraph.OrderFilledEvent{
			ID:                "0xfill" + string(rune('a'+i%26)),
			Timestamp:         "1700000000",
			Maker:             "0xMaker",
			Taker:             "0xTaker",
			MakerAssetID:      "123456",
			TakerAssetID:      "0",
			MakerAmountFilled: "1000000",
			TakerAmountFilled: "500000",
		}
	}
	return events
}

func TestFetcherAPIIsPrimaryAndPaginates(t *testing.T) {
	h := NewHealthMonitor(nil, 10, 0.8)
	api := NewMockDataAPI()
	api.trades = makeTrades(7)
	f := NewTradeFetcher(nil, api, &MockSubgraph{events: makeEvents(3)}, h, nil, true)

	result, err := f.Fetch(context.Background(), FetchQuery{PageSize: 3, MaxItems: 100})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if result.Source != SourceAPI {
		t.Errorf("source = %s, want api as the primary", result.Source)
	}
	if result.Count() != 7 {
		t.Errorf("fetched %d trades, want 7", result.Count())
	}
	if api.tradeCalls != 3 {
		t.Errorf("expected 3 pages, got %d", api.tradeCalls)
	}
}

func TestFetcherCapsAtMaxItems(t *testing.T) {
	h := NewHealthMonitor(nil, 10, 0.8)
	api := NewMockDataAPI()
	api.trades = makeTrades(10)
	f := NewTradeFetcher(nil, api, &MockSubgraph{}, h, nil, true)

	result, err := f.Fetch(context.Background(), FetchQuery{PageSize: 4, MaxItems: 5})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if result.Count() != 5 {
		t.Errorf("fetched %d, want cap of 5", result.Count())
	}
}

func TestFetcherForcedSubgraphSource(t *testing.T) {
	h := NewHealthMonitor(nil, 10, 0.8)
	sub := &MockSubgraph{events: makeEvents(7)}
	api := NewMockDataAPI()
	api.trades = makeTrades(2)
	f := NewTradeFetcher(nil, api, sub, h, nil, true)

	// The API would be the primary; the query forces the subgraph.
	result, err := f.Fetch(context.Background(), FetchQuery{Source: SourceSubgraph, PageSize: 3, MaxItems: 100})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if result.Source != SourceSubgraph || result.FellOver {
		t.Errorf("expected a direct subgraph fetch: %+v", result)
	}
	if result.Count() != 7 {
		t.Errorf("fetched %d events, want 7", result.Count())
	}
	if sub.eventCalls != 3 {
		t.Errorf("expected 3 pages, got %d", sub.eventCalls)
	}
	if api.tradeCalls != 0 {
		t.Errorf("api must not be touched on a forced subgraph fetch, got %d calls", api.tradeCalls)
	}
}

func TestFetcherFailsOverAndPublishes(t *testing.T) {
	h := NewHealthMonitor(nil, 10, 0.8)
	api := NewMockDataAPI()
	api.tradesErr = errors.New("api down")
	sub := &MockSubgraph{events: makeEvents(1)}
	pub := &MockPublisher{}
	f := NewTradeFetcher(nil, api, sub, h, pub, true)

	result, err := f.Fetch(context.Background(), FetchQuery{PageSize: 10, MaxItems: 10})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if result.Source != SourceSubgraph || !result.FellOver {
		t.Errorf("expected subgraph result via failover: %+v", result)
	}
	if len(result.SubgraphEvents) != 1 {
		t.Errorf("events = %d, want 1", len(result.SubgraphEvents))
	}

	if len(pub.channels) != 1 || pub.channels[0] != bus.ChannelFailover {
		t.Fatalf("expected failover broadcast, got %v", pub.channels)
	}
	ev, ok := pub.payloads[0].(bus.FailoverEvent)
	if !ok || ev.From != SourceAPI || ev.To != SourceSubgraph {
		t.Errorf("unexpected failover event: %+v", pub.payloads[0])
	}
}

func TestFetcherNoFailoverPropagatesError(t *testing.T) {
	h := NewHealthMonitor(nil, 10, 0.8)
	api := NewMockDataAPI()
	api.tradesErr = errors.New("api down")
	f := NewTradeFetcher(nil, api, &MockSubgraph{events: makeEvents(2)}, h, nil, false)

	if _, err := f.Fetch(context.Background(), FetchQuery{}); err == nil {
		t.Error("expected error with failover disabled")
	}
}

func TestFetcherBothSourcesFailReturnsPrimaryError(t *testing.T) {
	h := NewHealthMonitor(nil, 10, 0.8)
	primaryErr := errors.New("api down")
	api := NewMockDataAPI()
	api.tradesErr = primaryErr
	sub := &MockSubgraph{eventsErr: errors.New("subgraph down")}
	f := NewTradeFetcher(nil, api, sub, h, nil, true)

	_, err := f.Fetch(context.Background(), FetchQuery{})
	if !errors.Is(err, primaryErr) {
		t.Errorf("expected primary error, got %v", err)
	}
}

func TestFetcherReturnsPartialPagesOnMidRunFailure(t *testing.T) {
	h := NewHealthMonitor(nil, 10, 0.8)
	api := NewMockDataAPI()
	api.trades = makeTrades(6)
	api.tradesErr = errors.New("rate limited")
	api.errOnCall = 2
	f := NewTradeFetcher(nil, api, &MockSubgraph{}, h, nil, false)

	result, err := f.Fetch(context.Background(), FetchQuery{PageSize: 3, MaxItems: 100})
	if err == nil {
		t.Fatal("expected the second page's error")
	}
	if result == nil {
		t.Fatal("partial pages must survive a mid-run failure")
	}
	if result.Source != SourceAPI || len(result.APITrades) != 3 {
		t.Errorf("expected the first page to be kept: %+v", result)
	}
}

func TestFetcherRepeatedFailuresMarkSourceUnhealthy(t *testing.T) {
	h := NewHealthMonitor(nil, 3, 0.8)
	api := NewMockDataAPI()
	api.tradesErr = &dataapi.APIError{Kind: dataapi.KindRateLimited, URL: "mock"}
	sub := &MockSubgraph{events: makeEvents(1)}
	f := NewTradeFetcher(nil, api, sub, h, nil, true)

	for i := 0; i < 3; i++ {
		result, err := f.Fetch(context.Background(), FetchQuery{PageSize: 10, MaxItems: 10})
		if err != nil {
			t.Fatalf("fetch %d failed despite failover: %v", i, err)
		}
		if result.Source != SourceSubgraph {
			t.Fatalf("fetch %d source = %s, want subgraph", i, result.Source)
		}
	}

	if h.IsHealthy(SourceAPI) {
		t.Error("three straight rate limits must mark the api unhealthy")
	}
	if !h.IsHealthy(SourceSubgraph) {
		t.Error("the subgraph kept serving and must stay healthy")
	}
	if h.Recommended() != SourceSubgraph {
		t.Errorf("recommended = %s, want subgraph", h.Recommended())
	}
}
