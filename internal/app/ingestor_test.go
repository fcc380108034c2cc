package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"polysentry/clients/dataapi"
	"polysentry/clients/subgraph"
	"polysentry/internal/store"
)

func newTestIngestor(t *testing.T, api *MockDataAPI, sub *MockSubgraph) (*Ingestor, *store.Store, *TokenMapper) {
	t.Helper()
	st := newTestStore(t)
	h := NewHealthMonitor(nil, 10, 0.8)
	mapper := NewTokenMapper(nil)
	fetcher := NewTradeFetcher(nil, api, sub, h, nil, true)
	return NewIngestor(nil, st, fetcher, mapper, api), st, mapper
}

func TestNormalizeFillSellSide(t *testing.T) {
	// Maker gives outcome tokens: maker is selling.
	n, err := normalizeFill(&subgraph.OrderFilledEvent{
		ID:                "0xabc-1",
		Timestamp:         "1700000000",
		Maker:             "0xMAKER",
		Taker:             "0xTAKER",
		MakerAssetID:      "987654321",
		TakerAssetID:      "0",
		MakerAmountFilled: "2000000", // 2 shares
		TakerAmountFilled: "1300000", // 1.30 USDC
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if n.Side != store.SideSell {
		t.Errorf("side = %s, want SELL", n.Side)
	}
	if n.Wallet != "0xmaker" {
		t.Errorf("wallet = %s, want lowercased maker", n.Wallet)
	}
	if n.TokenID != "987654321" {
		t.Errorf("token = %s", n.TokenID)
	}
	if n.Size != 2 || n.UsdcSize != 1.3 {
		t.Errorf("size/usdc = %f/%f", n.Size, n.UsdcSize)
	}
	if n.Price != 0.65 {
		t.Errorf("price = %f, want 0.65", n.Price)
	}
	if !n.Timestamp.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("timestamp = %v", n.Timestamp)
	}
}

func TestNormalizeFillBuySide(t *testing.T) {
	// Maker gives USDC: the taker's side is a BUY.
	n, err := normalizeFill(&subgraph.OrderFilledEvent{
		ID:                "0xabc-2",
		Timestamp:         "1700000000",
		Maker:             "0xMAKER",
		Taker:             "0xTAKER",
		MakerAssetID:      "0",
		TakerAssetID:      "555",
		MakerAmountFilled: "330000",  // 0.33 USDC
		TakerAmountFilled: "1000000", // 1 share
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if n.Side != store.SideBuy || n.Wallet != "0xtaker" || n.TokenID != "555" {
		t.Errorf("unexpected normalization: %+v", n)
	}
	if n.Price != 0.33 {
		t.Errorf("price = %f, want 0.33", n.Price)
	}
}

func TestNormalizeFillPriceRounding(t *testing.T) {
	n, err := normalizeFill(&subgraph.OrderFilledEvent{
		ID:                "0xabc-3",
		Timestamp:         "1700000000",
		Taker:             "0xT",
		MakerAssetID:      "0",
		TakerAssetID:      "1",
		MakerAmountFilled: "1000000",
		TakerAmountFilled: "3000000",
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	// 1/3 rounded to four decimals.
	if n.Price != 0.3333 {
		t.Errorf("price = %f, want 0.3333", n.Price)
	}
}

func TestIngestSubgraphUnknownTokenCreatesStub(t *testing.T) {
	sub := &MockSubgraph{events: []subgraph.OrderFilledEvent{{
		ID:                "0xfill-1",
		Timestamp:         "1700000000",
		Maker:             "0xseller",
		Taker:             "0xbuyer",
		MakerAssetID:      "123456789012345678901234567890123456",
		TakerAssetID:      "0",
		MakerAmountFilled: "1000000",
		TakerAmountFilled: "600000",
	}}}
	in, st, _ := newTestIngestor(t, NewMockDataAPI(), sub)

	stats, err := in.Ingest(context.Background(), FetchQuery{Source: SourceSubgraph, PageSize: 10, MaxItems: 10})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if stats.Inserted != 1 || stats.StubsCreated != 1 {
		t.Errorf("stats = %+v", stats)
	}

	tr, err := st.GetTradeByHash(context.Background(), "0xfill-1")
	if err != nil {
		t.Fatalf("trade not stored: %v", err)
	}
	m, err := st.GetMarketByID(context.Background(), tr.MarketID)
	if err != nil {
		t.Fatalf("market lookup failed: %v", err)
	}
	if !m.IsStub() {
		t.Errorf("expected stub market, got %s", m.ConditionID)
	}
	if m.ConditionID != "token_12345678901234567890123456789012" {
		t.Errorf("stub condition id = %s", m.ConditionID)
	}

	// Even an unmapped fill gets an outcome label so position netting
	// keeps buys and sells in distinct buckets.
	if tr.Outcome != "Yes" {
		t.Errorf("outcome = %q, want Yes from outcome index 0", tr.Outcome)
	}
	if string(m.Outcomes) != `["Yes","No"]` {
		t.Errorf("stub outcomes = %s, want placeholder labels", m.Outcomes)
	}
}

func TestIngestSubgraphMappedToken(t *testing.T) {
	sub := &MockSubgraph{events: []subgraph.OrderFilledEvent{{
		ID:                "0xfill-2",
		Timestamp:         "1700000000",
		Maker:             "0xseller",
		Taker:             "0xbuyer",
		MakerAssetID:      "0",
		TakerAssetID:      "111",
		MakerAmountFilled: "450000",
		TakerAmountFilled: "1000000",
	}}}
	api := NewMockDataAPI()
	api.markets["0xcond"] = gammaMarket("0xcond", "Will the nominee win the election?",
		[]string{"Yes", "No"}, []string{"111", "222"})

	in, st, mapper := newTestIngestor(t, api, sub)
	mapper.AddMarket(api.markets["0xcond"])

	stats, err := in.Ingest(context.Background(), FetchQuery{Source: SourceSubgraph, PageSize: 10, MaxItems: 10})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if stats.Inserted != 1 || stats.StubsCreated != 0 {
		t.Errorf("stats = %+v", stats)
	}

	tr, err := st.GetTradeByHash(context.Background(), "0xfill-2")
	if err != nil {
		t.Fatalf("trade not stored: %v", err)
	}
	if tr.ConditionID != "0xcond" || tr.Outcome != "Yes" || tr.OutcomeIndex != 0 {
		t.Errorf("unexpected trade: %+v", tr)
	}
	if tr.Side != store.SideBuy || tr.Price != 0.45 {
		t.Errorf("side/price = %s/%f", tr.Side, tr.Price)
	}

	m, _ := st.GetMarketByConditionID(context.Background(), "0xcond")
	if m.Category != store.CategoryPolitics {
		t.Errorf("category = %s, want politics", m.Category)
	}
}

func TestIngestSamePageTwiceIsIdempotent(t *testing.T) {
	sub := &MockSubgraph{events: []subgraph.OrderFilledEvent{{
		ID:                "0xfill-dup",
		Timestamp:         "1700000000",
		Maker:             "0xseller",
		Taker:             "0xbuyer",
		MakerAssetID:      "314159",
		TakerAssetID:      "0",
		MakerAmountFilled: "1000000",
		TakerAmountFilled: "600000",
	}}}
	in, st, _ := newTestIngestor(t, NewMockDataAPI(), sub)
	ctx := context.Background()

	first, err := in.Ingest(ctx, FetchQuery{Source: SourceSubgraph, PageSize: 10, MaxItems: 10})
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	if first.Inserted != 1 || first.StubsCreated != 1 {
		t.Fatalf("first stats = %+v", first)
	}

	second, err := in.Ingest(ctx, FetchQuery{Source: SourceSubgraph, PageSize: 10, MaxItems: 10})
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if second.Inserted != 0 || second.Updated != 1 || second.StubsCreated != 0 {
		t.Errorf("second stats = %+v, want update in place", second)
	}

	total, err := st.CountTrades(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if total != 1 {
		t.Errorf("trades = %d, want 1", total)
	}
}

func TestIngestAPITradeDerivedMetrics(t *testing.T) {
	api := NewMockDataAPI()
	api.trades = []dataapi.Trade{{
		TransactionHash: "0xapi-1",
		ProxyWallet:     "0xWALLET",
		ConditionID:     "0xcond",
		Side:            "buy",
		Size:            200,
		Price:           0.25,
		UsdcSize:        50,
		Timestamp:       1700000000,
		Outcome:         "Yes",
	}}
	api.markets["0xcond"] = gammaMarket("0xcond", "Will BTC close above 100k?",
		[]string{"Yes", "No"}, []string{"1", "2"})

	// Forcing the broken subgraph proves failover lands the trade via
	// the API path with all derived metrics intact.
	sub := &MockSubgraph{eventsErr: errors.New("subgraph down")}
	in, st, _ := newTestIngestor(t, api, sub)

	stats, err := in.Ingest(context.Background(), FetchQuery{Source: SourceSubgraph, PageSize: 10, MaxItems: 10})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if stats.Source != SourceAPI || !stats.FellOver {
		t.Errorf("expected API via failover: %+v", stats)
	}

	tr, err := st.GetTradeByHash(context.Background(), "0xapi-1")
	if err != nil {
		t.Fatalf("trade not stored: %v", err)
	}
	if tr.WalletAddress != "0xwallet" {
		t.Errorf("wallet not lowercased: %s", tr.WalletAddress)
	}
	if tr.Side != store.SideBuy {
		t.Errorf("side = %s", tr.Side)
	}
	if tr.PriceExtremity != 0.25 {
		t.Errorf("price extremity = %f, want 0.25", tr.PriceExtremity)
	}
	if tr.WalletAgeDays == nil || *tr.WalletAgeDays != 0 {
		t.Errorf("wallet age = %v, want 0 for first trade", tr.WalletAgeDays)
	}

	m, _ := st.GetMarketByConditionID(context.Background(), "0xcond")
	if m.Category != store.CategoryCrypto {
		t.Errorf("category = %s, want crypto", m.Category)
	}
}

func TestClassifyCategory(t *testing.T) {
	cases := map[string]string{
		"Will the senate confirm the nominee?":   store.CategoryPolitics,
		"Will the CEO resign after earnings?":    store.CategoryCorporate,
		"Will the defendant be convicted?":       store.CategoryLegal,
		"Will Bitcoin hit $100k?":                store.CategoryCrypto,
		"Who takes the Super Bowl this year?":    store.CategorySports,
		"Will the movie get an Oscar nod?":       store.CategoryEntertainment,
		"Will the FDA approve the drug?":         store.CategoryScience,
		"Will it rain tomorrow in an odd place?": store.CategoryOther,
	}
	for question, want := range cases {
		if got := classifyCategory(question); got != want {
			t.Errorf("classifyCategory(%q) = %s, want %s", question, got, want)
		}
	}
}

func TestEnrichStubMarkets(t *testing.T) {
	api := NewMockDataAPI()
	api.markets["0xreal"] = gammaMarket("0xreal", "Will the verdict be guilty?",
		[]string{"Yes", "No"}, []string{"777", "888"})
	sub := &MockSubgraph{}
	in, st, mapper := newTestIngestor(t, api, sub)
	ctx := context.Background()

	if _, _, err := st.CreateStubMarket(ctx, "777"); err != nil {
		t.Fatalf("failed to create stub: %v", err)
	}
	mapper.AddSubgraphMapping(subgraph.MarketData{ID: "777", Condition: "0xreal", OutcomeIndex: "0"})

	promoted, err := in.EnrichStubMarkets(ctx, 0)
	if err != nil {
		t.Fatalf("enrichment failed: %v", err)
	}
	if promoted != 1 {
		t.Errorf("promoted = %d, want 1", promoted)
	}

	m, err := st.GetMarketByConditionID(ctx, "0xreal")
	if err != nil {
		t.Fatalf("promoted market missing: %v", err)
	}
	if m.Category != store.CategoryLegal || m.IsStub() {
		t.Errorf("unexpected promoted market: %+v", m)
	}
}
