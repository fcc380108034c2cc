package app

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"polysentry/clients/dataapi"
	"polysentry/clients/subgraph"
	"polysentry/internal/store"
	"polysentry/internal/telemetry"
)

// usdcDecimals scales on-chain USDC and share amounts (6 decimals).
var usdcUnit = decimal.New(1, 6)

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Source       string `json:"source"`
	FellOver     bool   `json:"fell_over"`
	Fetched      int    `json:"fetched"`
	Inserted     int    `json:"inserted"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Errors       int    `json:"errors"`
	StubsCreated int    `json:"stubs_created"`
}

// Ingestor normalizes raw trades from either source into the store.
type Ingestor struct {
	logger  *zap.Logger
	st      *store.Store
	fetcher *TradeFetcher
	mapper  *TokenMapper
	gamma   GammaClient
}

func NewIngestor(logger *zap.Logger, st *store.Store, fetcher *TradeFetcher, mapper *TokenMapper, gamma GammaClient) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		logger:  logger,
		st:      st,
		fetcher: fetcher,
		mapper:  mapper,
		gamma:   gamma,
	}
}

// Ingest fetches raw trades and persists them. Per-record failures are
// counted and logged, never fatal to the run. A fetch that failed
// partway still has its collected pages ingested; the fetch error is
// returned alongside the stats.
func (in *Ingestor) Ingest(ctx context.Context, q FetchQuery) (*IngestStats, error) {
	result, ferr := in.fetcher.Fetch(ctx, q)
	if result == nil {
		return nil, ferr
	}
	if ferr != nil {
		in.logger.Warn("ingesting partial fetch result",
			zap.String("source", result.Source),
			zap.Int("fetched", result.Count()),
			zap.Error(ferr),
		)
	}

	stats := &IngestStats{
		Source:   result.Source,
		FellOver: result.FellOver,
		Fetched:  result.Count(),
	}

	switch result.Source {
	case SourceAPI:
		for i := range result.APITrades {
			in.ingestAPITrade(ctx, &result.APITrades[i], stats)
		}
	default:
		for i := range result.SubgraphEvents {
			in.ingestSubgraphEvent(ctx, &result.SubgraphEvents[i], stats)
		}
	}

	in.logger.Info("ingestion run complete",
		zap.String("source", stats.Source),
		zap.Bool("fellOver", stats.FellOver),
		zap.Int("fetched", stats.Fetched),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
		zap.Int("stubs", stats.StubsCreated),
	)
	return stats, ferr
}

func (in *Ingestor) ingestAPITrade(ctx context.Context, raw *dataapi.Trade, stats *IngestStats) {
	if raw.TransactionHash == "" || raw.ProxyWallet == "" || raw.ConditionID == "" {
		stats.Skipped++
		telemetry.TradesIngested.WithLabelValues(SourceAPI, "skipped").Inc()
		return
	}

	market, created, err := in.marketForCondition(ctx, raw.ConditionID, raw.Title)
	if err != nil {
		stats.Errors++
		telemetry.TradesIngested.WithLabelValues(SourceAPI, "error").Inc()
		in.logger.Warn("failed to resolve market for trade",
			zap.String("conditionID", shortID(raw.ConditionID)),
			zap.Error(err),
		)
		return
	}
	if created {
		stats.StubsCreated++
	}

	ts := time.Unix(raw.Timestamp, 0).UTC()
	trade := &store.Trade{
		TransactionHash: raw.TransactionHash,
		MarketID:        market.ID,
		WalletAddress:   strings.ToLower(raw.ProxyWallet),
		ConditionID:     market.ConditionID,
		Side:            normalizeSide(raw.Side),
		Outcome:         raw.Outcome,
		OutcomeIndex:    raw.OutcomeIndex,
		Size:            raw.Size,
		Price:           raw.Price,
		UsdcSize:        raw.UsdcSize,
		TradeTimestamp:  ts,
	}
	in.persistTrade(ctx, trade, market, SourceAPI, stats)
}

func (in *Ingestor) ingestSubgraphEvent(ctx context.Context, ev *subgraph.OrderFilledEvent, stats *IngestStats) {
	norm, err := normalizeFill(ev)
	if err != nil {
		stats.Skipped++
		telemetry.TradesIngested.WithLabelValues(SourceSubgraph, "skipped").Inc()
		in.logger.Debug("skipping malformed fill",
			zap.String("id", shortID(ev.ID)),
			zap.Error(err),
		)
		return
	}

	var market *store.Market
	if ref, ok := in.mapper.Resolve(norm.TokenID); ok {
		market, err = in.marketOrStub(ctx, ref.ConditionID)
		if err == nil {
			norm.OutcomeIndex = ref.OutcomeIndex
			norm.Outcome = ref.Outcome
		}
	} else {
		// Unknown token: record against a stub so the trade is never lost.
		var created bool
		market, created, err = in.st.CreateStubMarket(ctx, norm.TokenID)
		if err == nil && created {
			stats.StubsCreated++
			telemetry.StubMarketsCreated.Inc()
		}
	}
	if err != nil {
		stats.Errors++
		telemetry.TradesIngested.WithLabelValues(SourceSubgraph, "error").Inc()
		in.logger.Warn("failed to resolve market for fill",
			zap.String("token", shortID(norm.TokenID)),
			zap.Error(err),
		)
		return
	}
	if norm.Outcome == "" {
		norm.Outcome = outcomeLabel(norm.OutcomeIndex)
	}

	trade := &store.Trade{
		TransactionHash: ev.ID,
		MarketID:        market.ID,
		WalletAddress:   norm.Wallet,
		ConditionID:     market.ConditionID,
		Side:            norm.Side,
		Outcome:         norm.Outcome,
		OutcomeIndex:    norm.OutcomeIndex,
		Size:            norm.Size,
		Price:           norm.Price,
		UsdcSize:        norm.UsdcSize,
		TradeTimestamp:  norm.Timestamp,
	}
	in.persistTrade(ctx, trade, market, SourceSubgraph, stats)
}

// persistTrade fills derived metrics, upserts the wallet and writes the
// trade row.
func (in *Ingestor) persistTrade(ctx context.Context, trade *store.Trade, market *store.Market, source string, stats *IngestStats) {
	wallet, err := in.st.GetOrCreateWallet(ctx, trade.WalletAddress, trade.TradeTimestamp)
	if err != nil {
		stats.Errors++
		telemetry.TradesIngested.WithLabelValues(source, "error").Inc()
		in.logger.Warn("failed to upsert wallet",
			zap.String("wallet", shortID(trade.WalletAddress)),
			zap.Error(err),
		)
		return
	}
	trade.WalletID = wallet.ID

	// Clock-skewed events occasionally predate first_seen; floor at 0.
	age := trade.TradeTimestamp.Sub(wallet.FirstSeenAt).Hours() / 24
	if age < 0 {
		age = 0
	}
	trade.WalletAgeDays = &age
	trade.WalletTradeCount = wallet.TotalTrades
	trade.PriceExtremity = math.Abs(trade.Price - 0.5)
	if market.ResolutionDate != nil {
		hours := market.ResolutionDate.Sub(trade.TradeTimestamp).Hours()
		trade.HoursBeforeResolution = &hours
	}

	inserted, err := in.st.UpsertTrade(ctx, trade)
	if err != nil {
		stats.Errors++
		telemetry.TradesIngested.WithLabelValues(source, "error").Inc()
		in.logger.Warn("failed to upsert trade",
			zap.String("hash", shortID(trade.TransactionHash)),
			zap.Error(err),
		)
		return
	}
	if inserted {
		stats.Inserted++
		telemetry.TradesIngested.WithLabelValues(source, "inserted").Inc()
	} else {
		stats.Updated++
		telemetry.TradesIngested.WithLabelValues(source, "updated").Inc()
	}
}

// marketForCondition resolves a condition id to a stored market,
// fetching gamma metadata on first sight. When gamma cannot serve the
// market a minimal row is stored so the trade still lands somewhere.
func (in *Ingestor) marketForCondition(ctx context.Context, conditionID, title string) (*store.Market, bool, error) {
	m, err := in.st.GetMarketByConditionID(ctx, conditionID)
	if err == nil {
		return m, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	gm, gerr := in.gamma.GetMarketByConditionID(ctx, conditionID)
	if gerr == nil {
		stored := gammaToMarket(gm)
		if err := in.st.UpsertMarket(ctx, stored); err != nil {
			return nil, false, err
		}
		in.mapper.AddMarket(gm)
		m, err := in.st.GetMarketByConditionID(ctx, conditionID)
		return m, false, err
	}

	minimal := &store.Market{
		ConditionID: conditionID,
		Question:    title,
		Category:    store.CategoryOther,
		IsActive:    true,
		Meta:        map[string]any{"needs_metadata": true},
	}
	if err := in.st.UpsertMarket(ctx, minimal); err != nil {
		return nil, false, err
	}
	m, err = in.st.GetMarketByConditionID(ctx, conditionID)
	return m, true, err
}

// marketOrStub loads a market by condition id, creating a minimal row
// when it is unknown.
func (in *Ingestor) marketOrStub(ctx context.Context, conditionID string) (*store.Market, error) {
	m, _, err := in.marketForCondition(ctx, conditionID, "")
	return m, err
}

// normalizedFill is one subgraph fill reduced to trade terms.
type normalizedFill struct {
	Wallet       string
	TokenID      string
	Side         string
	Size         float64
	UsdcSize     float64
	Price        float64
	Outcome      string
	OutcomeIndex int
	Timestamp    time.Time
}

// normalizeFill maps a raw orderFilledEvent onto trade semantics. The
// maker side determines direction: a maker giving away outcome tokens
// (makerAssetId != "0") is selling; a maker giving USDC (makerAssetId
// == "0") means the taker is the one selling, so the fill is recorded
// as the taker's BUY counterpart.
func normalizeFill(ev *subgraph.OrderFilledEvent) (*normalizedFill, error) {
	if ev.ID == "" {
		return nil, errors.New("fill has no id")
	}

	tsSec, err := strconv.ParseInt(ev.Timestamp, 10, 64)
	if err != nil {
		return nil, errors.New("unparseable timestamp")
	}

	makerAmount, err := decimal.NewFromString(ev.MakerAmountFilled)
	if err != nil {
		return nil, errors.New("unparseable maker amount")
	}
	takerAmount, err := decimal.NewFromString(ev.TakerAmountFilled)
	if err != nil {
		return nil, errors.New("unparseable taker amount")
	}

	n := &normalizedFill{Timestamp: time.Unix(tsSec, 0).UTC()}
	if ev.MakerAssetID != "0" {
		// Maker parts with outcome tokens: the maker is selling.
		n.Side = store.SideSell
		n.Wallet = strings.ToLower(ev.Maker)
		n.TokenID = ev.MakerAssetID
		n.Size, _ = makerAmount.Div(usdcUnit).Float64()
		n.UsdcSize, _ = takerAmount.Div(usdcUnit).Float64()
	} else {
		n.Side = store.SideBuy
		n.Wallet = strings.ToLower(ev.Taker)
		n.TokenID = ev.TakerAssetID
		n.Size, _ = takerAmount.Div(usdcUnit).Float64()
		n.UsdcSize, _ = makerAmount.Div(usdcUnit).Float64()
	}

	if n.Wallet == "" || n.TokenID == "" || n.TokenID == "0" {
		return nil, errors.New("fill missing wallet or token")
	}
	if n.Size > 0 {
		n.Price = math.Round(n.UsdcSize/n.Size*10000) / 10000
	}
	return n, nil
}

// outcomeLabel names a binary market's side by outcome index.
func outcomeLabel(index int) string {
	if index == 0 {
		return "Yes"
	}
	return "No"
}

func normalizeSide(side string) string {
	if strings.EqualFold(side, store.SideSell) {
		return store.SideSell
	}
	return store.SideBuy
}

// gammaToMarket converts gamma metadata into a store row, including
// category classification from the question text.
func gammaToMarket(gm *dataapi.GammaMarket) *store.Market {
	m := &store.Market{
		ConditionID:  gm.ConditionID,
		Question:     gm.Question,
		Volume:       gm.Volume,
		Volume24h:    gm.Volume24hr,
		Liquidity:    gm.Liquidity,
		Category:     classifyCategory(gm.Question + " " + gm.Slug),
		IsEventBased: gm.IsEventBased(),
		IsActive:     gm.Active && !gm.Closed,
		Meta:         map[string]any{},
	}

	if outcomes := gm.GetOutcomes(); outcomes != nil {
		m.Outcomes = mustJSON(outcomes)
	}
	if prices := gm.GetOutcomePrices(); prices != nil {
		m.OutcomePrices = mustJSON(prices)
	}
	if tokens := gm.GetTokenIDs(); tokens != nil {
		m.Meta["clobTokenIds"] = tokens
	}
	if gm.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, gm.EndDate); err == nil {
			m.EndDate = &t
		}
	}
	if gm.ClosedTime != "" {
		if t, err := parseGammaTime(gm.ClosedTime); err == nil {
			m.ResolutionDate = &t
		}
	}
	// An already-resolved market lands with its winner recorded. An
	// ambiguous resolution (multiple winning prices) stays unresolved.
	if outcome, _, err := gm.WinningOutcome(); err == nil && outcome != "" {
		m.ResolvedOutcome = &outcome
	}

	now := time.Now().UTC()
	m.LastSyncedAt = &now
	return m
}

// parseGammaTime accepts the two timestamp encodings gamma emits.
func parseGammaTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05-07", s)
}

// categoryKeywords drive the keyword classifier. First match wins, in
// listed order.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{store.CategoryPolitics, []string{"election", "president", "senate", "congress", "nominee", "vote", "governor", "impeach", "cabinet", "minister", "parliament"}},
	{store.CategoryLegal, []string{"indicted", "convicted", "lawsuit", "verdict", "court", "ruling", "sentenced", "charges", "trial"}},
	{store.CategoryCorporate, []string{"acquisition", "merger", "ipo", "earnings", "ceo", "bankruptcy", "stock", "acquire", "layoffs"}},
	{store.CategoryCrypto, []string{"bitcoin", "btc", "ethereum", "eth", "solana", "crypto", "token", "etf approval", "airdrop"}},
	{store.CategorySports, []string{"super bowl", "nba", "nfl", "mlb", "nhl", "world cup", "championship", "playoffs", "win the", "olympics", "ufc"}},
	{store.CategoryEntertainment, []string{"oscar", "grammy", "emmy", "box office", "album", "movie", "season finale", "spotify"}},
	{store.CategoryScience, []string{"fda", "vaccine", "launch", "spacex", "nasa", "hurricane", "temperature", "climate", "agi"}},
}

// classifyCategory buckets a market by question keywords.
func classifyCategory(text string) string {
	lower := strings.ToLower(text)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(lower, w) {
				return ck.category
			}
		}
	}
	return store.CategoryOther
}

// EnrichStubMarkets attempts to promote stub markets created for
// unmapped tokens by resolving their token ids through the refreshed
// token map.
func (in *Ingestor) EnrichStubMarkets(ctx context.Context, limit int) (promoted int, err error) {
	stubs, err := in.st.ListStubMarkets(ctx, limit)
	if err != nil {
		return 0, err
	}

	for i := range stubs {
		stub := &stubs[i]
		tokenID, _ := stub.Meta["token_id"].(string)
		if tokenID == "" {
			continue
		}
		ref, ok := in.mapper.Resolve(tokenID)
		if !ok {
			continue
		}

		gm, gerr := in.gamma.GetMarketByConditionID(ctx, ref.ConditionID)
		var real *store.Market
		if gerr == nil {
			real = gammaToMarket(gm)
		} else {
			real = &store.Market{
				ConditionID: ref.ConditionID,
				Category:    store.CategoryOther,
				IsActive:    true,
				Meta:        map[string]any{"needs_metadata": true},
			}
		}

		if _, perr := in.st.PromoteStubMarket(ctx, stub.ID, real); perr != nil {
			in.logger.Warn("failed to promote stub market",
				zap.String("conditionID", shortID(stub.ConditionID)),
				zap.Error(perr),
			)
			continue
		}
		promoted++
	}

	if promoted > 0 {
		in.logger.Info("promoted stub markets", zap.Int("count", promoted))
	}
	return promoted, nil
}

// SyncTopMarkets refreshes stored market metadata from gamma, ordered
// by 24h volume.
func (in *Ingestor) SyncTopMarkets(ctx context.Context, limit int, includeClosed bool) (synced int, err error) {
	const pageSize = 100
	if limit <= 0 {
		limit = 200
	}

	for offset := 0; synced < limit; offset += pageSize {
		q := dataapi.MarketQuery{
			Order:  "volume24hr",
			Limit:  pageSize,
			Offset: offset,
		}
		if !includeClosed {
			active := true
			q.Active = &active
		}
		markets, gerr := in.gamma.GetMarkets(ctx, q)
		if gerr != nil {
			return synced, gerr
		}
		for i := range markets {
			gm := &markets[i]
			if gm.ConditionID == "" {
				continue
			}
			if err := in.st.UpsertMarket(ctx, gammaToMarket(gm)); err != nil {
				in.logger.Warn("failed to sync market",
					zap.String("conditionID", shortID(gm.ConditionID)),
					zap.Error(err),
				)
				continue
			}
			in.mapper.AddMarket(gm)
			synced++
			if synced >= limit {
				break
			}
		}
		if len(markets) < pageSize {
			break
		}
	}

	in.logger.Info("market sync complete", zap.Int("synced", synced))
	return synced, nil
}
