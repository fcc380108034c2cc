package app

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"polysentry/clients/dataapi"
	"polysentry/clients/subgraph"
)

// GammaClient is the market-metadata surface of the Data API.
type GammaClient interface {
	GetMarkets(ctx context.Context, q dataapi.MarketQuery) ([]dataapi.GammaMarket, error)
	GetMarketByConditionID(ctx context.Context, conditionID string) (*dataapi.GammaMarket, error)
}

// MarketDataClient is the token-mapping surface of the subgraph.
type MarketDataClient interface {
	MarketDatas(ctx context.Context, first, skip int) ([]subgraph.MarketData, error)
}

// TokenRef locates the market side a token id settles to.
type TokenRef struct {
	ConditionID  string
	OutcomeIndex int
	Outcome      string // label, when known from gamma
}

// TokenMapper resolves CLOB token ids to markets. Gamma markets are
// the primary mapping source (they carry outcome labels); the subgraph
// marketDatas entity fills gaps for tokens gamma has not served yet.
type TokenMapper struct {
	mu     sync.RWMutex
	logger *zap.Logger
	byID   map[string]TokenRef
}

func NewTokenMapper(logger *zap.Logger) *TokenMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenMapper{
		logger: logger,
		byID:   make(map[string]TokenRef),
	}
}

// Resolve returns the market reference for a token id.
func (t *TokenMapper) Resolve(tokenID string) (TokenRef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ref, ok := t.byID[tokenID]
	return ref, ok
}

// Size returns the number of mapped token ids.
func (t *TokenMapper) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// AddMarket indexes every token id a gamma market carries. Token ids
// line up positionally with outcomes.
func (t *TokenMapper) AddMarket(m *dataapi.GammaMarket) int {
	if m == nil || m.ConditionID == "" {
		return 0
	}
	tokenIDs := m.GetTokenIDs()
	if len(tokenIDs) == 0 {
		return 0
	}
	outcomes := m.GetOutcomes()

	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for i, tokenID := range tokenIDs {
		if tokenID == "" {
			continue
		}
		ref := TokenRef{ConditionID: m.ConditionID, OutcomeIndex: i}
		if i < len(outcomes) {
			ref.Outcome = outcomes[i]
		}
		if _, exists := t.byID[tokenID]; !exists {
			added++
		}
		t.byID[tokenID] = ref
	}
	return added
}

// AddSubgraphMapping indexes a token from the subgraph marketDatas
// entity. Gamma-sourced entries win; the subgraph has no outcome label.
func (t *TokenMapper) AddSubgraphMapping(md subgraph.MarketData) bool {
	if md.ID == "" || md.Condition == "" {
		return false
	}
	idx := 0
	if md.OutcomeIndex != "" {
		if n, err := strconv.Atoi(md.OutcomeIndex); err == nil {
			idx = n
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byID[md.ID]; ok && existing.Outcome != "" {
		return false
	}
	t.byID[md.ID] = TokenRef{ConditionID: md.Condition, OutcomeIndex: idx}
	return true
}

// RefreshFromGamma pages through gamma markets and indexes their
// tokens. Returns the number of markets scanned.
func (t *TokenMapper) RefreshFromGamma(ctx context.Context, gamma GammaClient, maxMarkets int, includeClosed bool) (int, error) {
	const pageSize = 100
	if maxMarkets <= 0 {
		maxMarkets = 200
	}

	scanned := 0
	for offset := 0; scanned < maxMarkets; offset += pageSize {
		q := dataapi.MarketQuery{
			Order:  "volume24hr",
			Limit:  pageSize,
			Offset: offset,
		}
		if !includeClosed {
			active := true
			closed := false
			q.Active = &active
			q.Closed = &closed
		}
		markets, err := gamma.GetMarkets(ctx, q)
		if err != nil {
			return scanned, err
		}
		for i := range markets {
			t.AddMarket(&markets[i])
			scanned++
			if scanned >= maxMarkets {
				break
			}
		}
		if len(markets) < pageSize {
			break
		}
	}

	t.logger.Debug("token map refreshed from gamma",
		zap.Int("markets", scanned),
		zap.Int("tokens", t.Size()),
	)
	return scanned, nil
}

// RefreshFromSubgraph pages through marketDatas to cover tokens gamma
// has not served.
func (t *TokenMapper) RefreshFromSubgraph(ctx context.Context, sub MarketDataClient, maxMappings int) (int, error) {
	const pageSize = 1000
	if maxMappings <= 0 {
		maxMappings = 10000
	}

	added := 0
	for skip := 0; skip < maxMappings; skip += pageSize {
		mappings, err := sub.MarketDatas(ctx, pageSize, skip)
		if err != nil {
			return added, err
		}
		for _, md := range mappings {
			if t.AddSubgraphMapping(md) {
				added++
			}
		}
		if len(mappings) < pageSize {
			break
		}
	}

	t.logger.Debug("token map refreshed from subgraph",
		zap.Int("added", added),
		zap.Int("tokens", t.Size()),
	)
	return added, nil
}

// ResolveViaGamma looks one condition id up directly, indexing the
// result. Used when a single unmapped token's condition is known.
func (t *TokenMapper) ResolveViaGamma(ctx context.Context, gamma GammaClient, conditionID string) (*dataapi.GammaMarket, error) {
	m, err := gamma.GetMarketByConditionID(ctx, conditionID)
	if err != nil {
		return nil, err
	}
	t.AddMarket(m)
	return m, nil
}
