package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"polysentry/clients/dataapi"
	"polysentry/clients/subgraph"
	"polysentry/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	s := store.New(nil, db)
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return s
}

// MockDataAPI is a scripted Data API client.
type MockDataAPI struct {
	mu sync.Mutex

	trades      []dataapi.Trade
	tradesErr   error
	errOnCall   int // fail only this call number; 0 fails every call
	tradeCalls  int
	markets     map[string]*dataapi.GammaMarket
	marketPages [][]dataapi.GammaMarket
	activity    []dataapi.Activity
	probeErr    error
}

func NewMockDataAPI() *MockDataAPI {
	return &MockDataAPI{markets: make(map[string]*dataapi.GammaMarket)}
}

func (m *MockDataAPI) GetTrades(_ context.Context, q dataapi.TradeQuery) ([]dataapi.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradeCalls++
	if m.tradesErr != nil && (m.errOnCall == 0 || m.tradeCalls == m.errOnCall) {
		return nil, m.tradesErr
	}
	if q.Offset >= len(m.trades) {
		return nil, nil
	}
	end := q.Offset + q.Limit
	if end > len(m.trades) {
		end = len(m.trades)
	}
	return m.trades[q.Offset:end], nil
}

func (m *MockDataAPI) GetMarkets(_ context.Context, q dataapi.MarketQuery) ([]dataapi.GammaMarket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := q.Offset / max(q.Limit, 1)
	if page >= len(m.marketPages) {
		return nil, nil
	}
	return m.marketPages[page], nil
}

func (m *MockDataAPI) GetMarketByConditionID(_ context.Context, conditionID string) (*dataapi.GammaMarket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gm, ok := m.markets[conditionID]; ok {
		return gm, nil
	}
	return nil, &dataapi.APIError{Kind: dataapi.KindNotFound, URL: "mock"}
}

func (m *MockDataAPI) GetUserActivity(_ context.Context, _ string, limit, offset int) ([]dataapi.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= len(m.activity) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.activity) {
		end = len(m.activity)
	}
	return m.activity[offset:end], nil
}

func (m *MockDataAPI) Probe(_ context.Context) error { return m.probeErr }

// MockSubgraph is a scripted subgraph client.
type MockSubgraph struct {
	mu sync.Mutex

	events     []subgraph.OrderFilledEvent
	eventsErr  error
	eventCalls int
	mappings   []subgraph.MarketData
	probeErr   error
}

func (m *MockSubgraph) OrderFilledEvents(_ context.Context, f subgraph.EventFilter) ([]subgraph.OrderFilledEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventCalls++
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}
	if f.Skip >= len(m.events) {
		return nil, nil
	}
	end := f.Skip + f.First
	if end > len(m.events) {
		end = len(m.events)
	}
	return m.events[f.Skip:end], nil
}

func (m *MockSubgraph) MarketDatas(_ context.Context, first, skip int) ([]subgraph.MarketData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if skip >= len(m.mappings) {
		return nil, nil
	}
	end := skip + first
	if end > len(m.mappings) {
		end = len(m.mappings)
	}
	return m.mappings[skip:end], nil
}

func (m *MockSubgraph) Probe(_ context.Context) error { return m.probeErr }

// MockPublisher records bus publishes.
type MockPublisher struct {
	mu       sync.Mutex
	channels []string
	payloads []any
	err      error
}

func (m *MockPublisher) Publish(_ context.Context, channel string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.channels = append(m.channels, channel)
	m.payloads = append(m.payloads, payload)
	return nil
}
