package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"polysentry/clients/bus"
	"polysentry/clients/dataapi"
	"polysentry/clients/subgraph"
	"polysentry/internal/telemetry"
)

// DataAPIClient is the Data API surface the fetcher depends on.
type DataAPIClient interface {
	GetTrades(ctx context.Context, q dataapi.TradeQuery) ([]dataapi.Trade, error)
	Probe(ctx context.Context) error
}

// SubgraphClient is the subgraph surface the fetcher depends on.
type SubgraphClient interface {
	OrderFilledEvents(ctx context.Context, f subgraph.EventFilter) ([]subgraph.OrderFilledEvent, error)
	Probe(ctx context.Context) error
}

// FailoverPublisher broadcasts source switches.
type FailoverPublisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// FetchResult carries one fetch's raw trades tagged with the source
// that produced them. Exactly one of the two slices is populated.
type FetchResult struct {
	Source         string
	APITrades      []dataapi.Trade
	SubgraphEvents []subgraph.OrderFilledEvent
	FellOver       bool
}

// Count returns the number of raw records fetched.
func (r *FetchResult) Count() int {
	if r.Source == SourceAPI {
		return len(r.APITrades)
	}
	return len(r.SubgraphEvents)
}

// FetchQuery bounds one trade fetch.
type FetchQuery struct {
	FromTs   int64  // unix seconds; subgraph only
	Source   string // forces a source; empty uses the health recommendation
	Market   string
	Wallet   string
	PageSize int
	MaxItems int
}

// TradeFetcher pulls raw trades from whichever source is currently
// healthy, failing over to the other when the primary breaks mid-run.
type TradeFetcher struct {
	logger   *zap.Logger
	api      DataAPIClient
	sub      SubgraphClient
	health   *HealthMonitor
	bus      FailoverPublisher
	failover bool
}

func NewTradeFetcher(logger *zap.Logger, api DataAPIClient, sub SubgraphClient, health *HealthMonitor, publisher FailoverPublisher, failover bool) *TradeFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeFetcher{
		logger:   logger,
		api:      api,
		sub:      sub,
		health:   health,
		bus:      publisher,
		failover: failover,
	}
}

// Fetch pulls up to q.MaxItems raw trades. The Data API is the primary
// source; with failover enabled a primary failure retries the whole
// query on the subgraph, so a result is never a mix of both. When both
// sources fail (or the context is canceled) the pages collected from
// the primary are returned alongside the error.
func (f *TradeFetcher) Fetch(ctx context.Context, q FetchQuery) (*FetchResult, error) {
	if q.PageSize <= 0 {
		q.PageSize = 500
	}
	if q.MaxItems <= 0 {
		q.MaxItems = 5000
	}

	primary := q.Source
	if primary == "" {
		primary = SourceAPI
	}
	result, err := f.fetchFrom(ctx, primary, q)
	if err == nil {
		f.health.RecordSuccess(primary)
		return result, nil
	}
	f.health.RecordFailure(primary, err)
	telemetry.FetchErrors.WithLabelValues(primary, errorKind(err)).Inc()

	if ctx.Err() != nil {
		// Cooperative cancel: flush what was collected.
		return result, err
	}
	if !f.failover {
		return result, err
	}

	secondary := otherSource(primary)
	f.logger.Warn("primary source failed, failing over",
		zap.String("from", primary),
		zap.String("to", secondary),
		zap.Error(err),
	)
	f.publishFailover(ctx, primary, secondary, err)

	result2, err2 := f.fetchFrom(ctx, secondary, q)
	if err2 != nil {
		f.health.RecordFailure(secondary, err2)
		telemetry.FetchErrors.WithLabelValues(secondary, errorKind(err2)).Inc()
		// Report the original failure with the primary's partial pages;
		// the fallback error is logged.
		f.logger.Error("failover source also failed", zap.Error(err2))
		return result, err
	}
	f.health.RecordSuccess(secondary)
	result2.FellOver = true
	telemetry.Failovers.Inc()
	return result2, nil
}

// fetchFrom drives one source's pagination. On error the result still
// carries the pages collected so far.
func (f *TradeFetcher) fetchFrom(ctx context.Context, source string, q FetchQuery) (*FetchResult, error) {
	switch source {
	case SourceSubgraph:
		events, err := f.fetchSubgraphEvents(ctx, q)
		return &FetchResult{Source: SourceSubgraph, SubgraphEvents: events}, err
	default:
		trades, err := f.fetchAPITrades(ctx, q)
		return &FetchResult{Source: SourceAPI, APITrades: trades}, err
	}
}

func (f *TradeFetcher) fetchAPITrades(ctx context.Context, q FetchQuery) ([]dataapi.Trade, error) {
	var all []dataapi.Trade
	for offset := 0; len(all) < q.MaxItems; offset += q.PageSize {
		page, err := f.api.GetTrades(ctx, dataapi.TradeQuery{
			Market: q.Market,
			User:   q.Wallet,
			Limit:  q.PageSize,
			Offset: offset,
		})
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if len(page) < q.PageSize {
			break
		}
	}
	if len(all) > q.MaxItems {
		all = all[:q.MaxItems]
	}
	return all, nil
}

func (f *TradeFetcher) fetchSubgraphEvents(ctx context.Context, q FetchQuery) ([]subgraph.OrderFilledEvent, error) {
	var all []subgraph.OrderFilledEvent
	for skip := 0; len(all) < q.MaxItems; skip += q.PageSize {
		page, err := f.sub.OrderFilledEvents(ctx, subgraph.EventFilter{
			FromTs:         q.FromTs,
			Maker:          q.Wallet,
			OrderBy:        "timestamp",
			OrderDirection: "desc",
			First:          q.PageSize,
			Skip:           skip,
		})
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if len(page) < q.PageSize {
			break
		}
	}
	if len(all) > q.MaxItems {
		all = all[:q.MaxItems]
	}
	return all, nil
}

func (f *TradeFetcher) publishFailover(ctx context.Context, from, to string, cause error) {
	if f.bus == nil {
		return
	}
	event := bus.FailoverEvent{
		From:      from,
		To:        to,
		Reason:    cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := f.bus.Publish(ctx, bus.ChannelFailover, event); err != nil {
		f.logger.Warn("failed to broadcast failover event", zap.Error(err))
	}
}

func otherSource(source string) string {
	if source == SourceAPI {
		return SourceSubgraph
	}
	return SourceAPI
}

// errorKind extracts the taxonomy label for metrics.
func errorKind(err error) string {
	switch {
	case dataapi.IsRateLimited(err), subgraph.IsRateLimited(err):
		return "rate_limited"
	case dataapi.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
