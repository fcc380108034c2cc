// Package telemetry exposes the service's Prometheus counters.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesIngested counts ingested trades by outcome.
	TradesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polysentry",
		Subsystem: "ingest",
		Name:      "trades_total",
		Help:      "Trades processed by the ingestor, labeled by result.",
	}, []string{"source", "result"}) // result: inserted|updated|error|unmapped|skipped

	// StubMarketsCreated counts stub markets created for unknown tokens.
	StubMarketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "polysentry",
		Subsystem: "ingest",
		Name:      "stub_markets_total",
		Help:      "Stub markets created when a token id could not be resolved.",
	})

	// FetchErrors counts failed fetches by source and error kind.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polysentry",
		Subsystem: "fetch",
		Name:      "errors_total",
		Help:      "Failed outbound requests by source and error kind.",
	}, []string{"source", "kind"})

	// Failovers counts data-source failover events.
	Failovers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "polysentry",
		Subsystem: "fetch",
		Name:      "failovers_total",
		Help:      "Trade fetches that fell back to the secondary source.",
	})

	// TradesScored counts scored trades.
	TradesScored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "polysentry",
		Subsystem: "score",
		Name:      "trades_total",
		Help:      "Trades scored.",
	})

	// AlertsEmitted counts alerts by type and severity.
	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polysentry",
		Subsystem: "monitor",
		Name:      "alerts_total",
		Help:      "Alerts generated by the real-time monitor.",
	}, []string{"type", "severity"})
)
