package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Data source names used across the ingestion pipeline.
const (
	SourceSubgraph = "subgraph"
	SourceAPI      = "api"
)

// Prober is the health-probe surface of a data source client.
type Prober interface {
	Probe(ctx context.Context) error
}

// sourceWindow is a fixed-size rolling window of request outcomes.
type sourceWindow struct {
	outcomes []bool
	next     int
	filled   int
}

func newSourceWindow(size int) *sourceWindow {
	if size <= 0 {
		size = 10
	}
	return &sourceWindow{outcomes: make([]bool, size)}
}

func (w *sourceWindow) record(ok bool) {
	w.outcomes[w.next] = ok
	w.next = (w.next + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}
}

// rate returns the success fraction over the recorded window. An empty
// window counts as fully healthy so a source is not written off before
// its first request.
func (w *sourceWindow) rate() float64 {
	if w.filled == 0 {
		return 1.0
	}
	ok := 0
	for i := 0; i < w.filled; i++ {
		if w.outcomes[i] {
			ok++
		}
	}
	return float64(ok) / float64(w.filled)
}

// HealthMonitor tracks per-source request outcomes and picks the
// preferred data source for the next fetch.
type HealthMonitor struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	windows   map[string]*sourceWindow
	threshold float64
	size      int

	lastProbeAt map[string]time.Time
	lastErr     map[string]string
}

// NewHealthMonitor creates a monitor with the given window size and
// healthy threshold.
func NewHealthMonitor(logger *zap.Logger, windowSize int, healthyThreshold float64) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if healthyThreshold <= 0 || healthyThreshold > 1 {
		healthyThreshold = 0.8
	}
	return &HealthMonitor{
		logger:      logger,
		threshold:   healthyThreshold,
		size:        windowSize,
		windows:     make(map[string]*sourceWindow),
		lastProbeAt: make(map[string]time.Time),
		lastErr:     make(map[string]string),
	}
}

func (h *HealthMonitor) window(source string) *sourceWindow {
	w, ok := h.windows[source]
	if !ok {
		w = newSourceWindow(h.size)
		h.windows[source] = w
	}
	return w
}

// RecordSuccess notes a successful request against a source.
func (h *HealthMonitor) RecordSuccess(source string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(source, true)
	delete(h.lastErr, source)
}

// RecordFailure notes a failed request against a source.
func (h *HealthMonitor) RecordFailure(source string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(source, false)
	if err != nil {
		h.lastErr[source] = err.Error()
	}
}

// record updates the window and logs when the source crosses the
// healthy threshold in either direction. Caller holds h.mu.
func (h *HealthMonitor) record(source string, ok bool) {
	w := h.window(source)
	wasHealthy := w.rate() >= h.threshold
	w.record(ok)
	rate := w.rate()
	isHealthy := rate >= h.threshold

	switch {
	case wasHealthy && !isHealthy:
		h.logger.Warn("data source degraded",
			zap.String("source", source),
			zap.Float64("successRate", rate),
			zap.Float64("threshold", h.threshold),
		)
	case !wasHealthy && isHealthy:
		h.logger.Info("data source recovered",
			zap.String("source", source),
			zap.Float64("successRate", rate),
		)
	}
}

// HealthRate returns the success fraction for a source.
func (h *HealthMonitor) HealthRate(source string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.windows[source]
	if !ok {
		return 1.0
	}
	return w.rate()
}

// IsHealthy reports whether a source's success rate clears the threshold.
func (h *HealthMonitor) IsHealthy(source string) bool {
	return h.HealthRate(source) >= h.threshold
}

// Recommended names the preferred source right now. The subgraph is
// the reference authority; when it is degraded the Data API takes over,
// and when both are degraded the subgraph is retried optimistically.
func (h *HealthMonitor) Recommended() string {
	if h.IsHealthy(SourceSubgraph) {
		return SourceSubgraph
	}
	if h.IsHealthy(SourceAPI) {
		return SourceAPI
	}
	return SourceSubgraph
}

// SourceHealth is a point-in-time health snapshot for one source.
type SourceHealth struct {
	Source      string    `json:"source"`
	Healthy     bool      `json:"healthy"`
	SuccessRate float64   `json:"success_rate"`
	LastProbeAt time.Time `json:"last_probe_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Snapshot reports health for every tracked source plus the current
// recommendation.
func (h *HealthMonitor) Snapshot() (sources []SourceHealth, recommended string) {
	recommended = h.Recommended()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, name := range []string{SourceSubgraph, SourceAPI} {
		rate := 1.0
		if w, ok := h.windows[name]; ok {
			rate = w.rate()
		}
		sources = append(sources, SourceHealth{
			Source:      name,
			Healthy:     rate >= h.threshold,
			SuccessRate: rate,
			LastProbeAt: h.lastProbeAt[name],
			LastError:   h.lastErr[name],
		})
	}
	return sources, recommended
}

// Probe runs one active health check against both sources.
func (h *HealthMonitor) Probe(ctx context.Context, subgraphClient, apiClient Prober) {
	probes := []struct {
		name   string
		client Prober
	}{
		{SourceSubgraph, subgraphClient},
		{SourceAPI, apiClient},
	}
	for _, p := range probes {
		if p.client == nil {
			continue
		}
		err := p.client.Probe(ctx)
		h.mu.Lock()
		h.lastProbeAt[p.name] = time.Now().UTC()
		h.mu.Unlock()
		if err != nil {
			h.RecordFailure(p.name, err)
			h.logger.Warn("data source probe failed",
				zap.String("source", p.name),
				zap.Error(err),
			)
			continue
		}
		h.RecordSuccess(p.name)
	}
}

// RunProbeLoop probes both sources on a fixed interval until the
// context is canceled.
func (h *HealthMonitor) RunProbeLoop(ctx context.Context, interval time.Duration, subgraphClient, apiClient Prober) {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Probe(ctx, subgraphClient, apiClient)
		}
	}
}
