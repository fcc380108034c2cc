package app

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"polysentry/clients/notifier"
	"polysentry/internal/store"
	"polysentry/internal/telemetry"
)

// MonitorConfig holds the live-tunable monitor thresholds.
type MonitorConfig struct {
	PollInterval         time.Duration
	AnomalyThreshold     float64
	ProbabilityThreshold float64
	PageSize             int
	MaxItems             int
}

// Monitor is the real-time pipeline: poll, ingest, score, alert.
type Monitor struct {
	logger   *zap.Logger
	st       *store.Store
	ingestor *Ingestor
	scorer   *Scorer
	notify   notifier.Notifier

	mu  sync.RWMutex
	cfg MonitorConfig
}

func NewMonitor(logger *zap.Logger, st *store.Store, ingestor *Ingestor, scorer *Scorer, notify notifier.Notifier, cfg MonitorConfig) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &Monitor{
		logger:   logger,
		st:       st,
		ingestor: ingestor,
		scorer:   scorer,
		notify:   notify,
		cfg:      cfg,
	}
}

// UpdateConfig swaps the thresholds; the next poll picks them up.
func (m *Monitor) UpdateConfig(cfg MonitorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = m.cfg.PollInterval
	}
	m.cfg = cfg
}

func (m *Monitor) config() MonitorConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Run polls until the context is canceled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("monitor started",
		zap.Duration("pollInterval", m.config().PollInterval),
		zap.Float64("anomalyThreshold", m.config().AnomalyThreshold),
	)

	ticker := time.NewTicker(m.config().PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			if err := m.Poll(ctx); err != nil {
				m.logger.Warn("monitor poll failed", zap.Error(err))
			}
			ticker.Reset(m.config().PollInterval)
		}
	}
}

// Poll runs one monitor cycle: ingest the newest trades, score the
// backlog, and alert on anything that clears the thresholds.
func (m *Monitor) Poll(ctx context.Context) error {
	cfg := m.config()

	since := time.Now().UTC().Add(-15 * time.Minute)
	if latest, err := m.st.LatestTradeTimestamp(ctx); err == nil && !latest.IsZero() {
		since = latest
	}

	if _, err := m.ingestor.Ingest(ctx, FetchQuery{
		FromTs:   since.Unix(),
		PageSize: cfg.PageSize,
		MaxItems: cfg.MaxItems,
	}); err != nil {
		return err
	}

	if _, err := m.scorer.ScorePending(ctx, 0); err != nil {
		return err
	}

	return m.emitAlerts(ctx, cfg)
}

// emitAlerts finds newly scored trades above the thresholds and alerts
// on each at most once.
func (m *Monitor) emitAlerts(ctx context.Context, cfg MonitorConfig) error {
	scored, err := m.st.ListTopScoredTrades(ctx, store.ScoreFilter{
		MinAnomalyScore: cfg.AnomalyThreshold,
		MinProbability:  cfg.ProbabilityThreshold,
		MatchAny:        true,
		Limit:           200,
	})
	if err != nil {
		return err
	}

	for i := range scored {
		st := &scored[i]
		has, err := m.st.HasAlertForTrade(ctx, st.Trade.ID)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if err := m.alertOn(ctx, st); err != nil {
			m.logger.Warn("failed to emit alert",
				zap.Uint("tradeID", st.Trade.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (m *Monitor) alertOn(ctx context.Context, st *store.ScoredTrade) error {
	market, err := m.st.GetMarketByID(ctx, st.Trade.MarketID)
	if err != nil {
		return err
	}

	triggers, alertType := classifyAlert(st)
	severity := priorityFor(st.Score.InsiderProbability)
	now := time.Now().UTC()

	alert := &store.Alert{
		AlertID:            uuid.NewString(),
		Type:               alertType,
		Severity:           severity,
		Status:             store.AlertStatusNew,
		TradeID:            &st.Trade.ID,
		WalletAddress:      st.Trade.WalletAddress,
		ConditionID:        st.Trade.ConditionID,
		Question:           market.Question,
		AnomalyScore:       fptr(st.Score.AnomalyScore),
		InsiderProbability: fptr(st.Score.InsiderProbability),
		Context: map[string]any{
			"triggers":  triggers,
			"breakdown": map[string]any(st.Score.Breakdown),
			"side":      st.Trade.Side,
			"usdc_size": st.Trade.UsdcSize,
		},
		TriggeredAt: now,
	}
	if err := m.st.CreateAlert(ctx, alert); err != nil {
		return err
	}
	telemetry.AlertsEmitted.WithLabelValues(alertType, severity).Inc()

	m.notify.SendAlert(ctx, notifier.AlertNotification{
		AlertID:            alert.AlertID,
		Type:               alertType,
		Severity:           severity,
		WalletAddress:      st.Trade.WalletAddress,
		ConditionID:        st.Trade.ConditionID,
		Question:           market.Question,
		Side:               st.Trade.Side,
		Outcome:            st.Trade.Outcome,
		Size:               st.Trade.Size,
		UsdcSize:           st.Trade.UsdcSize,
		Price:              st.Trade.Price,
		AnomalyScore:       st.Score.AnomalyScore,
		InsiderProbability: st.Score.InsiderProbability,
		Triggers:           triggers,
		TriggeredAt:        now,
	})
	return nil
}

// classifyAlert names what fired. Multiple simultaneous triggers
// collapse into a combined alert.
func classifyAlert(st *store.ScoredTrade) (triggers []string, alertType string) {
	if st.Score.SizeZScore != nil && math.Abs(*st.Score.SizeZScore) >= 3 {
		triggers = append(triggers, store.AlertWhaleTrade)
	}
	if st.Score.TimingZScore != nil && math.Abs(*st.Score.TimingZScore) >= 2.5 {
		triggers = append(triggers, store.AlertTimingSuspicious)
	}
	if len(st.Score.MatchedPatterns) > 0 {
		triggers = append(triggers, store.AlertPatternMatch)
	}
	if len(triggers) == 0 {
		triggers = append(triggers, store.AlertAnomalyThreshold)
	}

	if len(triggers) > 1 {
		return triggers, store.AlertCombined
	}
	return triggers, triggers[0]
}
