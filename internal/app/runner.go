package app

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	clts "polysentry/clients"
	"polysentry/config"
	"polysentry/internal/store"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner assembles the pipeline and drives the long-running service:
// the health probe loop, the periodic jobs and the real-time monitor.
type Runner struct {
	clients    *clts.Clients
	liveConfig *config.LiveConfig
	st         *store.Store

	health   *HealthMonitor
	mapper   *TokenMapper
	fetcher  *TradeFetcher
	ingestor *Ingestor
	baseline *BaselineEngine
	patterns *PatternEngine
	scorer   *Scorer
	resolver *Resolver
	monitor  *Monitor

	cron      *cron.Cron
	startTime time.Time
}

func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig, st *store.Store) *Runner {
	return &Runner{
		clients:    clients,
		liveConfig: liveConfig,
		st:         st,
	}
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.clients.Logger.Info("config update received, propagating to components")
	if r.monitor != nil {
		r.monitor.UpdateConfig(MonitorConfig{
			PollInterval:         cfg.Monitor.PollInterval,
			AnomalyThreshold:     cfg.Monitor.AnomalyThreshold,
			ProbabilityThreshold: cfg.Monitor.ProbabilityThreshold,
			PageSize:             cfg.Ingest.PageSize,
			MaxItems:             cfg.Ingest.MaxItems,
		})
	}
}

// Components builds the pipeline without starting any loops. The CLI
// commands use this for one-shot runs.
func (r *Runner) Components() (*Ingestor, *BaselineEngine, *Scorer, *Resolver, *HealthMonitor) {
	r.build()
	return r.ingestor, r.baseline, r.scorer, r.resolver, r.health
}

func (r *Runner) build() {
	if r.health != nil {
		return
	}
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	r.health = NewHealthMonitor(logger, cfg.Health.WindowSize, cfg.Health.HealthyThreshold)
	r.mapper = NewTokenMapper(logger)
	r.fetcher = NewTradeFetcher(logger, r.clients.DataAPI, r.clients.Subgraph, r.health, r.clients.Bus, cfg.Ingest.Failover)
	r.ingestor = NewIngestor(logger, r.st, r.fetcher, r.mapper, r.clients.DataAPI)
	r.baseline = NewBaselineEngine(logger, r.st, cfg.Baselines.MinSamples)
	r.patterns = NewPatternEngine(logger, r.st)
	r.scorer = NewScorer(logger, r.st, r.patterns)
	r.resolver = NewResolver(logger, r.st, r.clients.DataAPI)
	r.monitor = NewMonitor(logger, r.st, r.ingestor, r.scorer, r.clients.Notifier, MonitorConfig{
		PollInterval:         cfg.Monitor.PollInterval,
		AnomalyThreshold:     cfg.Monitor.AnomalyThreshold,
		ProbabilityThreshold: cfg.Monitor.ProbabilityThreshold,
		PageSize:             cfg.Ingest.PageSize,
		MaxItems:             cfg.Ingest.MaxItems,
	})
}

// Run starts the service and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)

	r.build()

	logger.Info("starting insider detection service",
		zap.String("commit", BuildCommit),
		zap.Duration("pollInterval", cfg.Monitor.PollInterval),
		zap.Bool("failover", cfg.Ingest.Failover),
	)

	if err := r.patterns.EnsureSeedPatterns(ctx); err != nil {
		return err
	}

	// Warm the token map so subgraph fills resolve on the first poll.
	warmCtx, warmCancel := context.WithTimeout(ctx, 2*time.Minute)
	if _, err := r.mapper.RefreshFromGamma(warmCtx, r.clients.DataAPI, cfg.Ingest.SyncMarkets, cfg.Ingest.SyncInactive); err != nil {
		logger.Warn("initial gamma token refresh failed", zap.Error(err))
	}
	if _, err := r.mapper.RefreshFromSubgraph(warmCtx, r.clients.Subgraph, 0); err != nil {
		logger.Warn("initial subgraph token refresh failed", zap.Error(err))
	}
	warmCancel()

	go r.health.RunProbeLoop(ctx, cfg.Health.ProbeInterval, r.clients.Subgraph, r.clients.DataAPI)

	if cfg.MetricsAddr != "" {
		go r.serveMetrics(ctx, cfg.MetricsAddr)
	}

	if err := r.startJobs(ctx, cfg); err != nil {
		return err
	}

	if cfg.Monitor.Enabled {
		go r.monitor.Run(ctx)
	} else {
		logger.Info("real-time monitor disabled")
	}

	<-ctx.Done()
	logger.Info("runner shutting down")

	if r.cron != nil {
		stopCtx := r.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(10 * time.Second):
			logger.Warn("timed out waiting for running jobs")
		}
	}
	return nil
}

// startJobs schedules the periodic maintenance work.
func (r *Runner) startJobs(ctx context.Context, cfg *config.Config) error {
	logger := r.clients.Logger
	r.cron = cron.New()

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"market_sync", "@every 30m", func(jctx context.Context) error {
			_, err := r.ingestor.SyncTopMarkets(jctx, cfg.Ingest.SyncMarkets, cfg.Ingest.SyncInactive)
			return err
		}},
		{"stub_enrichment", "@every 1h", func(jctx context.Context) error {
			if _, err := r.mapper.RefreshFromSubgraph(jctx, r.clients.Subgraph, 0); err != nil {
				return err
			}
			_, err := r.ingestor.EnrichStubMarkets(jctx, 200)
			return err
		}},
		{"resolution_sweep", "@every 1h", func(jctx context.Context) error {
			_, err := r.resolver.Sweep(jctx, 200)
			return err
		}},
		{"wallet_aggregates", "@every 1h", func(jctx context.Context) error {
			return r.refreshStaleWallets(jctx, cfg.Baselines.AggregatesEvery)
		}},
		{"baseline_recompute", "@every 6h", func(jctx context.Context) error {
			if _, err := r.baseline.Recompute(jctx); err != nil {
				return err
			}
			return r.scorer.RefreshBaselines(jctx)
		}},
	}

	for _, j := range jobs {
		j := j
		_, err := r.cron.AddFunc(j.spec, func() {
			jctx, cancel := context.WithTimeout(ctx, 20*time.Minute)
			defer cancel()
			if err := j.run(jctx); err != nil {
				logger.Warn("scheduled job failed",
					zap.String("job", j.name),
					zap.Error(err),
				)
			}
		})
		if err != nil {
			return err
		}
		logger.Info("job scheduled", zap.String("job", j.name), zap.String("spec", j.spec))
	}

	r.cron.Start()
	return nil
}

// serveMetrics exposes the Prometheus registry until the context ends.
func (r *Runner) serveMetrics(ctx context.Context, addr string) {
	logger := r.clients.Logger

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics endpoint failed", zap.Error(err))
	}
}

// refreshStaleWallets recomputes aggregates for wallets whose rollups
// have gone stale.
func (r *Runner) refreshStaleWallets(ctx context.Context, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	wallets, err := r.st.ListStaleWallets(ctx, time.Now().UTC().Add(-maxAge), 500)
	if err != nil {
		return err
	}
	for i := range wallets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.st.RefreshWalletAggregates(ctx, wallets[i].ID); err != nil {
			r.clients.Logger.Warn("failed to refresh wallet aggregates",
				zap.String("wallet", shortID(wallets[i].Address)),
				zap.Error(err),
			)
		}
	}
	if len(wallets) > 0 {
		r.clients.Logger.Debug("wallet aggregates refreshed", zap.Int("wallets", len(wallets)))
	}
	return nil
}
