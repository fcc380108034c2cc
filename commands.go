package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	clts "polysentry/clients"
	"polysentry/config"
	"polysentry/internal/app"
	"polysentry/internal/store"
)

// env bundles the shared dependencies every command needs.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	clients *clts.Clients
	st      *store.Store
}

func initEnv() (*env, error) {
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.IsProd {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	clients := clts.NewClients(logger, cfg)
	st, err := store.Connect(logger, cfg)
	if err != nil {
		_ = clients.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &env{cfg: cfg, logger: logger, clients: clients, st: st}, nil
}

func (e *env) close() {
	if e.st != nil {
		_ = e.st.Close()
	}
	if e.clients != nil {
		_ = e.clients.Close()
	}
	_ = e.logger.Sync()
}

// runEnv wraps a command body with environment setup, teardown and a
// signal-aware context.
func runEnv(fn func(ctx context.Context, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		e, err := initEnv()
		if err != nil {
			return err
		}
		defer e.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return fn(ctx, e)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func parseID(arg string) (uint, error) {
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid candidate id %q", arg)
	}
	return uint(n), nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "polysentry",
		Short:         "Insider trading detection for Polymarket",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newServeCommand(),
		newSyncMarketsCommand(),
		newIngestCommand(),
		newBaselinesCommand(),
		newScoreCommand(),
		newResolveCommand(),
		newDiscoverCommand(),
		newCandidatesCommand(),
		newBackfillWalletCommand(),
		newFeedbackCommand(),
		newHealthCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the full detection service",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			liveConfig := config.NewLiveConfig(e.cfg)
			runner := app.NewRunner(e.clients, liveConfig, e.st)
			return runner.Run(ctx)
		}),
	}
}

func newSyncMarketsCommand() *cobra.Command {
	var limit int
	var includeClosed bool

	cmd := &cobra.Command{
		Use:   "sync-markets",
		Short: "Sync market metadata from the gamma API",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			runner := app.NewRunner(e.clients, config.NewLiveConfig(e.cfg), e.st)
			ingestor, _, _, _, _ := runner.Components()

			synced, err := ingestor.SyncTopMarkets(ctx, limit, includeClosed)
			if err != nil {
				return err
			}
			promoted, err := ingestor.EnrichStubMarkets(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"synced":         synced,
				"stubs_promoted": promoted,
			})
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "markets to sync")
	cmd.Flags().BoolVar(&includeClosed, "include-closed", false, "include closed markets")
	return cmd
}

func newIngestCommand() *cobra.Command {
	var market, wallet, source string
	var max int
	var since time.Duration
	var failover bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one trade ingestion pass",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			if source != "" && source != app.SourceAPI && source != app.SourceSubgraph {
				return fmt.Errorf("invalid source %q, want api or subgraph", source)
			}
			e.cfg.Ingest.Failover = failover

			runner := app.NewRunner(e.clients, config.NewLiveConfig(e.cfg), e.st)
			ingestor, _, _, _, _ := runner.Components()

			q := app.FetchQuery{
				Source:   source,
				Market:   market,
				Wallet:   wallet,
				PageSize: e.cfg.Ingest.PageSize,
				MaxItems: max,
			}
			if since > 0 {
				q.FromTs = time.Now().UTC().Add(-since).Unix()
			}
			stats, err := ingestor.Ingest(ctx, q)
			if err != nil {
				return err
			}
			return printJSON(stats)
		}),
	}
	cmd.Flags().StringVar(&market, "market", "", "restrict to one condition id")
	cmd.Flags().StringVar(&wallet, "wallet", "", "restrict to one wallet address")
	cmd.Flags().StringVar(&source, "source", "", "force a source: api or subgraph")
	cmd.Flags().IntVar(&max, "max", 5000, "maximum trades to pull")
	cmd.Flags().DurationVar(&since, "since", 0, "lookback window, e.g. 24h (subgraph only)")
	cmd.Flags().BoolVar(&failover, "failover", true, "retry on the other source when the primary fails")
	return cmd
}

func newBaselinesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baselines",
		Short: "Show the statistical baselines",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			op := app.NewOperator(e.logger, e.st, nil)
			rows, err := op.BaselineSummaries(ctx)
			if err != nil {
				return err
			}
			return printJSON(rows)
		}),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "recompute",
		Short: "Recompute baselines from stored trades",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			engine := app.NewBaselineEngine(e.logger, e.st, e.cfg.Baselines.MinSamples)
			stats, err := engine.Recompute(ctx)
			if err != nil {
				return err
			}
			return printJSON(stats)
		}),
	})
	return cmd
}

func newScoreCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score unscored trades",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			patterns := app.NewPatternEngine(e.logger, e.st)
			if err := patterns.EnsureSeedPatterns(ctx); err != nil {
				return err
			}
			scorer := app.NewScorer(e.logger, e.st, patterns)
			stats, err := scorer.ScorePending(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(stats)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum trades to score")
	return cmd
}

func newResolveCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Sweep ended markets for resolutions and label trade outcomes",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			resolver := app.NewResolver(e.logger, e.st, e.clients.DataAPI)
			stats, err := resolver.Sweep(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(stats)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "markets to check")
	return cmd
}

func newDiscoverCommand() *cobra.Command {
	var anomaly, probability, minProfit float64
	var limit int
	var notes string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Promote top scored trades into the investigation queue",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			p := app.DiscoveryParams{
				AnomalyThreshold:     anomaly,
				ProbabilityThreshold: probability,
				Limit:                limit,
				Notes:                notes,
			}
			if minProfit > 0 {
				p.MinProfit = &minProfit
			}
			result, err := app.NewDiscovery(e.logger, e.st).Run(ctx, p)
			if err != nil {
				return err
			}
			return printJSON(result)
		}),
	}
	cmd.Flags().Float64Var(&anomaly, "anomaly", 0.5, "minimum anomaly score")
	cmd.Flags().Float64Var(&probability, "probability", 0.5, "minimum insider probability")
	cmd.Flags().Float64Var(&minProfit, "min-profit", 0, "minimum realized profit in USDC")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum candidates per run")
	cmd.Flags().StringVar(&notes, "notes", "", "note attached to the discovery batch")
	return cmd
}

func newCandidatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Manage the investigation queue",
	}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List investigation candidates",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			op := app.NewOperator(e.logger, e.st, nil)
			rows, err := op.CandidateSummaries(ctx, status, limit)
			if err != nil {
				return err
			}
			return printJSON(rows)
		}),
	}
	list.Flags().StringVar(&status, "status", "", "filter by status")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	var assignee string
	start := &cobra.Command{
		Use:   "start <id>",
		Short: "Begin investigating a candidate",
		Args:  cobra.ExactArgs(1),
	}
	start.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runEnv(func(ctx context.Context, e *env) error {
			c, err := app.NewInvestigation(e.logger, e.st).Start(ctx, id, assignee)
			if err != nil {
				return err
			}
			return printJSON(c)
		})(cmd, nil)
	}
	start.Flags().StringVar(&assignee, "assignee", "", "analyst taking the case")

	var source string
	resolve := &cobra.Command{
		Use:   "resolve <id> <confirmed_insider|likely_insider|not_insider>",
		Short: "Record the outcome of an investigation",
		Args:  cobra.ExactArgs(2),
	}
	resolve.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runEnv(func(ctx context.Context, e *env) error {
			c, err := app.NewInvestigation(e.logger, e.st).Resolve(ctx, id, args[1], source)
			if err != nil {
				return err
			}
			return printJSON(c)
		})(cmd, nil)
	}
	resolve.Flags().StringVar(&source, "source", "", "how the outcome was confirmed")

	var reason string
	dismiss := &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Dismiss a candidate",
		Args:  cobra.ExactArgs(1),
	}
	dismiss.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runEnv(func(ctx context.Context, e *env) error {
			c, err := app.NewInvestigation(e.logger, e.st).Dismiss(ctx, id, reason)
			if err != nil {
				return err
			}
			return printJSON(c)
		})(cmd, nil)
	}
	dismiss.Flags().StringVar(&reason, "reason", "", "why the candidate is dismissed")

	var author string
	note := &cobra.Command{
		Use:   "note <id> <text>",
		Short: "Attach a note to a candidate",
		Args:  cobra.ExactArgs(2),
	}
	note.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runEnv(func(ctx context.Context, e *env) error {
			if err := app.NewInvestigation(e.logger, e.st).AddNote(ctx, id, author, args[1]); err != nil {
				return err
			}
			fmt.Println("note added")
			return nil
		})(cmd, nil)
	}
	note.Flags().StringVar(&author, "author", "", "note author")

	evidence := &cobra.Command{
		Use:   "evidence <id> <key> <value>",
		Short: "Attach an evidence entry to a candidate",
		Args:  cobra.ExactArgs(3),
	}
	evidence.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runEnv(func(ctx context.Context, e *env) error {
			if err := app.NewInvestigation(e.logger, e.st).AddEvidence(ctx, id, args[1], args[2]); err != nil {
				return err
			}
			fmt.Println("evidence recorded")
			return nil
		})(cmd, nil)
	}

	profile := &cobra.Command{
		Use:   "profile <id>",
		Short: "Show the full dossier for a candidate",
		Args:  cobra.ExactArgs(1),
	}
	profile.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runEnv(func(ctx context.Context, e *env) error {
			p, err := app.NewInvestigation(e.logger, e.st).Profile(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(p)
		})(cmd, nil)
	}

	cmd.AddCommand(list, start, resolve, dismiss, note, evidence, profile)
	return cmd
}

func newBackfillWalletCommand() *cobra.Command {
	var since time.Duration
	var max int

	cmd := &cobra.Command{
		Use:   "backfill-wallet <address>",
		Short: "Import a wallet's trade history from the activity feed",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runEnv(func(ctx context.Context, e *env) error {
			runner := app.NewRunner(e.clients, config.NewLiveConfig(e.cfg), e.st)
			ingestor, _, _, _, _ := runner.Components()

			req := app.WalletBackfillRequest{
				WalletAddress: args[0],
				PageSize:      e.cfg.Ingest.PageSize,
				MaxItems:      max,
			}
			if since > 0 {
				req.Since = time.Now().UTC().Add(-since)
			}
			backfill := app.NewWalletBackfill(e.logger, e.st, e.clients.DataAPI, ingestor)
			result, err := backfill.Run(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(result)
		})(c, nil)
	}
	cmd.Flags().DurationVar(&since, "since", 0, "lookback window, e.g. 2160h for 90 days")
	cmd.Flags().IntVar(&max, "max", 5000, "maximum activities to scan")
	return cmd
}

func newFeedbackCommand() *cobra.Command {
	var rescoreAll bool
	var batch, limit int
	var anomaly, probability float64

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Run the learning loop: recompute, validate patterns, rescore, rediscover",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			patterns := app.NewPatternEngine(e.logger, e.st)
			if err := patterns.EnsureSeedPatterns(ctx); err != nil {
				return err
			}
			baselines := app.NewBaselineEngine(e.logger, e.st, e.cfg.Baselines.MinSamples)
			scorer := app.NewScorer(e.logger, e.st, patterns)
			discovery := app.NewDiscovery(e.logger, e.st)

			fb := app.NewFeedback(e.logger, e.st, baselines, scorer, patterns, discovery)
			report, err := fb.Run(ctx, app.FeedbackParams{
				RescoreAll: rescoreAll,
				BatchSize:  batch,
				Discovery: app.DiscoveryParams{
					AnomalyThreshold:     anomaly,
					ProbabilityThreshold: probability,
					Limit:                limit,
					Notes:                "feedback cycle",
				},
			})
			if err != nil {
				return err
			}
			return printJSON(report)
		}),
	}
	cmd.Flags().BoolVar(&rescoreAll, "rescore-all", false, "rescore every trade, not just flagged ones")
	cmd.Flags().IntVar(&batch, "batch", 500, "rescore batch size")
	cmd.Flags().Float64Var(&anomaly, "anomaly", 0.5, "discovery anomaly threshold")
	cmd.Flags().Float64Var(&probability, "probability", 0.5, "discovery probability threshold")
	cmd.Flags().IntVar(&limit, "limit", 50, "discovery candidate limit")
	return cmd
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe both data sources and report their health",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			h := app.NewHealthMonitor(e.logger, e.cfg.Health.WindowSize, e.cfg.Health.HealthyThreshold)
			h.Probe(ctx, e.clients.Subgraph, e.clients.DataAPI)
			sources, recommended := h.Snapshot()
			return printJSON(map[string]any{
				"sources":            sources,
				"recommended_source": recommended,
			})
		}),
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show dataset and pipeline status",
		RunE: runEnv(func(ctx context.Context, e *env) error {
			op := app.NewOperator(e.logger, e.st, nil)
			summary, err := op.Summary(ctx)
			if err != nil {
				return err
			}
			return printJSON(summary)
		}),
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("polysentry %s (built %s)\n", app.BuildCommit, app.BuildTime)
		},
	}
}
