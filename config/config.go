package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// MetricsAddr is the Prometheus listen address; empty disables the
	// metrics endpoint.
	MetricsAddr string `json:"metrics_addr"`

	// Polymarket data sources
	Polymarket PolymarketConfig `json:"polymarket"`
	Subgraph   SubgraphConfig   `json:"subgraph"`

	// Persistence
	Database DatabaseConfig `json:"-"`
	Redis    RedisConfig    `json:"-"`

	// Pipeline
	Ingest    IngestConfig    `json:"ingest"`
	Baselines BaselineConfig  `json:"baselines"`
	Monitor   MonitorConfig   `json:"monitor"`
	Discovery DiscoveryConfig `json:"discovery"`
	Feedback  FeedbackConfig  `json:"feedback"`
	Health    HealthConfig    `json:"health"`
}

// PolymarketConfig holds centralized API configuration.
type PolymarketConfig struct {
	DataAPIURL  string        `json:"data_api_url"`
	GammaAPIURL string        `json:"gamma_api_url"`
	ProxyURL    string        `json:"-"` // Egress proxy - env var only
	Timeout     time.Duration `json:"timeout"`
}

// SubgraphConfig holds Goldsky subgraph configuration.
type SubgraphConfig struct {
	URL      string        `json:"url"`
	Timeout  time.Duration `json:"timeout"`
	PageWait time.Duration `json:"page_wait"` // Courtesy delay between pages
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// RedisConfig holds pub/sub broker settings. An empty Addr disables
// broadcasting; the pipeline runs without it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// IngestConfig holds trade ingestion configuration.
type IngestConfig struct {
	PageSize     int  `json:"page_size"`
	MaxItems     int  `json:"max_items"`
	Failover     bool `json:"failover"`      // Retry via subgraph when the API fails
	SyncMarkets  int  `json:"sync_markets"`  // Markets per sync run
	SyncInactive bool `json:"sync_inactive"` // Include closed markets in sync
}

// BaselineConfig holds baseline engine configuration.
type BaselineConfig struct {
	MinSamples      int           `json:"min_samples"`
	RecomputeEvery  time.Duration `json:"recompute_every"`
	AggregatesEvery time.Duration `json:"aggregates_every"`
}

// MonitorConfig holds real-time monitor configuration.
type MonitorConfig struct {
	Enabled              bool          `json:"enabled"`
	PollInterval         time.Duration `json:"poll_interval"`
	AnomalyThreshold     float64       `json:"anomaly_threshold"`
	ProbabilityThreshold float64       `json:"probability_threshold"`
}

// DiscoveryConfig holds investigation discovery configuration.
type DiscoveryConfig struct {
	AnomalyThreshold     float64 `json:"anomaly_threshold"`
	ProbabilityThreshold float64 `json:"probability_threshold"`
	Limit                int     `json:"limit"`
}

// FeedbackConfig holds feedback loop configuration.
type FeedbackConfig struct {
	RescoreAll       bool `json:"rescore_all"`
	RescoreBatchSize int  `json:"rescore_batch_size"`
}

// HealthConfig holds data source health monitoring configuration.
type HealthConfig struct {
	ProbeInterval    time.Duration `json:"probe_interval"`
	WindowSize       int           `json:"window_size"`
	HealthyThreshold float64       `json:"healthy_threshold"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		MetricsAddr: ":9091",
		Polymarket: PolymarketConfig{
			DataAPIURL:  "https://data-api.polymarket.com",
			GammaAPIURL: "https://gamma-api.polymarket.com",
			Timeout:     30 * time.Second,
		},
		Subgraph: SubgraphConfig{
			URL:      "https://api.goldsky.com/api/public/project_cl6mb8i9h0003e201j6li0diw/subgraphs/orderbook-subgraph/prod/gn",
			Timeout:  30 * time.Second,
			PageWait: 100 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
			Name: "polysentry",
			User: "polysentry",
		},
		Ingest: IngestConfig{
			PageSize:    500,
			MaxItems:    5000,
			Failover:    true,
			SyncMarkets: 200,
		},
		Baselines: BaselineConfig{
			MinSamples:      10,
			RecomputeEvery:  6 * time.Hour,
			AggregatesEvery: 1 * time.Hour,
		},
		Monitor: MonitorConfig{
			Enabled:              true,
			PollInterval:         30 * time.Second,
			AnomalyThreshold:     0.7,
			ProbabilityThreshold: 0.7,
		},
		Discovery: DiscoveryConfig{
			AnomalyThreshold:     0.5,
			ProbabilityThreshold: 0.5,
			Limit:                50,
		},
		Feedback: FeedbackConfig{
			RescoreAll:       false,
			RescoreBatchSize: 500,
		},
		Health: HealthConfig{
			ProbeInterval:    2 * time.Minute,
			WindowSize:       10,
			HealthyThreshold: 0.8,
		},
	}
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is applied first if present.
func Load() *Config {
	_ = godotenv.Load()

	d := Defaults()
	return &Config{
		IsProd:      envBool("STAGE_PROD", false),
		MetricsAddr: envString("METRICS_ADDR", d.MetricsAddr),

		Polymarket: PolymarketConfig{
			DataAPIURL:  envString("POLYMARKET_DATA_API_URL", d.Polymarket.DataAPIURL),
			GammaAPIURL: envString("POLYMARKET_GAMMA_API_URL", d.Polymarket.GammaAPIURL),
			ProxyURL:    envString("POLYMARKET_PROXY_URL", ""),
			Timeout:     envDuration("POLYMARKET_TIMEOUT", d.Polymarket.Timeout),
		},

		Subgraph: SubgraphConfig{
			URL:      envString("SUBGRAPH_URL", d.Subgraph.URL),
			Timeout:  envDuration("SUBGRAPH_TIMEOUT", d.Subgraph.Timeout),
			PageWait: envDuration("SUBGRAPH_PAGE_WAIT", d.Subgraph.PageWait),
		},

		Database: DatabaseConfig{
			Host:     envString("DB_HOST", d.Database.Host),
			Port:     envInt("DB_PORT", d.Database.Port),
			Name:     envString("DB_NAME", d.Database.Name),
			User:     envString("DB_USER", d.Database.User),
			Password: envString("DB_PASSWORD", ""),
		},

		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", ""),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},

		Ingest: IngestConfig{
			PageSize:     envInt("INGEST_PAGE_SIZE", d.Ingest.PageSize),
			MaxItems:     envInt("INGEST_MAX_ITEMS", d.Ingest.MaxItems),
			Failover:     envBool("INGEST_FAILOVER", true),
			SyncMarkets:  envInt("SYNC_MARKETS_COUNT", d.Ingest.SyncMarkets),
			SyncInactive: envBool("SYNC_INACTIVE_MARKETS", false),
		},

		Baselines: BaselineConfig{
			MinSamples:      envInt("BASELINE_MIN_SAMPLES", d.Baselines.MinSamples),
			RecomputeEvery:  envDuration("BASELINE_RECOMPUTE_EVERY", d.Baselines.RecomputeEvery),
			AggregatesEvery: envDuration("WALLET_AGGREGATES_EVERY", d.Baselines.AggregatesEvery),
		},

		Monitor: MonitorConfig{
			Enabled:              envBool("MONITOR_ENABLED", true),
			PollInterval:         envDuration("MONITOR_POLL_INTERVAL", d.Monitor.PollInterval),
			AnomalyThreshold:     envFloat("MONITOR_ANOMALY_THRESHOLD", d.Monitor.AnomalyThreshold),
			ProbabilityThreshold: envFloat("MONITOR_PROBABILITY_THRESHOLD", d.Monitor.ProbabilityThreshold),
		},

		Discovery: DiscoveryConfig{
			AnomalyThreshold:     envFloat("DISCOVERY_ANOMALY_THRESHOLD", d.Discovery.AnomalyThreshold),
			ProbabilityThreshold: envFloat("DISCOVERY_PROBABILITY_THRESHOLD", d.Discovery.ProbabilityThreshold),
			Limit:                envInt("DISCOVERY_LIMIT", d.Discovery.Limit),
		},

		Feedback: FeedbackConfig{
			RescoreAll:       envBool("FEEDBACK_RESCORE_ALL", false),
			RescoreBatchSize: envInt("FEEDBACK_RESCORE_BATCH", d.Feedback.RescoreBatchSize),
		},

		Health: HealthConfig{
			ProbeInterval:    envDuration("HEALTH_PROBE_INTERVAL", d.Health.ProbeInterval),
			WindowSize:       envInt("HEALTH_WINDOW_SIZE", d.Health.WindowSize),
			HealthyThreshold: envFloat("HEALTH_HEALTHY_THRESHOLD", d.Health.HealthyThreshold),
		},
	}
}

// Clone returns a copy of the config. All nested sections are value
// types, so a shallow copy is a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// ---- env helpers ----

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return fallback
}
