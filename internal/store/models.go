package store

import (
	"time"

	"gorm.io/datatypes"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Market categories. CategoryAll is the pseudo-category baselines use
// for the cross-category distribution.
const (
	CategoryPolitics      = "politics"
	CategoryCorporate     = "corporate"
	CategoryLegal         = "legal"
	CategoryCrypto        = "crypto"
	CategorySports        = "sports"
	CategoryEntertainment = "entertainment"
	CategoryScience       = "science"
	CategoryOther         = "other"
	CategoryAll           = "all"
)

// Categories lists the real market categories, excluding CategoryAll.
var Categories = []string{
	CategoryPolitics, CategoryCorporate, CategoryLegal, CategoryCrypto,
	CategorySports, CategoryEntertainment, CategoryScience, CategoryOther,
}

// Baseline metrics.
const (
	MetricSize           = "size"
	MetricUsdcSize       = "usdc_size"
	MetricTiming         = "timing"
	MetricWalletAge      = "wallet_age"
	MetricWalletActivity = "wallet_activity"
	MetricPriceExtremity = "price_extremity"
)

// Metrics lists every baseline metric.
var Metrics = []string{
	MetricSize, MetricUsdcSize, MetricTiming,
	MetricWalletAge, MetricWalletActivity, MetricPriceExtremity,
}

// StubConditionPrefix marks a market created from a bare token id,
// pending enrichment.
const StubConditionPrefix = "token_"

// Candidate statuses.
const (
	StatusUndiscovered  = "undiscovered"
	StatusInvestigating = "investigating"
	StatusResolved      = "resolved"
	StatusDismissed     = "dismissed"
)

// Candidate priorities and alert severities share the same ladder.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Alert types.
const (
	AlertPatternMatch     = "pattern_match"
	AlertAnomalyThreshold = "anomaly_threshold"
	AlertWhaleTrade       = "whale_trade"
	AlertTimingSuspicious = "timing_suspicious"
	AlertCombined         = "combined"
	AlertManual           = "manual"
)

// Alert statuses.
const (
	AlertStatusNew           = "new"
	AlertStatusAcknowledged  = "acknowledged"
	AlertStatusInvestigating = "investigating"
	AlertStatusResolved      = "resolved"
	AlertStatusDismissed     = "dismissed"
)

// Investigation resolutions.
const (
	ResolutionConfirmedInsider     = "confirmed_insider"
	ResolutionLikelyInsider        = "likely_insider"
	ResolutionNotInsider           = "not_insider"
	ResolutionInsufficientEvidence = "insufficient_evidence"
)

// Insider confidence levels.
const (
	ConfidenceSuspected = "suspected"
	ConfidenceLikely    = "likely"
	ConfidenceConfirmed = "confirmed"
)

// Market is a binary (or small-k) prediction market. A market whose
// ConditionID carries StubConditionPrefix is a stub created during
// ingestion and awaits enrichment.
type Market struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ConditionID string `gorm:"uniqueIndex;not null" json:"condition_id"`
	Question    string `json:"question"`

	Outcomes      datatypes.JSON `json:"outcomes"`       // ordered labels, native list
	OutcomePrices datatypes.JSON `json:"outcome_prices"` // native list of floats

	EndDate         *time.Time `json:"end_date"`
	ResolutionDate  *time.Time `json:"resolution_date"`
	ResolvedOutcome *string    `json:"resolved_outcome"`

	Volume    float64 `gorm:"type:decimal(20,6)" json:"volume"`
	Volume24h float64 `gorm:"type:decimal(20,6)" json:"volume_24h"`
	Liquidity float64 `gorm:"type:decimal(20,6)" json:"liquidity"`

	Category     string `gorm:"index" json:"category"`
	IsEventBased bool   `json:"is_event_based"`
	IsActive     bool   `json:"is_active"`

	Meta datatypes.JSONMap `json:"meta"` // clobTokenIds, needs_metadata, token_id

	LastSyncedAt *time.Time `json:"last_synced_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsStub reports whether the market is a placeholder pending enrichment.
func (m *Market) IsStub() bool {
	return len(m.ConditionID) > len(StubConditionPrefix) &&
		m.ConditionID[:len(StubConditionPrefix)] == StubConditionPrefix
}

// Wallet is an address that has placed at least one trade. Aggregates
// are eventually consistent; RefreshWalletAggregates recomputes them.
type Wallet struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Address string `gorm:"uniqueIndex;not null" json:"address"`

	TotalTrades       int     `json:"total_trades"`
	TotalVolume       float64 `gorm:"type:decimal(20,6)" json:"total_volume"`
	UniqueMarkets     int     `json:"unique_markets"`
	ResolvedPositions int     `json:"resolved_positions"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	WinRate           float64 `json:"win_rate"`

	FirstSeenAt      time.Time  `json:"first_seen_at"`
	LastSeenAt       time.Time  `json:"last_seen_at"`
	LastAggregatedAt *time.Time `json:"last_aggregated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Trade is a single fill. Append-only except for derived-metric and
// outcome updates.
type Trade struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	TransactionHash string `gorm:"uniqueIndex;not null" json:"transaction_hash"`

	MarketID uint `gorm:"index" json:"market_id"`
	WalletID uint `gorm:"index" json:"wallet_id"`

	// Denormalized for query paths that skip the joins.
	WalletAddress string `gorm:"index" json:"wallet_address"`
	ConditionID   string `json:"condition_id"`

	Side         string  `json:"side"` // BUY or SELL
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcome_index"`
	Size         float64 `gorm:"type:decimal(20,6)" json:"size"`
	Price        float64 `gorm:"type:decimal(20,6)" json:"price"`
	UsdcSize     float64 `gorm:"type:decimal(20,6)" json:"usdc_size"`

	TradeTimestamp time.Time `gorm:"index:idx_trades_ts,sort:desc" json:"trade_timestamp"`

	// Derived metrics, computed at ingest or by the resolution sweep.
	HoursBeforeResolution *float64 `json:"hours_before_resolution"`
	WalletAgeDays         *float64 `json:"wallet_age_days"`
	WalletTradeCount      int      `json:"wallet_trade_count"`
	PriceExtremity        float64  `json:"price_extremity"` // |price - 0.5|

	// Outcome labels, set once the market resolves.
	WasCorrect *bool    `json:"was_correct"`
	ProfitLoss *float64 `json:"profit_loss"`

	Meta datatypes.JSONMap `json:"meta"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Baseline is the statistical distribution of one metric within one
// market category, with a parallel insider-distribution track.
type Baseline struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Category string `gorm:"uniqueIndex:idx_baselines_category_metric" json:"category"`
	Metric   string `gorm:"uniqueIndex:idx_baselines_category_metric" json:"metric"`

	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	Median      float64 `json:"median"`
	P75         float64 `json:"p75"`
	P90         float64 `json:"p90"`
	P95         float64 `json:"p95"`
	P99         float64 `json:"p99"`
	SampleCount int     `json:"sample_count"`

	InsiderMean        *float64 `json:"insider_mean"`
	InsiderStdDev      *float64 `json:"insider_std_dev"`
	InsiderSampleCount int      `json:"insider_sample_count"`

	// Cohen's d between the insider and normal distributions.
	SeparationScore *float64 `json:"separation_score"`

	CalculatedAt time.Time `json:"calculated_at"`
}

// TradeScore is the anomaly feature vector of one trade. Z-scores are
// nullable; a null input stays null and is never coerced to zero.
type TradeScore struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	TradeID uint `gorm:"uniqueIndex;not null" json:"trade_id"`

	SizeZScore                  *float64 `json:"size_zscore"`
	TimingZScore                *float64 `json:"timing_zscore"`
	WalletAgeZScore             *float64 `json:"wallet_age_zscore"`
	WalletActivityZScore        *float64 `json:"wallet_activity_zscore"`
	PriceExtremityZScore        *float64 `json:"price_extremity_zscore"`
	PositionConcentrationZScore *float64 `json:"position_concentration_zscore"`
	FundingProximityZScore      *float64 `json:"funding_proximity_zscore"`

	AnomalyScore       float64 `json:"anomaly_score"`
	InsiderProbability float64 `json:"insider_probability"`
	TrinityPattern     bool    `json:"trinity_pattern"`

	MatchedPatterns datatypes.JSONMap `json:"matched_patterns"` // pattern name -> score
	Breakdown       datatypes.JSONMap `json:"breakdown"`        // metric -> {zscore, severity}

	ScoredAt time.Time `json:"scored_at"`
}

// Pattern is a named declarative rule evaluated against score vectors.
type Pattern struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PatternName string `gorm:"uniqueIndex;not null" json:"pattern_name"`
	Description string `json:"description"`

	Conditions datatypes.JSON `json:"conditions"` // {rules, logic, min_matches}

	AlertThreshold float64 `json:"alert_threshold"`

	TruePositives  int      `json:"true_positives"`
	FalsePositives int      `json:"false_positives"`
	Precision      *float64 `json:"precision"`
	Recall         *float64 `json:"recall"`
	F1Score        *float64 `json:"f1_score"`
	Lift           *float64 `json:"lift"`

	IsActive    bool       `json:"is_active"`
	ValidatedAt *time.Time `json:"validated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfirmedInsider is a labeled truth case feeding the insider baseline.
type ConfirmedInsider struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	WalletAddress string  `gorm:"index" json:"wallet_address"`
	ConditionID   *string `json:"condition_id"`
	TradeID       *uint   `gorm:"index" json:"trade_id"`

	ConfidenceLevel    string            `json:"confidence_level"` // suspected|likely|confirmed
	ConfirmationSource string            `json:"confirmation_source"`
	Evidence           datatypes.JSONMap `json:"evidence"`

	UsedForTraining bool    `json:"used_for_training"`
	TrainingWeight  float64 `json:"training_weight"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InvestigationCandidate is a promoted suspicious trade awaiting human
// review.
type InvestigationCandidate struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	TradeID  uint `gorm:"uniqueIndex;not null" json:"trade_id"`
	ScoreID  uint `json:"score_id"`
	MarketID uint `gorm:"index" json:"market_id"`

	DiscoveryRank      int     `json:"discovery_rank"`
	AnomalyScore       float64 `json:"anomaly_score"`
	InsiderProbability float64 `json:"insider_probability"`

	// Denormalized context for review without joins.
	WalletAddress string   `gorm:"index" json:"wallet_address"`
	ConditionID   string   `json:"condition_id"`
	Question      string   `json:"question"`
	Category      string   `json:"category"`
	Side          string   `json:"side"`
	Outcome       string   `json:"outcome"`
	Size          float64  `gorm:"type:decimal(20,6)" json:"size"`
	UsdcSize      float64  `gorm:"type:decimal(20,6)" json:"usdc_size"`
	Price         float64  `gorm:"type:decimal(20,6)" json:"price"`
	ProfitLoss    *float64 `json:"profit_loss"`

	Status     string  `gorm:"index" json:"status"` // undiscovered|investigating|resolved|dismissed
	Priority   string  `json:"priority"`            // critical|high|medium|low
	AssignedTo *string `json:"assigned_to"`
	Resolution *string `json:"resolution"`

	AnomalyBreakdown datatypes.JSONMap `json:"anomaly_breakdown"`
	Evidence         datatypes.JSONMap `json:"evidence"`
	Notes            datatypes.JSON    `json:"notes"` // list of {author, text, at}

	BatchID      string     `gorm:"index" json:"batch_id"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	ResolvedAt   *time.Time `json:"resolved_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DiscoveryBatch records one discovery run.
type DiscoveryBatch struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	BatchID string `gorm:"uniqueIndex;not null" json:"batch_id"`

	AnomalyThreshold     float64  `json:"anomaly_threshold"`
	ProbabilityThreshold float64  `json:"probability_threshold"`
	MinProfit            *float64 `json:"min_profit"`
	Limit                int      `json:"limit"`

	TradesConsidered  int      `json:"trades_considered"`
	CandidatesCreated int      `json:"candidates_created"`
	TopScore          *float64 `json:"top_score"`
	MedianScore       *float64 `json:"median_score"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Notes       string     `json:"notes"`
}

// Alert is a real-time notification emitted by the monitor.
type Alert struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	AlertID string `gorm:"uniqueIndex;not null" json:"alert_id"`

	Type     string `json:"type"`     // pattern_match|anomaly_threshold|whale_trade|timing_suspicious|combined|manual
	Severity string `json:"severity"` // low|medium|high|critical
	Status   string `gorm:"index" json:"status"`

	TradeID       *uint  `gorm:"index" json:"trade_id"`
	WalletAddress string `json:"wallet_address"`
	ConditionID   string `json:"condition_id"`
	Question      string `json:"question"`

	AnomalyScore       *float64 `json:"anomaly_score"`
	InsiderProbability *float64 `json:"insider_probability"`

	Context datatypes.JSONMap `json:"context"`

	TriggeredAt time.Time `gorm:"index" json:"triggered_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
