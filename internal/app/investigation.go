package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"polysentry/internal/store"
)

// Investigation drives the candidate review workflow. Transitions are
// one-way: undiscovered -> investigating -> resolved, with dismissal
// allowed from either live state.
type Investigation struct {
	logger *zap.Logger
	st     *store.Store
}

func NewInvestigation(logger *zap.Logger, st *store.Store) *Investigation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Investigation{logger: logger, st: st}
}

// Start moves a candidate into active investigation.
func (v *Investigation) Start(ctx context.Context, candidateID uint, assignee string) (*store.InvestigationCandidate, error) {
	c, err := v.st.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status != store.StatusUndiscovered {
		return nil, fmt.Errorf("cannot start investigation from status %q", c.Status)
	}

	updates := map[string]any{"status": store.StatusInvestigating}
	if assignee != "" {
		updates["assigned_to"] = assignee
	}
	if err := v.st.UpdateCandidate(ctx, c.ID, updates); err != nil {
		return nil, err
	}

	v.logger.Info("investigation started",
		zap.Uint("candidateID", c.ID),
		zap.String("wallet", shortID(c.WalletAddress)),
		zap.String("assignee", nz(assignee, "unassigned")),
	)
	return v.st.GetCandidate(ctx, c.ID)
}

// Resolution outcomes that label the wallet as an insider.
func resolutionConfidence(resolution string) (string, bool) {
	switch resolution {
	case store.ResolutionConfirmedInsider:
		return store.ConfidenceConfirmed, true
	case store.ResolutionLikelyInsider:
		return store.ConfidenceLikely, true
	default:
		return "", false
	}
}

func validResolution(resolution string) bool {
	switch resolution {
	case store.ResolutionConfirmedInsider,
		store.ResolutionLikelyInsider,
		store.ResolutionNotInsider,
		store.ResolutionInsufficientEvidence:
		return true
	}
	return false
}

// Resolve closes an active investigation. A confirmed or likely
// insider resolution labels the wallet; the next feedback cycle folds
// the label into the training set.
func (v *Investigation) Resolve(ctx context.Context, candidateID uint, resolution, source string) (*store.InvestigationCandidate, error) {
	if !validResolution(resolution) {
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}

	c, err := v.st.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status != store.StatusInvestigating {
		return nil, fmt.Errorf("cannot resolve from status %q", c.Status)
	}

	now := time.Now().UTC()
	if err := v.st.UpdateCandidate(ctx, c.ID, map[string]any{
		"status":      store.StatusResolved,
		"resolution":  resolution,
		"resolved_at": now,
	}); err != nil {
		return nil, err
	}

	if confidence, insider := resolutionConfidence(resolution); insider {
		ci := &store.ConfirmedInsider{
			WalletAddress:      c.WalletAddress,
			ConditionID:        &c.ConditionID,
			TradeID:            &c.TradeID,
			ConfidenceLevel:    confidence,
			ConfirmationSource: nz(source, "investigation"),
			Evidence: map[string]any{
				"candidate_id":        c.ID,
				"anomaly_score":       c.AnomalyScore,
				"insider_probability": c.InsiderProbability,
			},
		}
		if err := v.st.CreateConfirmedInsider(ctx, ci); err != nil {
			return nil, err
		}
		v.logger.Info("wallet labeled as insider",
			zap.String("wallet", shortID(c.WalletAddress)),
			zap.String("confidence", confidence),
		)
	}

	v.logger.Info("investigation resolved",
		zap.Uint("candidateID", c.ID),
		zap.String("resolution", resolution),
	)
	return v.st.GetCandidate(ctx, c.ID)
}

// Dismiss drops a candidate without a verdict. Allowed before or
// during investigation, never after resolution.
func (v *Investigation) Dismiss(ctx context.Context, candidateID uint, reason string) (*store.InvestigationCandidate, error) {
	c, err := v.st.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status != store.StatusUndiscovered && c.Status != store.StatusInvestigating {
		return nil, fmt.Errorf("cannot dismiss from status %q", c.Status)
	}

	now := time.Now().UTC()
	if err := v.st.UpdateCandidate(ctx, c.ID, map[string]any{
		"status":      store.StatusDismissed,
		"resolved_at": now,
	}); err != nil {
		return nil, err
	}
	if reason != "" {
		if err := v.st.AppendCandidateNote(ctx, c.ID, store.CandidateNote{
			Author: "system",
			Text:   "dismissed: " + reason,
			At:     now,
		}); err != nil {
			return nil, err
		}
	}
	return v.st.GetCandidate(ctx, c.ID)
}

// AddNote appends an analyst annotation to a candidate.
func (v *Investigation) AddNote(ctx context.Context, candidateID uint, author, text string) error {
	if text == "" {
		return fmt.Errorf("note text is empty")
	}
	return v.st.AppendCandidateNote(ctx, candidateID, store.CandidateNote{
		Author: nz(author, "analyst"),
		Text:   text,
		At:     time.Now().UTC(),
	})
}

// AddEvidence records one evidence entry on a candidate. An existing
// entry under the same key is replaced.
func (v *Investigation) AddEvidence(ctx context.Context, candidateID uint, key string, value any) error {
	if key == "" {
		return fmt.Errorf("evidence key is empty")
	}
	return v.st.MergeCandidateEvidence(ctx, candidateID, map[string]any{key: value})
}

// WalletProfile summarizes the candidate wallet's history.
type WalletProfile struct {
	Address       string    `json:"address"`
	TotalTrades   int       `json:"total_trades"`
	TotalVolume   float64   `json:"total_volume"`
	UniqueMarkets int       `json:"unique_markets"`
	WinRate       float64   `json:"win_rate"`
	TotalProfit   float64   `json:"total_profit"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	AccountAge    *float64  `json:"account_age_days"`
}

// RiskAssessment names the factors that make a candidate worth the
// analyst's time.
type RiskAssessment struct {
	Factors []string `json:"factors"`
	Level   string   `json:"level"`
}

// InvestigationProfile is the full dossier for one candidate.
type InvestigationProfile struct {
	Candidate         *store.InvestigationCandidate  `json:"candidate"`
	Wallet            WalletProfile                  `json:"wallet"`
	MarketVolume      float64                        `json:"market_volume"`
	RelatedTrades     []store.Trade                  `json:"related_trades"`
	MarketSuspects    []store.ScoredTrade            `json:"market_suspects"`
	SimilarCandidates []store.InvestigationCandidate `json:"similar_candidates"`
	Risk              RiskAssessment                 `json:"risk"`
}

// Profile assembles the investigation dossier: the wallet's history,
// its other trades, suspicious activity on the same market, and other
// candidates tied to the wallet or market.
func (v *Investigation) Profile(ctx context.Context, candidateID uint) (*InvestigationProfile, error) {
	c, err := v.st.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}

	wallet, err := v.st.GetWalletByAddress(ctx, c.WalletAddress)
	if err != nil {
		return nil, err
	}
	profit, err := v.st.WalletProfitLoss(ctx, c.WalletAddress)
	if err != nil {
		return nil, err
	}
	wp := WalletProfile{
		Address:       wallet.Address,
		TotalTrades:   wallet.TotalTrades,
		TotalVolume:   wallet.TotalVolume,
		UniqueMarkets: wallet.UniqueMarkets,
		WinRate:       wallet.WinRate,
		TotalProfit:   profit,
		FirstSeenAt:   wallet.FirstSeenAt,
		LastSeenAt:    wallet.LastSeenAt,
	}
	if !wallet.FirstSeenAt.IsZero() {
		age := time.Since(wallet.FirstSeenAt).Hours() / 24
		wp.AccountAge = &age
	}

	marketVolume, err := v.st.WalletMarketVolume(ctx, wallet.ID, c.MarketID)
	if err != nil {
		return nil, err
	}
	related, err := v.st.ListTradesForWallet(ctx, c.WalletAddress, 50)
	if err != nil {
		return nil, err
	}
	suspects, err := v.st.ListSuspiciousTradesOnMarket(ctx, c.MarketID, 0.5, c.TradeID, 20)
	if err != nil {
		return nil, err
	}
	similar, err := v.st.ListRelatedCandidates(ctx, c.WalletAddress, c.MarketID, c.ID, 10)
	if err != nil {
		return nil, err
	}

	return &InvestigationProfile{
		Candidate:         c,
		Wallet:            wp,
		MarketVolume:      marketVolume,
		RelatedTrades:     related,
		MarketSuspects:    suspects,
		SimilarCandidates: similar,
		Risk:              assessRisk(c, &wp, len(suspects), len(similar)),
	}, nil
}

// assessRisk derives the review urgency from the dossier.
func assessRisk(c *store.InvestigationCandidate, wp *WalletProfile, marketSuspects, similarCandidates int) RiskAssessment {
	var factors []string
	if c.InsiderProbability >= 0.7 {
		factors = append(factors, "high insider probability")
	}
	if c.AnomalyScore >= 0.7 {
		factors = append(factors, "extreme anomaly score")
	}
	if wp.AccountAge != nil && *wp.AccountAge < 30 {
		factors = append(factors, "fresh wallet")
	}
	if wp.TotalTrades > 0 && wp.TotalTrades <= 5 {
		factors = append(factors, "thin trading history")
	}
	if c.ProfitLoss != nil && *c.ProfitLoss >= 10000 {
		factors = append(factors, "large realized profit")
	}
	if marketSuspects > 0 {
		factors = append(factors, "other suspicious trades on the same market")
	}
	if similarCandidates > 0 {
		factors = append(factors, "linked candidates on the same wallet or market")
	}

	level := "low"
	switch {
	case len(factors) >= 5:
		level = "critical"
	case len(factors) >= 3:
		level = "high"
	case len(factors) >= 2:
		level = "medium"
	}
	return RiskAssessment{Factors: factors, Level: level}
}
