package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"polysentry/internal/store"
)

// Discovery promotes the highest-scoring historical trades into the
// investigation queue.
type Discovery struct {
	logger *zap.Logger
	st     *store.Store
}

func NewDiscovery(logger *zap.Logger, st *store.Store) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{logger: logger, st: st}
}

// DiscoveryParams bounds one discovery run. Discovery always restricts
// itself to winning trades on event-based markets and skips wallets
// already confirmed or queued; the params only tune the thresholds.
type DiscoveryParams struct {
	AnomalyThreshold     float64
	ProbabilityThreshold float64
	MinProfit            *float64
	Limit                int
	Notes                string
}

// DiscoveryResult reports one completed run.
type DiscoveryResult struct {
	BatchID           string  `json:"batch_id"`
	TradesConsidered  int     `json:"trades_considered"`
	CandidatesCreated int     `json:"candidates_created"`
	AlreadyPromoted   int     `json:"already_promoted"`
	TopScore          float64 `json:"top_score,omitempty"`
}

// Run scans scored trades above the thresholds and promotes new ones
// as investigation candidates. Trades promoted by an earlier batch are
// left with their original candidate.
func (d *Discovery) Run(ctx context.Context, p DiscoveryParams) (*DiscoveryResult, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}

	batchID := uuid.NewString()
	batch := &store.DiscoveryBatch{
		BatchID:              batchID,
		AnomalyThreshold:     p.AnomalyThreshold,
		ProbabilityThreshold: p.ProbabilityThreshold,
		MinProfit:            p.MinProfit,
		Limit:                p.Limit,
		StartedAt:            time.Now().UTC(),
		Notes:                p.Notes,
	}
	if err := d.st.CreateDiscoveryBatch(ctx, batch); err != nil {
		return nil, err
	}

	scored, err := d.st.ListTopScoredTrades(ctx, store.ScoreFilter{
		MinAnomalyScore: p.AnomalyThreshold,
		MinProbability:  p.ProbabilityThreshold,
		MinProfit:       p.MinProfit,
		CorrectOnly:     true,
		EventBasedOnly:  true,
		ExcludeKnown:    true,
		Limit:           p.Limit,
	})
	if err != nil {
		return nil, err
	}

	result := &DiscoveryResult{BatchID: batchID, TradesConsidered: len(scored)}
	var scores []float64
	now := time.Now().UTC()

	for rank, st := range scored {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		scores = append(scores, st.Score.AnomalyScore)

		candidate, err := d.buildCandidate(ctx, &st, rank+1, batchID, now)
		if err != nil {
			d.logger.Warn("failed to build candidate",
				zap.Uint("tradeID", st.Trade.ID),
				zap.Error(err),
			)
			continue
		}
		created, err := d.st.CreateCandidate(ctx, candidate)
		if err != nil {
			d.logger.Warn("failed to create candidate",
				zap.Uint("tradeID", st.Trade.ID),
				zap.Error(err),
			)
			continue
		}
		if created {
			result.CandidatesCreated++
		} else {
			result.AlreadyPromoted++
		}
	}

	topScore, medianScore := scoreSummary(scores)
	if topScore != nil {
		result.TopScore = *topScore
	}
	if err := d.st.CompleteDiscoveryBatch(ctx, batchID, result.TradesConsidered, result.CandidatesCreated, topScore, medianScore, time.Now().UTC()); err != nil {
		return result, err
	}

	d.logger.Info("discovery run complete",
		zap.String("batchID", batchID),
		zap.Int("considered", result.TradesConsidered),
		zap.Int("created", result.CandidatesCreated),
		zap.Int("alreadyPromoted", result.AlreadyPromoted),
	)
	return result, nil
}

func (d *Discovery) buildCandidate(ctx context.Context, st *store.ScoredTrade, rank int, batchID string, now time.Time) (*store.InvestigationCandidate, error) {
	market, err := d.st.GetMarketByID(ctx, st.Trade.MarketID)
	if err != nil {
		return nil, err
	}

	return &store.InvestigationCandidate{
		TradeID:            st.Trade.ID,
		ScoreID:            st.Score.ID,
		MarketID:           market.ID,
		DiscoveryRank:      rank,
		AnomalyScore:       st.Score.AnomalyScore,
		InsiderProbability: st.Score.InsiderProbability,
		WalletAddress:      st.Trade.WalletAddress,
		ConditionID:        st.Trade.ConditionID,
		Question:           market.Question,
		Category:           market.Category,
		Side:               st.Trade.Side,
		Outcome:            st.Trade.Outcome,
		Size:               st.Trade.Size,
		UsdcSize:           st.Trade.UsdcSize,
		Price:              st.Trade.Price,
		ProfitLoss:         st.Trade.ProfitLoss,
		Status:             store.StatusUndiscovered,
		Priority:           priorityFor(st.Score.InsiderProbability),
		AnomalyBreakdown:   st.Score.Breakdown,
		BatchID:            batchID,
		DiscoveredAt:       now,
	}, nil
}

// priorityFor buckets insider probability into review priority.
func priorityFor(probability float64) string {
	switch {
	case probability >= 0.9:
		return store.PriorityCritical
	case probability >= 0.7:
		return store.PriorityHigh
	case probability >= 0.5:
		return store.PriorityMedium
	default:
		return store.PriorityLow
	}
}

// scoreSummary returns the top and median anomaly scores of a run. The
// input arrives ranked descending.
func scoreSummary(scores []float64) (top, median *float64) {
	if len(scores) == 0 {
		return nil, nil
	}
	t := scores[0]
	m := scores[len(scores)/2]
	if len(scores)%2 == 0 {
		m = (scores[len(scores)/2-1] + scores[len(scores)/2]) / 2
	}
	return &t, &m
}
