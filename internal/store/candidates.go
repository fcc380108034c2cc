package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// CreateCandidate promotes a trade into the investigation queue. A
// trade already promoted by an earlier batch is left alone; returns
// whether a new candidate was created.
func (s *Store) CreateCandidate(ctx context.Context, c *InvestigationCandidate) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		DoNothing: true,
	}).Create(c)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create candidate for trade %d: %w", c.TradeID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetCandidate fetches one candidate by primary key.
func (s *Store) GetCandidate(ctx context.Context, id uint) (*InvestigationCandidate, error) {
	var c InvestigationCandidate
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCandidateByTradeID fetches the candidate promoted from one trade.
func (s *Store) GetCandidateByTradeID(ctx context.Context, tradeID uint) (*InvestigationCandidate, error) {
	var c InvestigationCandidate
	if err := s.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CandidateFilter narrows candidate listings.
type CandidateFilter struct {
	Status   string
	Priority string
	BatchID  string
	Limit    int
}

// ListCandidates returns candidates matching the filter, highest
// anomaly score first.
func (s *Store) ListCandidates(ctx context.Context, f CandidateFilter) ([]InvestigationCandidate, error) {
	q := s.db.WithContext(ctx).Model(&InvestigationCandidate{}).
		Order("anomaly_score DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.BatchID != "" {
		q = q.Where("batch_id = ?", f.BatchID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var candidates []InvestigationCandidate
	if err := q.Find(&candidates).Error; err != nil {
		return nil, err
	}
	return candidates, nil
}

// UpdateCandidate persists status transition fields. Transition
// legality is enforced by the investigation workflow, not here.
func (s *Store) UpdateCandidate(ctx context.Context, id uint, updates map[string]any) error {
	return s.db.WithContext(ctx).Model(&InvestigationCandidate{}).
		Where("id = ?", id).Updates(updates).Error
}

// CandidateNote is one annotation on a candidate.
type CandidateNote struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// AppendCandidateNote appends a note to the candidate's note list.
func (s *Store) AppendCandidateNote(ctx context.Context, id uint, note CandidateNote) error {
	c, err := s.GetCandidate(ctx, id)
	if err != nil {
		return err
	}

	var notes []CandidateNote
	if len(c.Notes) > 0 {
		if err := json.Unmarshal(c.Notes, &notes); err != nil {
			return fmt.Errorf("failed to decode notes for candidate %d: %w", id, err)
		}
	}
	notes = append(notes, note)

	raw, err := json.Marshal(notes)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(c).Update("notes", datatypes.JSON(raw)).Error
}

// MergeCandidateEvidence folds new evidence entries into the
// candidate's evidence bag. Existing keys are overwritten.
func (s *Store) MergeCandidateEvidence(ctx context.Context, id uint, evidence map[string]any) error {
	c, err := s.GetCandidate(ctx, id)
	if err != nil {
		return err
	}
	merged := make(map[string]any, len(c.Evidence)+len(evidence))
	for k, v := range c.Evidence {
		merged[k] = v
	}
	for k, v := range evidence {
		merged[k] = v
	}
	return s.db.WithContext(ctx).Model(c).Update("evidence", datatypes.JSONMap(merged)).Error
}

// ListRelatedCandidates returns other candidates sharing the wallet or
// the market, highest probability first.
func (s *Store) ListRelatedCandidates(ctx context.Context, walletAddress string, marketID, excludeID uint, limit int) ([]InvestigationCandidate, error) {
	q := s.db.WithContext(ctx).Model(&InvestigationCandidate{}).
		Where("id <> ?", excludeID).
		Where("wallet_address = ? OR market_id = ?", walletAddress, marketID).
		Order("insider_probability DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var candidates []InvestigationCandidate
	if err := q.Find(&candidates).Error; err != nil {
		return nil, err
	}
	return candidates, nil
}

// CountCandidatesByStatus returns candidate counts keyed by status.
func (s *Store) CountCandidatesByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&InvestigationCandidate{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
