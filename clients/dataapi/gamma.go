package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrAmbiguousResolution is returned when more than one outcome reports
// a winning price. The market stays unresolved rather than guessing.
var ErrAmbiguousResolution = errors.New("ambiguous resolution: multiple outcomes priced as winner")

// resolvedPrice is the price above which an outcome is considered the
// winner of a closed market.
const resolvedPrice = 0.99

// GammaMarket is a market record from the gamma API. Outcomes,
// OutcomePrices and ClobTokenIDs arrive either as native JSON lists or
// as JSON strings containing lists, so they are kept raw and parsed on
// demand.
type GammaMarket struct {
	ID            string          `json:"id"`
	Slug          string          `json:"slug"`
	Question      string          `json:"question"`
	ConditionID   string          `json:"conditionId"`
	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	ClobTokenIDs  json.RawMessage `json:"clobTokenIds"`
	Events        json.RawMessage `json:"events"`

	Volume     float64 `json:"volumeNum"`
	Volume24hr float64 `json:"volume24hr"`
	Liquidity  float64 `json:"liquidityNum"`

	Active bool `json:"active"`
	Closed bool `json:"closed"`

	EndDate         string `json:"endDate"`
	ClosedTime      string `json:"closedTime"`
	ResolvedOutcome string `json:"resolvedOutcome"`
}

// GammaEvent is an event record from the gamma API; markets nest inside.
type GammaEvent struct {
	ID      string        `json:"id"`
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	Markets []GammaMarket `json:"markets"`
}

// MarketQuery filters GET /markets.
type MarketQuery struct {
	Active    *bool
	Closed    *bool
	Order     string
	Ascending bool
	Limit     int
	Offset    int
	Query     string
}

// GetMarkets fetches a page of markets from the gamma API.
func (c *Client) GetMarkets(ctx context.Context, q MarketQuery) ([]GammaMarket, error) {
	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gamma api url: %w", err)
	}
	u.Path = "/markets"

	v := u.Query()
	if q.Active != nil {
		v.Set("active", strconv.FormatBool(*q.Active))
	}
	if q.Closed != nil {
		v.Set("closed", strconv.FormatBool(*q.Closed))
	}
	if q.Order != "" {
		v.Set("order", q.Order)
		v.Set("ascending", strconv.FormatBool(q.Ascending))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Query != "" {
		v.Set("_q", q.Query)
	}
	u.RawQuery = v.Encode()

	var markets []GammaMarket
	if err := c.doGet(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}
	return markets, nil
}

// GetMarketByConditionID fetches a single market by its condition id.
func (c *Client) GetMarketByConditionID(ctx context.Context, conditionID string) (*GammaMarket, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}

	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gamma api url: %w", err)
	}
	u.Path = "/markets"

	v := u.Query()
	v.Set("condition_id", conditionID)
	v.Set("limit", "1")
	u.RawQuery = v.Encode()

	var markets []GammaMarket
	if err := c.doGet(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("get market by condition: %w", err)
	}
	if len(markets) == 0 {
		return nil, &APIError{Kind: KindNotFound, URL: u.String()}
	}
	return &markets[0], nil
}

// GetEvents fetches a page of events.
func (c *Client) GetEvents(ctx context.Context, limit, offset int) ([]GammaEvent, error) {
	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gamma api url: %w", err)
	}
	u.Path = "/events"

	v := u.Query()
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		v.Set("offset", strconv.Itoa(offset))
	}
	u.RawQuery = v.Encode()

	var events []GammaEvent
	if err := c.doGet(ctx, u.String(), &events); err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	return events, nil
}

// GetOutcomes parses the Outcomes field into labels.
func (m *GammaMarket) GetOutcomes() []string {
	return parseStringList(m.Outcomes)
}

// GetOutcomePrices parses the OutcomePrices field. Prices arrive as
// strings ("0" <= p <= "1") or floats, nested or not.
func (m *GammaMarket) GetOutcomePrices() []float64 {
	raw := m.OutcomePrices
	if len(raw) == 0 {
		return nil
	}

	var prices []float64
	if err := json.Unmarshal(raw, &prices); err == nil {
		return prices
	}

	strs := parseStringList(raw)
	if strs == nil {
		return nil
	}
	prices = make([]float64, 0, len(strs))
	for _, s := range strs {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		prices = append(prices, f)
	}
	return prices
}

// IsEventBased reports whether the market hangs off a gamma event.
func (m *GammaMarket) IsEventBased() bool {
	if len(m.Events) == 0 {
		return false
	}
	var refs []json.RawMessage
	if err := json.Unmarshal(m.Events, &refs); err != nil {
		return false
	}
	return len(refs) > 0
}

// GetTokenIDs parses the ClobTokenIds field into per-outcome token ids,
// one decimal string per outcome.
func (m *GammaMarket) GetTokenIDs() []string {
	return parseStringList(m.ClobTokenIDs)
}

// WinningOutcome determines the resolved outcome of a closed market.
// Returns ("", -1, nil) when the market is not resolved, and
// ErrAmbiguousResolution when more than one outcome is priced above the
// winning threshold.
func (m *GammaMarket) WinningOutcome() (string, int, error) {
	if !m.Closed {
		return "", -1, nil
	}

	outcomes := m.GetOutcomes()

	if m.ResolvedOutcome != "" {
		for i, o := range outcomes {
			if o == m.ResolvedOutcome {
				return o, i, nil
			}
		}
		return m.ResolvedOutcome, 0, nil
	}

	prices := m.GetOutcomePrices()
	if len(prices) == 0 || len(prices) != len(outcomes) {
		return "", -1, nil
	}

	winnerIdx := -1
	for i, p := range prices {
		if p > resolvedPrice {
			if winnerIdx >= 0 {
				return "", -1, ErrAmbiguousResolution
			}
			winnerIdx = i
		}
	}
	if winnerIdx < 0 {
		return "", -1, nil
	}
	return outcomes[winnerIdx], winnerIdx, nil
}

// parseStringList decodes a JSON value that is either a list of strings
// or a JSON string containing a list of strings.
func parseStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var items []string
	if err := json.Unmarshal(raw, &items); err == nil && len(items) > 0 {
		// A single element that itself looks like a JSON list is the
		// nested encoding the gamma API sometimes produces.
		if len(items) == 1 && strings.HasPrefix(items[0], "[") {
			var nested []string
			if err := json.Unmarshal([]byte(items[0]), &nested); err == nil && len(nested) > 0 {
				return nested
			}
		}
		return items
	}

	var jsonStr string
	if err := json.Unmarshal(raw, &jsonStr); err == nil && jsonStr != "" {
		var inner []string
		if err := json.Unmarshal([]byte(jsonStr), &inner); err == nil && len(inner) > 0 {
			return inner
		}
	}
	return nil
}
