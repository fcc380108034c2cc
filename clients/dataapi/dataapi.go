// Package dataapi is a read-only client for Polymarket's centralized
// HTTP APIs: the data API (trades, activity, positions) and the gamma
// API (market and event metadata).
package dataapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"polysentry/config"
)

const (
	defaultTimeout = 30 * time.Second
	// Proxy-routed requests get a longer budget; the egress hop adds
	// latency on every call.
	proxyTimeout = 60 * time.Second
)

type Client struct {
	logger       *zap.Logger
	httpClient   *http.Client
	dataBaseURL  string
	gammaBaseURL string
}

func New(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Polymarket.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.Polymarket.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.Polymarket.ProxyURL); err == nil {
			httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
			if timeout < proxyTimeout {
				httpClient.Timeout = proxyTimeout
			}
		} else {
			logger.Warn("invalid proxy url, using direct egress", zap.Error(err))
		}
	}

	return &Client{
		logger:       logger,
		httpClient:   httpClient,
		dataBaseURL:  strings.TrimRight(cfg.Polymarket.DataAPIURL, "/"),
		gammaBaseURL: strings.TrimRight(cfg.Polymarket.GammaAPIURL, "/"),
	}
}

// ---- Data API types (external field names are verbatim) ----

// Trade is a single fill from GET /trades.
type Trade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"` // BUY or SELL
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	UsdcSize        float64 `json:"usdcSize"`
	Timestamp       int64   `json:"timestamp"` // unix seconds
	ConditionID     string  `json:"conditionId"`
	TransactionHash string  `json:"transactionHash"`
	Outcome         string  `json:"outcome"`
	OutcomeIndex    int     `json:"outcomeIndex"`

	// Market metadata, when the endpoint inlines it
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

// Activity is one row from GET /activity.
type Activity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"` // TRADE, SPLIT, MERGE, REDEEM, ...
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	Price           float64 `json:"price"`
	Side            string  `json:"side"`
	Outcome         string  `json:"outcome"`
	TransactionHash string  `json:"transactionHash"`
	Title           string  `json:"title"`
}

// Position is an open position from GET /positions.
type Position struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	CashPnl      float64 `json:"cashPnl"`
	RealizedPnl  float64 `json:"realizedPnl"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Title        string  `json:"title"`
	EndDate      string  `json:"endDate"`
}

// TradeQuery filters GET /trades.
type TradeQuery struct {
	Market string // condition id (comma-separated for several)
	User   string // proxy wallet address
	Limit  int
	Offset int
}

// GetTrades fetches a page of trades.
func (c *Client) GetTrades(ctx context.Context, q TradeQuery) ([]Trade, error) {
	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid data api url: %w", err)
	}
	u.Path = "/trades"

	v := u.Query()
	if q.Market != "" {
		v.Set("market", q.Market)
	}
	if q.User != "" {
		v.Set("user", q.User)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	u.RawQuery = v.Encode()

	var trades []Trade
	if err := c.doGet(ctx, u.String(), &trades); err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}
	return trades, nil
}

// GetUserActivity fetches a page of activity for a wallet.
func (c *Client) GetUserActivity(ctx context.Context, wallet string, limit, offset int) ([]Activity, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid data api url: %w", err)
	}
	u.Path = "/activity"

	v := u.Query()
	v.Set("user", wallet)
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		v.Set("offset", strconv.Itoa(offset))
	}
	u.RawQuery = v.Encode()

	var activity []Activity
	if err := c.doGet(ctx, u.String(), &activity); err != nil {
		return nil, fmt.Errorf("get user activity: %w", err)
	}
	return activity, nil
}

// GetPositions fetches open positions for a wallet, optionally filtered
// by market condition id.
func (c *Client) GetPositions(ctx context.Context, wallet, market string, limit int) ([]Position, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid data api url: %w", err)
	}
	u.Path = "/positions"

	v := u.Query()
	v.Set("user", wallet)
	if market != "" {
		v.Set("market", market)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	v.Set("sizeThreshold", "0")
	u.RawQuery = v.Encode()

	var positions []Position
	if err := c.doGet(ctx, u.String(), &positions); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return positions, nil
}

// Probe issues a cheap request used by the health monitor.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.GetMarkets(ctx, MarketQuery{Limit: 1})
	return err
}

// doGet executes a GET and decodes the JSON body, classifying failures
// into the APIError taxonomy.
func (c *Client) doGet(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Kind: KindTransport, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Kind: KindTransport, URL: rawURL, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, StatusCode: resp.StatusCode, URL: rawURL}
	case resp.StatusCode == http.StatusNotFound:
		return &APIError{Kind: KindNotFound, StatusCode: resp.StatusCode, URL: rawURL}
	case resp.StatusCode/100 != 2:
		return &APIError{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, URL: rawURL}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode json from %s: %w", rawURL, err)
	}
	return nil
}
