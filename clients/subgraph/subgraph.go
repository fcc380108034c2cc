// Package subgraph is a client for the Goldsky orderbook subgraph, the
// blockchain-side source of fills. Queries are composed by hand; the
// entity surface is four fixed selections.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"polysentry/config"
)

// ErrorKind mirrors the dataapi taxonomy for the GraphQL surface.
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"
	KindRateLimited ErrorKind = "rate_limited"
	KindHTTPStatus  ErrorKind = "http_status"
	KindGraphQL     ErrorKind = "graphql"
)

// GraphQLError is a failed subgraph request.
type GraphQLError struct {
	Kind       ErrorKind
	StatusCode int
	Messages   []string
	Err        error
}

func (e *GraphQLError) Error() string {
	switch e.Kind {
	case KindTransport:
		return fmt.Sprintf("subgraph transport error: %v", e.Err)
	case KindRateLimited:
		return "subgraph rate limited"
	case KindGraphQL:
		return fmt.Sprintf("subgraph query errors: %s", strings.Join(e.Messages, "; "))
	default:
		return fmt.Sprintf("subgraph http status %d", e.StatusCode)
	}
}

func (e *GraphQLError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limit outcome.
func IsRateLimited(err error) bool {
	var gqlErr *GraphQLError
	return errors.As(err, &gqlErr) && gqlErr.Kind == KindRateLimited
}

// OrderFilledEvent is one fill from the orderbook subgraph. All numeric
// fields arrive as decimal strings; token ids are 256-bit integers and
// must never be parsed into fixed-width types.
type OrderFilledEvent struct {
	ID                string `json:"id"`
	Timestamp         string `json:"timestamp"`
	Maker             string `json:"maker"`
	Taker             string `json:"taker"`
	MakerAssetID      string `json:"makerAssetId"`
	TakerAssetID      string `json:"takerAssetId"`
	MakerAmountFilled string `json:"makerAmountFilled"`
	TakerAmountFilled string `json:"takerAmountFilled"`
}

// MarketData authoritatively maps a token id to a condition id.
type MarketData struct {
	ID           string `json:"id"` // token id
	Condition    string `json:"condition"`
	OutcomeIndex string `json:"outcomeIndex"`
}

// UserBalance is a wallet's holding of one outcome token.
type UserBalance struct {
	ID      string `json:"id"`
	User    string `json:"user"`
	Asset   Asset  `json:"asset"`
	Balance string `json:"balance"`
}

type Asset struct {
	ID string `json:"id"`
}

// Meta is the subgraph's own sync status.
type Meta struct {
	Block struct {
		Number    int64 `json:"number"`
		Timestamp int64 `json:"timestamp"`
	} `json:"block"`
	HasIndexingErrors bool `json:"hasIndexingErrors"`
}

type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	endpoint   string
	limiter    *rate.Limiter
}

func New(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Subgraph.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	wait := cfg.Subgraph.PageWait
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}

	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   cfg.Subgraph.URL,
		limiter:    rate.NewLimiter(rate.Every(wait), 1),
	}
}

// OrderFilledEvents fetches one page of fills matching the filter.
func (c *Client) OrderFilledEvents(ctx context.Context, f EventFilter) ([]OrderFilledEvent, error) {
	var out struct {
		OrderFilledEvents []OrderFilledEvent `json:"orderFilledEvents"`
	}
	if err := c.query(ctx, buildOrderFilledQuery(f), &out); err != nil {
		return nil, err
	}
	return out.OrderFilledEvents, nil
}

// MarketDatas fetches one page of token-to-condition mappings.
func (c *Client) MarketDatas(ctx context.Context, first, skip int) ([]MarketData, error) {
	var out struct {
		MarketDatas []MarketData `json:"marketDatas"`
	}
	if err := c.query(ctx, buildMarketDatasQuery(first, skip), &out); err != nil {
		return nil, err
	}
	return out.MarketDatas, nil
}

// UserBalances fetches one page of outcome-token balances for a wallet.
func (c *Client) UserBalances(ctx context.Context, user string, first, skip int) ([]UserBalance, error) {
	var out struct {
		UserBalances []UserBalance `json:"userBalances"`
	}
	if err := c.query(ctx, buildUserBalancesQuery(user, first, skip), &out); err != nil {
		return nil, err
	}
	return out.UserBalances, nil
}

// GetMeta fetches the subgraph's sync status; used as a health probe.
func (c *Client) GetMeta(ctx context.Context) (*Meta, error) {
	var out struct {
		Meta *Meta `json:"_meta"`
	}
	if err := c.query(ctx, metaQuery, &out); err != nil {
		return nil, err
	}
	if out.Meta == nil {
		return nil, &GraphQLError{Kind: KindGraphQL, Messages: []string{"empty _meta"}}
	}
	return out.Meta, nil
}

// Probe issues a cheap request used by the health monitor.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.GetMeta(ctx)
	return err
}

// query posts a GraphQL document and decodes data into out. The rate
// limiter spaces consecutive requests; cancellation interrupts the wait.
func (c *Client) query(ctx context.Context, q string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &GraphQLError{Kind: KindTransport, Err: err}
	}

	payload, err := json.Marshal(map[string]string{"query": q})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &GraphQLError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GraphQLError{Kind: KindTransport, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &GraphQLError{Kind: KindRateLimited, StatusCode: resp.StatusCode}
	case resp.StatusCode/100 != 2:
		return &GraphQLError{Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode subgraph response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		rateLimited := false
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
			if strings.Contains(strings.ToLower(e.Message), "rate limit") {
				rateLimited = true
			}
		}
		if rateLimited {
			return &GraphQLError{Kind: KindRateLimited, Messages: msgs}
		}
		return &GraphQLError{Kind: KindGraphQL, Messages: msgs}
	}

	if len(envelope.Data) == 0 {
		return &GraphQLError{Kind: KindGraphQL, Messages: []string{"empty data"}}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode subgraph data: %w", err)
	}
	return nil
}
