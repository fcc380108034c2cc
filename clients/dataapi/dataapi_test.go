package dataapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"polysentry/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Defaults()
	cfg.Polymarket.DataAPIURL = server.URL
	cfg.Polymarket.GammaAPIURL = server.URL
	cfg.Polymarket.Timeout = 5 * time.Second

	return New(zap.NewNop(), cfg), server
}

func TestGetTrades(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("market"); got != "0xabc" {
			t.Errorf("unexpected market param: %s", got)
		}
		if got := r.URL.Query().Get("offset"); got != "100" {
			t.Errorf("unexpected offset param: %s", got)
		}
		w.Write([]byte(`[{
			"proxyWallet": "0xWALLET",
			"side": "BUY",
			"size": 300,
			"price": 0.5,
			"usdcSize": 150,
			"timestamp": 1700000000,
			"conditionId": "0xabc",
			"transactionHash": "0xhash1",
			"outcome": "Yes",
			"outcomeIndex": 0
		}]`))
	})

	trades, err := client.GetTrades(context.Background(), TradeQuery{Market: "0xabc", Limit: 50, Offset: 100})
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.TransactionHash != "0xhash1" || tr.Side != "BUY" || tr.UsdcSize != 150 {
		t.Errorf("unexpected trade: %+v", tr)
	}
}

func TestDoGetErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"rate limited", http.StatusTooManyRequests, IsRateLimited},
		{"not found", http.StatusNotFound, IsNotFound},
		{"server error retryable", http.StatusInternalServerError, IsRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := client.GetTrades(context.Background(), TradeQuery{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("error %v did not classify as %s", err, tt.name)
			}
		})
	}
}

func TestRateLimitIsNotRetryable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := client.GetTrades(context.Background(), TradeQuery{})
	if IsRetryable(err) {
		t.Error("429 must not be retryable")
	}
}

func TestTransportErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	cfg := config.Defaults()
	cfg.Polymarket.DataAPIURL = server.URL
	cfg.Polymarket.GammaAPIURL = server.URL
	client := New(zap.NewNop(), cfg)

	_, err := client.GetTrades(context.Background(), TradeQuery{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !IsRetryable(err) {
		t.Errorf("transport error should be retryable: %v", err)
	}
}

func TestGetMarketByConditionID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("condition_id"); got != "0xcond" {
			t.Errorf("unexpected condition_id: %s", got)
		}
		w.Write([]byte(`[{
			"question": "Will it happen?",
			"conditionId": "0xcond",
			"outcomes": "[\"Yes\", \"No\"]",
			"outcomePrices": "[\"0.995\", \"0.005\"]",
			"clobTokenIds": "[\"111\", \"222\"]",
			"closed": true,
			"volume24hr": 1234.5
		}]`))
	})

	m, err := client.GetMarketByConditionID(context.Background(), "0xcond")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if got := m.GetOutcomes(); len(got) != 2 || got[0] != "Yes" {
		t.Errorf("unexpected outcomes: %v", got)
	}
	if got := m.GetTokenIDs(); len(got) != 2 || got[1] != "222" {
		t.Errorf("unexpected token ids: %v", got)
	}
}

func TestParseStringListFormats(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"native list", `["Yes","No"]`, []string{"Yes", "No"}},
		{"json string list", `"[\"Yes\", \"No\"]"`, []string{"Yes", "No"}},
		{"nested single element", `["[\"111\", \"222\"]"]`, []string{"111", "222"}},
		{"empty", ``, nil},
		{"garbage", `42`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseStringList([]byte(tt.raw))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestWinningOutcome(t *testing.T) {
	mk := func(closed bool, outcomes, prices string) *GammaMarket {
		return &GammaMarket{
			Closed:        closed,
			Outcomes:      []byte(outcomes),
			OutcomePrices: []byte(prices),
		}
	}

	t.Run("resolved yes", func(t *testing.T) {
		m := mk(true, `["Yes","No"]`, `["0.995","0.005"]`)
		outcome, idx, err := m.WinningOutcome()
		if err != nil || outcome != "Yes" || idx != 0 {
			t.Errorf("got (%q, %d, %v)", outcome, idx, err)
		}
	})

	t.Run("open market", func(t *testing.T) {
		m := mk(false, `["Yes","No"]`, `["0.4","0.6"]`)
		outcome, idx, err := m.WinningOutcome()
		if err != nil || outcome != "" || idx != -1 {
			t.Errorf("got (%q, %d, %v)", outcome, idx, err)
		}
	})

	t.Run("closed but not yet settled", func(t *testing.T) {
		m := mk(true, `["Yes","No"]`, `["0.6","0.4"]`)
		outcome, _, err := m.WinningOutcome()
		if err != nil || outcome != "" {
			t.Errorf("got (%q, %v)", outcome, err)
		}
	})

	t.Run("ambiguous resolution", func(t *testing.T) {
		m := mk(true, `["Yes","No"]`, `["0.995","0.995"]`)
		_, _, err := m.WinningOutcome()
		if err != ErrAmbiguousResolution {
			t.Errorf("expected ambiguous resolution error, got %v", err)
		}
	})
}
