package app

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"polysentry/clients/dataapi"
	"polysentry/internal/store"
	"polysentry/internal/telemetry"
)

// ActivityClient is the wallet-history surface of the Data API.
type ActivityClient interface {
	GetUserActivity(ctx context.Context, wallet string, limit, offset int) ([]dataapi.Activity, error)
}

// WalletBackfillRequest bounds one wallet history backfill.
type WalletBackfillRequest struct {
	WalletAddress string
	Since         time.Time // zero means full history up to MaxItems
	PageSize      int
	MaxItems      int
}

// WalletBackfillResult summarizes one backfill run.
type WalletBackfillResult struct {
	WalletAddress     string `json:"wallet_address"`
	ActivitiesScanned int    `json:"activities_scanned"`
	TradesImported    int    `json:"trades_imported"`
	Skipped           int    `json:"skipped"`
	Errors            int    `json:"errors"`
}

// WalletBackfill imports a wallet's trading history. Discovery often
// surfaces a wallet whose earlier trades predate ingestion; backfilling
// them firms up the wallet age and activity features.
type WalletBackfill struct {
	logger   *zap.Logger
	st       *store.Store
	activity ActivityClient
	ingestor *Ingestor
}

func NewWalletBackfill(logger *zap.Logger, st *store.Store, activity ActivityClient, ingestor *Ingestor) *WalletBackfill {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletBackfill{logger: logger, st: st, activity: activity, ingestor: ingestor}
}

// Run pages through the wallet's activity feed and imports TRADE rows.
// Splits, merges and redemptions are skipped; they are not fills.
func (w *WalletBackfill) Run(ctx context.Context, req WalletBackfillRequest) (*WalletBackfillResult, error) {
	if req.PageSize <= 0 {
		req.PageSize = 500
	}
	if req.MaxItems <= 0 {
		req.MaxItems = 5000
	}
	address := strings.ToLower(req.WalletAddress)
	result := &WalletBackfillResult{WalletAddress: address}

scan:
	for offset := 0; result.ActivitiesScanned < req.MaxItems; offset += req.PageSize {
		page, err := w.activity.GetUserActivity(ctx, address, req.PageSize, offset)
		if err != nil {
			return result, err
		}
		for i := range page {
			a := &page[i]
			result.ActivitiesScanned++

			ts := time.Unix(a.Timestamp, 0).UTC()
			if !req.Since.IsZero() && ts.Before(req.Since) {
				break scan // feed is newest-first
			}
			if !strings.EqualFold(a.Type, "TRADE") {
				result.Skipped++
				continue
			}
			if w.importActivity(ctx, a) {
				result.TradesImported++
			} else {
				result.Errors++
			}
		}
		if len(page) < req.PageSize {
			break
		}
	}

	// Aggregates moved; refresh immediately so the next scoring pass
	// sees the backfilled history.
	if wallet, err := w.st.GetWalletByAddress(ctx, address); err == nil {
		if err := w.st.RefreshWalletAggregates(ctx, wallet.ID); err != nil {
			w.logger.Warn("failed to refresh aggregates after backfill",
				zap.String("wallet", shortID(address)),
				zap.Error(err),
			)
		}
	}

	w.logger.Info("wallet backfill complete",
		zap.String("wallet", shortID(address)),
		zap.Int("scanned", result.ActivitiesScanned),
		zap.Int("imported", result.TradesImported),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

func (w *WalletBackfill) importActivity(ctx context.Context, a *dataapi.Activity) bool {
	if a.TransactionHash == "" || a.ConditionID == "" {
		return false
	}

	market, _, err := w.ingestor.marketForCondition(ctx, a.ConditionID, a.Title)
	if err != nil {
		w.logger.Warn("failed to resolve market during backfill",
			zap.String("conditionID", shortID(a.ConditionID)),
			zap.Error(err),
		)
		return false
	}

	ts := time.Unix(a.Timestamp, 0).UTC()
	trade := &store.Trade{
		TransactionHash: a.TransactionHash,
		MarketID:        market.ID,
		WalletAddress:   strings.ToLower(a.ProxyWallet),
		ConditionID:     market.ConditionID,
		Side:            normalizeSide(a.Side),
		Outcome:         a.Outcome,
		Size:            a.Size,
		Price:           a.Price,
		UsdcSize:        a.UsdcSize,
		TradeTimestamp:  ts,
	}

	wallet, err := w.st.GetOrCreateWallet(ctx, trade.WalletAddress, ts)
	if err != nil {
		return false
	}
	trade.WalletID = wallet.ID
	age := ts.Sub(wallet.FirstSeenAt).Hours() / 24
	if age >= 0 {
		trade.WalletAgeDays = &age
	}
	trade.WalletTradeCount = wallet.TotalTrades
	trade.PriceExtremity = math.Abs(trade.Price - 0.5)

	inserted, err := w.st.UpsertTrade(ctx, trade)
	if err != nil {
		return false
	}
	if inserted {
		telemetry.TradesIngested.WithLabelValues(SourceAPI, "inserted").Inc()
	}
	return true
}
