// Package notifier fans persisted alerts out to delivery sinks. The
// concrete transports (Slack/Discord webhooks) live outside this
// service; in-tree sinks are the structured log and the Redis alert
// channel.
package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"polysentry/clients/bus"
)

// AlertNotification is the delivery payload for one alert.
type AlertNotification struct {
	AlertID  string `json:"alert_id"`
	Type     string `json:"type"`
	Severity string `json:"severity"`

	WalletAddress string `json:"wallet_address"`
	ConditionID   string `json:"condition_id"`
	Question      string `json:"question"`
	Side          string `json:"side"`
	Outcome       string `json:"outcome"`

	Size               float64 `json:"size"`
	UsdcSize           float64 `json:"usdc_size"`
	Price              float64 `json:"price"`
	AnomalyScore       float64 `json:"anomaly_score"`
	InsiderProbability float64 `json:"insider_probability"`

	Triggers    []string  `json:"triggers"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Notifier is the interface for delivering alert notifications.
type Notifier interface {
	SendAlert(ctx context.Context, alert AlertNotification)
	Close() error
}

// MultiNotifier broadcasts alerts to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a MultiNotifier, dropping nil entries.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

func (m *MultiNotifier) SendAlert(ctx context.Context, alert AlertNotification) {
	for _, n := range m.notifiers {
		n.SendAlert(ctx, alert)
	}
}

func (m *MultiNotifier) Close() error {
	var firstErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) SendAlert(_ context.Context, alert AlertNotification) {
	l.logger.Info("alert",
		zap.String("alert_id", alert.AlertID),
		zap.String("type", alert.Type),
		zap.String("severity", alert.Severity),
		zap.String("wallet", alert.WalletAddress),
		zap.String("market", alert.Question),
		zap.Float64("usdc_size", alert.UsdcSize),
		zap.Float64("anomaly", alert.AnomalyScore),
		zap.Float64("probability", alert.InsiderProbability),
		zap.Strings("triggers", alert.Triggers),
	)
}

func (l *LogNotifier) Close() error { return nil }

// BusNotifier publishes alerts on the Redis alert channel. Delivery
// failures are logged and swallowed; the monitor keeps processing.
type BusNotifier struct {
	logger    *zap.Logger
	publisher bus.Publisher
}

func NewBusNotifier(logger *zap.Logger, publisher bus.Publisher) *BusNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusNotifier{logger: logger, publisher: publisher}
}

func (b *BusNotifier) SendAlert(ctx context.Context, alert AlertNotification) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, bus.ChannelAlerts, alert); err != nil {
		b.logger.Warn("failed to broadcast alert",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
	}
}

func (b *BusNotifier) Close() error { return nil }
