package clients

import (
	"go.uber.org/zap"

	"polysentry/clients/bus"
	"polysentry/clients/dataapi"
	"polysentry/clients/notifier"
	"polysentry/clients/subgraph"
	"polysentry/config"
)

type Clients struct {
	Logger *zap.Logger

	DataAPI  *dataapi.Client
	Subgraph *subgraph.Client
	Bus      *bus.Bus
	Notifier notifier.Notifier
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	eventBus := bus.New(logger, cfg)

	return &Clients{
		Logger:   logger,
		DataAPI:  dataapi.New(logger, cfg),
		Subgraph: subgraph.New(logger, cfg),
		Bus:      eventBus,
		Notifier: notifier.NewMultiNotifier(
			notifier.NewLogNotifier(logger),
			notifier.NewBusNotifier(logger, eventBus),
		),
	}
}

func (c *Clients) Close() error {
	if c.Notifier != nil {
		_ = c.Notifier.Close()
	}
	if c.Bus != nil {
		return c.Bus.Close()
	}
	return nil
}
