package worker

import (
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/cassiomorais/ticketing/internal/infrastructure/broker"
	"github.com/cassiomorais/ticketing/internal/infrastructure/config"
)

var (
	issuanceTypes = []event.Type{event.TypeOrderConfirmed}
	catalogTypes  = []event.Type{event.TypeTicketTypeCreated, event.TypeTicketTypeUpdated}
)

// NewIssuanceMux routes confirmed orders to ticket issuance.
func NewIssuanceMux(issuer broker.Handler) *broker.Mux {
	return newMux(issuer, issuanceTypes)
}

// NewCatalogMux routes ticket type changes to the catalog projection.
func NewCatalogMux(projector broker.Handler) *broker.Mux {
	return newMux(projector, catalogTypes)
}

func newMux(h broker.Handler, types []event.Type) *broker.Mux {
	mux := broker.NewMux()
	for _, t := range types {
		mux.Handle(t, h)
	}
	return mux
}

// Topologies lists the queues the worker consumes, each bound to the routing
// keys its mux handles. The api declares them too so that events published
// before the first worker boots are not dropped as unroutable.
func Topologies(cfg config.BrokerConfig) []broker.Topology {
	return []broker.Topology{
		{
			URL:           cfg.URL,
			ExchangeName:  cfg.Exchange,
			QueueName:     cfg.TicketIssuanceQueue,
			RoutingKeys:   routingKeys(issuanceTypes),
			DeliveryLimit: cfg.DeliveryLimit,
		},
		{
			URL:           cfg.URL,
			ExchangeName:  cfg.Exchange,
			QueueName:     cfg.CatalogQueue,
			RoutingKeys:   routingKeys(catalogTypes),
			DeliveryLimit: cfg.DeliveryLimit,
		},
	}
}

func routingKeys(types []event.Type) []string {
	keys := make([]string, len(types))
	for i, t := range types {
		keys[i] = string(t)
	}
	return keys
}
