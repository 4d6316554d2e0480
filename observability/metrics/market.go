package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"tokenmart/core/events"
	"tokenmart/ledger"
	"tokenmart/market"
)

// MarketMetrics exposes marketplace activity counters. A single registry-wide
// instance is shared through Market().
type MarketMetrics struct {
	created         *prometheus.CounterVec
	sales           *prometheus.CounterVec
	bids            prometheus.Counter
	royaltyFailures prometheus.Counter
	ledgerUpdates   prometheus.Counter
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the shared marketplace metrics, registering the collectors on
// first use.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			created: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_items_created_total",
				Help: "Count of listings, auctions and orders opened by venue.",
			}, []string{"venue"}),
			sales: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_sales_total",
				Help: "Count of completed sales by venue.",
			}, []string{"venue"}),
			bids: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_auction_bids_total",
				Help: "Count of accepted auction bids.",
			}),
			royaltyFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_royalty_payout_failures_total",
				Help: "Count of best-effort royalty payouts that failed.",
			}),
			ledgerUpdates: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_ledger_updates_total",
				Help: "Count of user ledger mutations observed through events.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.created,
			marketRegistry.sales,
			marketRegistry.bids,
			marketRegistry.royaltyFailures,
			marketRegistry.ledgerUpdates,
		)
	})
	return marketRegistry
}

// Observe maps a marketplace event type onto the corresponding counter.
func (m *MarketMetrics) Observe(eventType string) {
	if m == nil {
		return
	}
	switch eventType {
	case market.EventTypeListingCreated:
		m.created.WithLabelValues("listing").Inc()
	case market.EventTypeAuctionCreated:
		m.created.WithLabelValues("auction").Inc()
	case market.EventTypeOrderCreated:
		m.created.WithLabelValues("orderbook").Inc()
	case market.EventTypeListingSold:
		m.sales.WithLabelValues("listing").Inc()
	case market.EventTypeAuctionCompleted:
		m.sales.WithLabelValues("auction").Inc()
	case market.EventTypeOrderSold:
		m.sales.WithLabelValues("orderbook").Inc()
	case market.EventTypeAuctionBid:
		m.bids.Inc()
	case market.EventTypeRoyaltyPayoutFailed:
		m.royaltyFailures.Inc()
	case ledger.EventTypeBlacklistUpdated:
		m.ledgerUpdates.Inc()
	}
}

// InstrumentedEmitter counts every marketplace event before forwarding it to
// the wrapped emitter.
type InstrumentedEmitter struct {
	next    events.Emitter
	metrics *MarketMetrics
}

// NewInstrumentedEmitter decorates the given emitter with the shared market
// metrics. A nil next emitter is replaced with a no-op sink.
func NewInstrumentedEmitter(next events.Emitter) *InstrumentedEmitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &InstrumentedEmitter{next: next, metrics: Market()}
}

// Emit implements the events.Emitter interface.
func (e *InstrumentedEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	e.metrics.Observe(evt.EventType())
	e.next.Emit(evt)
}
