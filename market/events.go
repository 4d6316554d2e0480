package market

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"tokenmart/core/events"
	"tokenmart/core/types"
)

const (
	EventTypeListingCreated        = "market.listing.created"
	EventTypeListingPriceChanged   = "market.listing.price_changed"
	EventTypeListingSold           = "market.listing.sold"
	EventTypeListingCancelled      = "market.listing.cancelled"
	EventTypeListingAssetWithdrawn = "market.listing.asset_withdrawn"

	EventTypeAuctionCreated        = "market.auction.created"
	EventTypeAuctionBid            = "market.auction.bid"
	EventTypeAuctionCancelled      = "market.auction.cancelled"
	EventTypeAuctionCompleted      = "market.auction.completed"
	EventTypeAuctionExpired        = "market.auction.expired"
	EventTypeAuctionAssetWithdrawn = "market.auction.asset_withdrawn"

	EventTypeOrderCreated        = "market.order.created"
	EventTypeOrderPriceChanged   = "market.order.price_changed"
	EventTypeOrderSold           = "market.order.sold"
	EventTypeOrderFilled         = "market.order.filled"
	EventTypeOrderCancelled      = "market.order.cancelled"
	EventTypeOrderAssetWithdrawn = "market.order.asset_withdrawn"

	EventTypeRoyaltyPayoutFailed = "market.royalty_payout_failed"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type listingEvent struct {
	eventType string
	listing   *Listing
	extra     map[string]string
}

func (e listingEvent) EventType() string { return e.eventType }

func (e listingEvent) Event() *types.Event {
	attrs := map[string]string{
		"id":     strconv.FormatUint(e.listing.ID, 10),
		"seller": e.listing.Seller.Hex(),
		"asset":  e.listing.Asset.Key(),
		"price":  formatAmount(e.listing.Price),
	}
	for k, v := range e.extra {
		attrs[k] = v
	}
	return &types.Event{Type: e.eventType, Attributes: attrs}
}

func newListingEvent(eventType string, l *Listing, extra map[string]string) listingEvent {
	return listingEvent{eventType: eventType, listing: l, extra: extra}
}

type auctionEvent struct {
	eventType string
	auction   *Auction
	extra     map[string]string
}

func (e auctionEvent) EventType() string { return e.eventType }

func (e auctionEvent) Event() *types.Event {
	attrs := map[string]string{
		"id":         strconv.FormatUint(e.auction.ID, 10),
		"seller":     e.auction.Seller.Hex(),
		"asset":      e.auction.Asset.Key(),
		"startPrice": formatAmount(e.auction.StartPrice),
	}
	if e.auction.HasBid() {
		attrs["bidder"] = e.auction.CurrentBidder.Hex()
		attrs["bid"] = formatAmount(e.auction.CurrentBid)
	}
	for k, v := range e.extra {
		attrs[k] = v
	}
	return &types.Event{Type: e.eventType, Attributes: attrs}
}

func newAuctionEvent(eventType string, a *Auction, extra map[string]string) auctionEvent {
	return auctionEvent{eventType: eventType, auction: a, extra: extra}
}

type orderEvent struct {
	eventType string
	order     *Order
	extra     map[string]string
}

func (e orderEvent) EventType() string { return e.eventType }

func (e orderEvent) Event() *types.Event {
	attrs := map[string]string{
		"id":        strconv.FormatUint(e.order.ID, 10),
		"seller":    e.order.Seller.Hex(),
		"assetType": e.order.AssetType.Hex(),
		"unitPrice": formatAmount(e.order.UnitPrice),
		"onSale":    strconv.FormatUint(e.order.QuantityOnSale, 10),
	}
	for k, v := range e.extra {
		attrs[k] = v
	}
	return &types.Event{Type: e.eventType, Attributes: attrs}
}

func newOrderEvent(eventType string, o *Order, extra map[string]string) orderEvent {
	return orderEvent{eventType: eventType, order: o, extra: extra}
}

type royaltyPayoutFailed struct {
	recipient common.Address
	amount    *big.Int
	reason    string
}

func (e royaltyPayoutFailed) EventType() string { return EventTypeRoyaltyPayoutFailed }

func (e royaltyPayoutFailed) Event() *types.Event {
	return &types.Event{Type: EventTypeRoyaltyPayoutFailed, Attributes: map[string]string{
		"recipient": e.recipient.Hex(),
		"amount":    formatAmount(e.amount),
		"reason":    e.reason,
	}}
}

func emit(emitter events.Emitter, evt events.Event) {
	if emitter == nil {
		return
	}
	emitter.Emit(evt)
}
