package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tokenmart/custody"
)

// ListingStatus represents the lifecycle states of a fixed-price listing.
// Sold and Cancelled are terminal.
type ListingStatus uint8

const (
	ListingOnSale ListingStatus = iota
	ListingSold
	ListingCancelled
)

// Valid reports whether the status value is within the supported range.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingOnSale, ListingSold, ListingCancelled:
		return true
	default:
		return false
	}
}

// Listing captures a single-asset fixed-price sale. Identifiers are monotonic
// integers assigned from 1 upward.
type Listing struct {
	ID             uint64           `json:"id"`
	Asset          custody.AssetRef `json:"asset"`
	Price          *big.Int         `json:"price"`
	Seller         common.Address   `json:"seller"`
	Status         ListingStatus    `json:"status"`
	AssetWithdrawn bool             `json:"assetWithdrawn"`
	CreatedAt      int64            `json:"createdAt"`
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Asset = l.Asset.Clone()
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// SanitizeListing validates the listing definition and returns a cloned
// instance with non-nil amounts. The original value is never mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	clone := l.Clone()
	if clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("market: listing price must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("market: invalid listing status: %d", clone.Status)
	}
	return clone, nil
}

// AuctionStatus represents the lifecycle states of an English auction.
// Cancelled and Completed are terminal.
type AuctionStatus uint8

const (
	AuctionOpen AuctionStatus = iota
	AuctionCancelled
	AuctionCompleted
)

// Valid reports whether the status value is within the supported range.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionOpen, AuctionCancelled, AuctionCompleted:
		return true
	default:
		return false
	}
}

// Auction captures an English auction over a single asset. The bidding window
// is fixed at creation; CurrentBidder is the zero address until the first
// accepted bid.
type Auction struct {
	ID             uint64           `json:"id"`
	Asset          custody.AssetRef `json:"asset"`
	Seller         common.Address   `json:"seller"`
	StartTime      int64            `json:"startTime"`
	EndTime        int64            `json:"endTime"`
	StartPrice     *big.Int         `json:"startPrice"`
	CurrentBid     *big.Int         `json:"currentBid"`
	CurrentBidder  common.Address   `json:"currentBidder"`
	Status         AuctionStatus    `json:"status"`
	AssetWithdrawn bool             `json:"assetWithdrawn"`
}

// HasBid reports whether any bid has been accepted.
func (a *Auction) HasBid() bool {
	return a != nil && a.CurrentBidder != (common.Address{})
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Asset = a.Asset.Clone()
	if a.StartPrice != nil {
		clone.StartPrice = new(big.Int).Set(a.StartPrice)
	} else {
		clone.StartPrice = big.NewInt(0)
	}
	if a.CurrentBid != nil {
		clone.CurrentBid = new(big.Int).Set(a.CurrentBid)
	} else {
		clone.CurrentBid = big.NewInt(0)
	}
	return &clone
}

// SanitizeAuction validates the auction definition and returns a cloned
// instance with non-nil amounts.
func SanitizeAuction(a *Auction) (*Auction, error) {
	if a == nil {
		return nil, fmt.Errorf("market: nil auction")
	}
	clone := a.Clone()
	if clone.StartPrice.Sign() <= 0 {
		return nil, fmt.Errorf("market: auction start price must be positive")
	}
	if clone.EndTime <= clone.StartTime && clone.Status == AuctionOpen {
		return nil, fmt.Errorf("market: auction window must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("market: invalid auction status: %d", clone.Status)
	}
	return clone, nil
}

// OrderStatus represents the lifecycle states of a partial-fill order. The
// terminal state depends on which path drained the on-sale quantity: Sold via
// purchases, Cancelled via cancellations. The two paths are mutually
// exclusive once the quantity reaches zero.
type OrderStatus uint8

const (
	OrderOnSale OrderStatus = iota
	OrderSold
	OrderCancelled
)

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderOnSale, OrderSold, OrderCancelled:
		return true
	default:
		return false
	}
}

// Order captures a fungible-quantity sale filled in parts.
type Order struct {
	ID                uint64         `json:"id"`
	Seller            common.Address `json:"seller"`
	AssetType         common.Address `json:"assetType"`
	UnitPrice         *big.Int       `json:"unitPrice"`
	QuantityOnSale    uint64         `json:"quantityOnSale"`
	QuantityCancelled uint64         `json:"quantityCancelled"`
	Status            OrderStatus    `json:"status"`
	CreatedAt         int64          `json:"createdAt"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.UnitPrice != nil {
		clone.UnitPrice = new(big.Int).Set(o.UnitPrice)
	} else {
		clone.UnitPrice = big.NewInt(0)
	}
	return &clone
}

// SanitizeOrder validates the order definition and returns a cloned instance
// with non-nil amounts.
func SanitizeOrder(o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("market: nil order")
	}
	clone := o.Clone()
	if clone.UnitPrice.Sign() <= 0 {
		return nil, fmt.Errorf("market: order unit price must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("market: invalid order status: %d", clone.Status)
	}
	return clone, nil
}
