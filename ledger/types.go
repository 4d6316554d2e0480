package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PurchaseKind distinguishes the venue a purchase settled through.
type PurchaseKind string

const (
	KindOrder      PurchaseKind = "order"
	KindFixedPrice PurchaseKind = "fixed_price"
	KindAuction    PurchaseKind = "auction"
)

// Valid reports whether the kind is one of the supported venues.
func (k PurchaseKind) Valid() bool {
	switch k {
	case KindOrder, KindFixedPrice, KindAuction:
		return true
	default:
		return false
	}
}

// UserRecord accumulates per-account marketplace statistics shared across all
// venues. A record exists once the account has been the subject of any
// recording call and is never deleted; history lists are append-only.
type UserRecord struct {
	Address common.Address `json:"address"`

	OrdersListed    uint64 `json:"ordersListed"`
	ListingsCreated uint64 `json:"listingsCreated"`
	AuctionsCreated uint64 `json:"auctionsCreated"`

	OrderPurchases      uint64 `json:"orderPurchases"`
	AuctionPurchases    uint64 `json:"auctionPurchases"`
	FixedPricePurchases uint64 `json:"fixedPricePurchases"`

	TotalPurchasedValue *big.Int `json:"totalPurchasedValue"`
	TotalSoldValue      *big.Int `json:"totalSoldValue"`
	TotalFeesPaid       *big.Int `json:"totalFeesPaid"`

	SellerBlacklisted  bool `json:"sellerBlacklisted"`
	RoyaltyBlacklisted bool `json:"royaltyBlacklisted"`

	ListedOrderIDs      []uint64 `json:"listedOrderIds"`
	ListedItemIDs       []uint64 `json:"listedItemIds"`
	CreatedAuctionIDs   []uint64 `json:"createdAuctionIds"`
	PurchasedOrderIDs   []uint64 `json:"purchasedOrderIds"`
	PurchasedItemIDs    []uint64 `json:"purchasedItemIds"`
	PurchasedAuctionIDs []uint64 `json:"purchasedAuctionIds"`
}

func newUserRecord(account common.Address) *UserRecord {
	return &UserRecord{
		Address:             account,
		TotalPurchasedValue: big.NewInt(0),
		TotalSoldValue:      big.NewInt(0),
		TotalFeesPaid:       big.NewInt(0),
	}
}

// ensureAmounts backfills nil aggregates on records decoded from storage.
func (r *UserRecord) ensureAmounts() *UserRecord {
	if r.TotalPurchasedValue == nil {
		r.TotalPurchasedValue = big.NewInt(0)
	}
	if r.TotalSoldValue == nil {
		r.TotalSoldValue = big.NewInt(0)
	}
	if r.TotalFeesPaid == nil {
		r.TotalFeesPaid = big.NewInt(0)
	}
	return r
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *UserRecord) Clone() *UserRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.ensureAmounts()
	clone.TotalPurchasedValue = new(big.Int).Set(clone.TotalPurchasedValue)
	clone.TotalSoldValue = new(big.Int).Set(clone.TotalSoldValue)
	clone.TotalFeesPaid = new(big.Int).Set(clone.TotalFeesPaid)
	clone.ListedOrderIDs = append([]uint64(nil), r.ListedOrderIDs...)
	clone.ListedItemIDs = append([]uint64(nil), r.ListedItemIDs...)
	clone.CreatedAuctionIDs = append([]uint64(nil), r.CreatedAuctionIDs...)
	clone.PurchasedOrderIDs = append([]uint64(nil), r.PurchasedOrderIDs...)
	clone.PurchasedItemIDs = append([]uint64(nil), r.PurchasedItemIDs...)
	clone.PurchasedAuctionIDs = append([]uint64(nil), r.PurchasedAuctionIDs...)
	return &clone
}

// Stats aggregates statistics across every recorded account.
type Stats struct {
	TotalListings       uint64   `json:"totalListings"`
	TotalAuctions       uint64   `json:"totalAuctions"`
	TotalPurchasedValue *big.Int `json:"totalPurchasedValue"`
	TotalSoldValue      *big.Int `json:"totalSoldValue"`
	TotalFees           *big.Int `json:"totalFees"`
}
