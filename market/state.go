package market

import (
	"fmt"
	"math/big"

	"tokenmart/storage"
)

const (
	listingKeyPrefix = "market/listing/"
	auctionKeyPrefix = "market/auction/"
	orderKeyPrefix   = "market/order/"

	listingNextKey = "market/listing/next"
	auctionNextKey = "market/auction/next"
	orderNextKey   = "market/order/next"

	frozenValueKey = "market/auction/frozen"
)

func listingKey(id uint64) []byte { return []byte(fmt.Sprintf("%s%d", listingKeyPrefix, id)) }
func auctionKey(id uint64) []byte { return []byte(fmt.Sprintf("%s%d", auctionKeyPrefix, id)) }
func orderKey(id uint64) []byte   { return []byte(fmt.Sprintf("%s%d", orderKeyPrefix, id)) }

// Store persists marketplace aggregates and identifier counters over a
// key-value backend. It performs no validation of its own; engines sanitize
// before writing.
type Store struct {
	kv *storage.KVStore
}

// NewStore wraps the supplied key-value codec.
func NewStore(kv *storage.KVStore) *Store {
	return &Store{kv: kv}
}

// ListingGet loads the listing with the given identifier. The second return
// reports whether the listing exists.
func (s *Store) ListingGet(id uint64) (*Listing, bool, error) {
	var listing Listing
	ok, err := s.kv.KVGet(listingKey(id), &listing)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &listing, true, nil
}

// ListingPut stores the listing under its identifier.
func (s *Store) ListingPut(l *Listing) error {
	if l == nil {
		return fmt.Errorf("market: nil listing")
	}
	return s.kv.KVPut(listingKey(l.ID), l)
}

// NextListingID allocates the next listing identifier, starting from 1.
func (s *Store) NextListingID() (uint64, error) {
	return s.nextID(listingNextKey)
}

// AuctionGet loads the auction with the given identifier.
func (s *Store) AuctionGet(id uint64) (*Auction, bool, error) {
	var auction Auction
	ok, err := s.kv.KVGet(auctionKey(id), &auction)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &auction, true, nil
}

// AuctionPut stores the auction under its identifier.
func (s *Store) AuctionPut(a *Auction) error {
	if a == nil {
		return fmt.Errorf("market: nil auction")
	}
	return s.kv.KVPut(auctionKey(a.ID), a)
}

// NextAuctionID allocates the next auction identifier, starting from 1.
func (s *Store) NextAuctionID() (uint64, error) {
	return s.nextID(auctionNextKey)
}

// OrderGet loads the order with the given identifier.
func (s *Store) OrderGet(id uint64) (*Order, bool, error) {
	var order Order
	ok, err := s.kv.KVGet(orderKey(id), &order)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &order, true, nil
}

// OrderPut stores the order under its identifier.
func (s *Store) OrderPut(o *Order) error {
	if o == nil {
		return fmt.Errorf("market: nil order")
	}
	return s.kv.KVPut(orderKey(o.ID), o)
}

// NextOrderID allocates the next order identifier, starting from 1.
func (s *Store) NextOrderID() (uint64, error) {
	return s.nextID(orderNextKey)
}

// FrozenValue returns the total bid value currently held for open auctions.
func (s *Store) FrozenValue() (*big.Int, error) {
	var encoded string
	ok, err := s.kv.KVGet([]byte(frozenValueKey), &encoded)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	value, valid := new(big.Int).SetString(encoded, 10)
	if !valid {
		return nil, fmt.Errorf("market: corrupt frozen value %q", encoded)
	}
	return value, nil
}

// SetFrozenValue persists the total bid value held for open auctions.
func (s *Store) SetFrozenValue(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return fmt.Errorf("market: frozen value must be non-negative")
	}
	return s.kv.KVPut([]byte(frozenValueKey), v.String())
}

func (s *Store) nextID(key string) (uint64, error) {
	var current uint64
	if _, err := s.kv.KVGet([]byte(key), &current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.kv.KVPut([]byte(key), next); err != nil {
		return 0, err
	}
	return next, nil
}
