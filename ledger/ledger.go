package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"tokenmart/core/events"
)

var (
	// ErrUnauthorized marks mutating calls from accounts outside the allow-list.
	ErrUnauthorized = errors.New("ledger: caller not authorized")
	// ErrForbidden marks administrator-only calls from other accounts.
	ErrForbidden = errors.New("ledger: administrator required")
	// ErrInvalidAmount marks recording calls with nil or negative values.
	ErrInvalidAmount = errors.New("ledger: amount must be non-negative")
)

var (
	recordPrefix = []byte("ledger/record/")
	accountsKey  = []byte("ledger/accounts")
	allowKey     = []byte("ledger/authorized")
)

// storage abstracts the subset of state manager functionality required by the
// user ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func recordKey(account common.Address) []byte {
	return append(append([]byte(nil), recordPrefix...), account.Bytes()...)
}

// Ledger persists per-account marketplace statistics and blacklist flags. A
// single instance is shared by every venue engine so cross-venue aggregation
// stays coherent. Mutating calls are restricted to an allow-list of caller
// identities; blacklist and allow-list management require the administrator.
type Ledger struct {
	mu         sync.RWMutex
	store      storage
	admin      common.Address
	authorized map[common.Address]bool
	emitter    events.Emitter
}

// NewLedger constructs a ledger bound to the provided storage backend. The
// administrator identity is fixed at construction. Any allow-list persisted by
// a previous run is restored.
func NewLedger(store storage, admin common.Address) (*Ledger, error) {
	l := &Ledger{
		store:      store,
		admin:      admin,
		authorized: make(map[common.Address]bool),
		emitter:    events.NoopEmitter{},
	}
	var persisted []common.Address
	if store != nil {
		if _, err := store.KVGet(allowKey, &persisted); err != nil {
			return nil, err
		}
	}
	for _, account := range persisted {
		l.authorized[account] = true
	}
	return l, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(evt)
}

func (l *Ledger) requireStore() error {
	if l == nil || l.store == nil {
		return fmt.Errorf("ledger: storage not configured")
	}
	return nil
}

// requireAuthorized rejects callers outside the allow-list. The check holds
// even for callers holding a direct reference to the ledger.
func (l *Ledger) requireAuthorized(caller common.Address) error {
	if !l.authorized[caller] {
		return ErrUnauthorized
	}
	return nil
}

func (l *Ledger) requireAdmin(caller common.Address) error {
	if caller != l.admin {
		return ErrForbidden
	}
	return nil
}

// loadOrCreate fetches the record for the account, lazily creating it on first
// activity. New records are not indexed here; storeRecord appends them to the
// creation-order index only once the record itself is persisted.
func (l *Ledger) loadOrCreate(account common.Address) (*UserRecord, error) {
	rec := &UserRecord{}
	ok, err := l.store.KVGet(recordKey(account), rec)
	if err != nil {
		return nil, err
	}
	if ok {
		return rec.ensureAmounts(), nil
	}
	return newUserRecord(account), nil
}

// storeRecord persists the record, then makes sure the account appears in the
// creation-order index. Writing the index second means a failed record write
// never leaves a phantom index entry; the membership check keeps retries from
// duplicating one.
func (l *Ledger) storeRecord(rec *UserRecord) error {
	if err := l.store.KVPut(recordKey(rec.Address), rec); err != nil {
		return err
	}
	var accounts []common.Address
	if _, err := l.store.KVGet(accountsKey, &accounts); err != nil {
		return err
	}
	for _, existing := range accounts {
		if existing == rec.Address {
			return nil
		}
	}
	accounts = append(accounts, rec.Address)
	return l.store.KVPut(accountsKey, accounts)
}

// RecordListingCreated increments the seller's fixed-price listing counter and
// appends the listing id to the history list.
func (l *Ledger) RecordListingCreated(caller, seller common.Address, listingID uint64) error {
	if err := l.requireStore(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireAuthorized(caller); err != nil {
		return err
	}
	rec, err := l.loadOrCreate(seller)
	if err != nil {
		return err
	}
	rec.ListingsCreated++
	rec.ListedItemIDs = append(rec.ListedItemIDs, listingID)
	return l.storeRecord(rec)
}

// RecordOrderCreated increments the seller's order counter and appends the
// order id to the history list.
func (l *Ledger) RecordOrderCreated(caller, seller common.Address, orderID uint64) error {
	if err := l.requireStore(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireAuthorized(caller); err != nil {
		return err
	}
	rec, err := l.loadOrCreate(seller)
	if err != nil {
		return err
	}
	rec.OrdersListed++
	rec.ListedOrderIDs = append(rec.ListedOrderIDs, orderID)
	return l.storeRecord(rec)
}

// RecordAuctionCreated increments the seller's auction counter and appends the
// auction id to the history list.
func (l *Ledger) RecordAuctionCreated(caller, seller common.Address, auctionID uint64) error {
	if err := l.requireStore(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireAuthorized(caller); err != nil {
		return err
	}
	rec, err := l.loadOrCreate(seller)
	if err != nil {
		return err
	}
	rec.AuctionsCreated++
	rec.CreatedAuctionIDs = append(rec.CreatedAuctionIDs, auctionID)
	return l.storeRecord(rec)
}

// RecordPurchase books a settled purchase against both sides. The buyer
// receives the kind-specific counter, history entry and purchased-value
// aggregate; the seller's sold-value aggregate is updated even when the seller
// has no prior record.
func (l *Ledger) RecordPurchase(caller common.Address, kind PurchaseKind, buyer, seller common.Address, refID uint64, price *big.Int) error {
	if err := l.requireStore(); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("ledger: unsupported purchase kind %q", kind)
	}
	if price == nil || price.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireAuthorized(caller); err != nil {
		return err
	}
	buyerRec, err := l.loadOrCreate(buyer)
	if err != nil {
		return err
	}
	switch kind {
	case KindOrder:
		buyerRec.OrderPurchases++
		buyerRec.PurchasedOrderIDs = append(buyerRec.PurchasedOrderIDs, refID)
	case KindFixedPrice:
		buyerRec.FixedPricePurchases++
		buyerRec.PurchasedItemIDs = append(buyerRec.PurchasedItemIDs, refID)
	case KindAuction:
		buyerRec.AuctionPurchases++
		buyerRec.PurchasedAuctionIDs = append(buyerRec.PurchasedAuctionIDs, refID)
	}
	buyerRec.TotalPurchasedValue = new(big.Int).Add(buyerRec.TotalPurchasedValue, price)
	if err := l.storeRecord(buyerRec); err != nil {
		return err
	}
	sellerRec, err := l.loadOrCreate(seller)
	if err != nil {
		return err
	}
	sellerRec.TotalSoldValue = new(big.Int).Add(sellerRec.TotalSoldValue, price)
	return l.storeRecord(sellerRec)
}

// RecordFeesPaid adds the amount to the payer's fee aggregate.
func (l *Ledger) RecordFeesPaid(caller, payer common.Address, amount *big.Int) error {
	if err := l.requireStore(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireAuthorized(caller); err != nil {
		return err
	}
	rec, err := l.loadOrCreate(payer)
	if err != nil {
		return err
	}
	rec.TotalFeesPaid = new(big.Int).Add(rec.TotalFeesPaid, amount)
	return l.storeRecord(rec)
}

// SetBlacklist updates the blacklist flags for the account. Only the
// administrator may call it. Writing the current values again is accepted as a
// no-op; the change event fires only when a flag actually flips.
func (l *Ledger) SetBlacklist(caller, account common.Address, sellerFlag, royaltyFlag bool) error {
	if err := l.requireStore(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	rec, err := l.loadOrCreate(account)
	if err != nil {
		return err
	}
	changed := rec.SellerBlacklisted != sellerFlag || rec.RoyaltyBlacklisted != royaltyFlag
	rec.SellerBlacklisted = sellerFlag
	rec.RoyaltyBlacklisted = royaltyFlag
	if err := l.storeRecord(rec); err != nil {
		return err
	}
	if changed {
		l.emit(blacklistUpdated{Account: account, Seller: sellerFlag, Royalty: royaltyFlag})
	}
	return nil
}

// Authorize adds the account to the mutating-call allow-list.
func (l *Ledger) Authorize(caller, account common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	l.authorized[account] = true
	return l.persistAllowList()
}

// Revoke removes the account from the mutating-call allow-list.
func (l *Ledger) Revoke(caller, account common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	delete(l.authorized, account)
	return l.persistAllowList()
}

func (l *Ledger) persistAllowList() error {
	if l.store == nil {
		return nil
	}
	accounts := make([]common.Address, 0, len(l.authorized))
	for account := range l.authorized {
		accounts = append(accounts, account)
	}
	return l.store.KVPut(allowKey, accounts)
}

// Record fetches the account's statistics. Accounts without activity report a
// zero-valued record rather than an error.
func (l *Ledger) Record(account common.Address) (*UserRecord, error) {
	if err := l.requireStore(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec := &UserRecord{}
	ok, err := l.store.KVGet(recordKey(account), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newUserRecord(account), nil
	}
	return rec.ensureAmounts().Clone(), nil
}

// IsSellerBlacklisted reports whether the account is barred from selling.
func (l *Ledger) IsSellerBlacklisted(account common.Address) (bool, error) {
	rec, err := l.Record(account)
	if err != nil {
		return false, err
	}
	return rec.SellerBlacklisted, nil
}

// IsRoyaltyBlacklisted reports whether royalty payouts to the account are
// suppressed.
func (l *Ledger) IsRoyaltyBlacklisted(account common.Address) (bool, error) {
	rec, err := l.Record(account)
	if err != nil {
		return false, err
	}
	return rec.RoyaltyBlacklisted, nil
}

// Accounts lists every recorded account in creation order.
func (l *Ledger) Accounts() ([]common.Address, error) {
	if err := l.requireStore(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var accounts []common.Address
	if _, err := l.store.KVGet(accountsKey, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// AggregateStatistics sums aggregates across every recorded account. The walk
// is linear in the account count, which is acceptable for the settlement core.
func (l *Ledger) AggregateStatistics() (Stats, error) {
	stats := Stats{
		TotalPurchasedValue: big.NewInt(0),
		TotalSoldValue:      big.NewInt(0),
		TotalFees:           big.NewInt(0),
	}
	if err := l.requireStore(); err != nil {
		return stats, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var accounts []common.Address
	if _, err := l.store.KVGet(accountsKey, &accounts); err != nil {
		return stats, err
	}
	for _, account := range accounts {
		rec := &UserRecord{}
		ok, err := l.store.KVGet(recordKey(account), rec)
		if err != nil {
			return stats, err
		}
		if !ok {
			continue
		}
		rec.ensureAmounts()
		stats.TotalListings += rec.ListingsCreated + rec.OrdersListed
		stats.TotalAuctions += rec.AuctionsCreated
		stats.TotalPurchasedValue.Add(stats.TotalPurchasedValue, rec.TotalPurchasedValue)
		stats.TotalSoldValue.Add(stats.TotalSoldValue, rec.TotalSoldValue)
		stats.TotalFees.Add(stats.TotalFees, rec.TotalFeesPaid)
	}
	return stats, nil
}
