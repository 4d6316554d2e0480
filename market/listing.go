package market

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"tokenmart/common"
	"tokenmart/core/events"
	"tokenmart/custody"
	"tokenmart/ledger"
)

// ListingEngine runs the fixed-price sale state machine over single discrete
// assets. Listed assets are escrowed at the engine's module address until
// they are sold or withdrawn after cancellation.
type ListingEngine struct {
	mu      sync.Mutex
	store   *Store
	deeds   custody.Deeds
	bank    custody.Bank
	ledger  Recorder
	pricer  Pricer
	pauses  common.PauseView
	emitter events.Emitter
	module  ethcommon.Address
	nowFn   func() int64
}

// NewListingEngine wires the engine to its collaborators. Pauses and the
// event emitter are optional and attached through setters.
func NewListingEngine(store *Store, deeds custody.Deeds, bank custody.Bank, recorder Recorder, pricer Pricer) *ListingEngine {
	return &ListingEngine{
		store:  store,
		deeds:  deeds,
		bank:   bank,
		ledger: recorder,
		pricer: pricer,
		module: moduleAddress(moduleListing),
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter attaches the event emitter used for lifecycle events.
func (e *ListingEngine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.emitter = emitter
	e.mu.Unlock()
}

// SetPauses attaches the administrative pause switchboard.
func (e *ListingEngine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.pauses = p
	e.mu.Unlock()
}

// SetNowFunc overrides the engine clock. Intended for tests.
func (e *ListingEngine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.mu.Lock()
	e.nowFn = now
	e.mu.Unlock()
}

// ModuleAddress reports the escrow account the engine settles through.
func (e *ListingEngine) ModuleAddress() ethcommon.Address {
	return e.module
}

// List escrows the asset and opens a fixed-price listing, returning the new
// listing identifier.
func (e *ListingEngine) List(seller ethcommon.Address, asset custody.AssetRef, price *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleListing); err != nil {
		return 0, err
	}
	if price == nil || price.Sign() <= 0 {
		return 0, fmt.Errorf("%w: price must be positive", ErrInvalidArgument)
	}
	blacklisted, err := e.ledger.IsSellerBlacklisted(seller)
	if err != nil {
		return 0, err
	}
	if blacklisted {
		return 0, fmt.Errorf("%w: seller is blacklisted", ErrPermissionDenied)
	}
	owner, err := e.deeds.OwnerOf(asset)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInsufficientCustody, err)
	}
	if owner != seller {
		return 0, fmt.Errorf("%w: seller does not hold the asset", ErrInsufficientCustody)
	}
	authorized, err := e.deeds.IsAuthorized(asset, e.module)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInsufficientCustody, err)
	}
	if !authorized {
		return 0, fmt.Errorf("%w: asset not approved for escrow", ErrInsufficientCustody)
	}
	if err := e.deeds.Transfer(asset, seller, e.module); err != nil {
		return 0, fmt.Errorf("%w: escrow: %v", ErrTransferFailed, err)
	}
	id, err := e.store.NextListingID()
	if err != nil {
		return 0, err
	}
	listing := &Listing{
		ID:        id,
		Asset:     asset.Clone(),
		Price:     new(big.Int).Set(price),
		Seller:    seller,
		Status:    ListingOnSale,
		CreatedAt: e.nowFn(),
	}
	if err := e.store.ListingPut(listing); err != nil {
		return 0, err
	}
	if err := e.ledger.RecordListingCreated(e.module, seller, id); err != nil {
		return 0, err
	}
	emit(e.emitter, newListingEvent(EventTypeListingCreated, listing, nil))
	return id, nil
}

// ChangePrice updates the asking price of an open listing. Only the seller
// may change it, and the new price must differ from the current one.
func (e *ListingEngine) ChangePrice(caller ethcommon.Address, id uint64, newPrice *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleListing); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status != ListingOnSale {
		return fmt.Errorf("%w: listing %d", ErrNotOnSale, id)
	}
	if caller != listing.Seller {
		return fmt.Errorf("%w: only the seller may change the price", ErrPermissionDenied)
	}
	if newPrice == nil || newPrice.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidArgument)
	}
	if newPrice.Cmp(listing.Price) == 0 {
		return fmt.Errorf("%w: price unchanged", ErrInvalidArgument)
	}
	oldPrice := listing.Price
	listing.Price = new(big.Int).Set(newPrice)
	if err := e.store.ListingPut(listing); err != nil {
		return err
	}
	emit(e.emitter, newListingEvent(EventTypeListingPriceChanged, listing, map[string]string{
		"oldPrice": oldPrice.String(),
	}))
	return nil
}

// Buy settles an open listing. Payment must cover the asking price; any
// overpayment is refunded. The distribution is computed over the asking
// price, the royalty payout is best effort, and every other transfer aborts
// the purchase on failure with no balance changes surviving.
func (e *ListingEngine) Buy(buyer ethcommon.Address, id uint64, payment *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleListing); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status != ListingOnSale {
		return fmt.Errorf("%w: listing %d", ErrNotOnSale, id)
	}
	if payment == nil || payment.Sign() <= 0 {
		return fmt.Errorf("%w: payment must be positive", ErrInvalidArgument)
	}
	if payment.Cmp(listing.Price) < 0 {
		return fmt.Errorf("%w: payment below asking price", ErrInsufficientFunds)
	}
	dist, err := e.pricer.CalculateDistribution(listing.Asset, listing.Price)
	if err != nil {
		return err
	}
	journal := newTransferJournal(e.bank)
	if err := collectPayment(journal, buyer, e.module, payment); err != nil {
		return err
	}
	if err := settleSale(journal, e.emitter, e.module, listing.Seller, e.pricer.FeeRecipient(), dist); err != nil {
		return abortSettlement(journal, err)
	}
	overpay := new(big.Int).Sub(payment, listing.Price)
	if err := journal.move(e.module, buyer, overpay); err != nil {
		return abortSettlement(journal, fmt.Errorf("%w: refund: %v", ErrTransferFailed, err))
	}
	if err := e.deeds.Transfer(listing.Asset, e.module, buyer); err != nil {
		return abortSettlement(journal, fmt.Errorf("%w: asset release: %v", ErrTransferFailed, err))
	}
	listing.Status = ListingSold
	if err := e.store.ListingPut(listing); err != nil {
		if rbErr := e.deeds.Transfer(listing.Asset, buyer, e.module); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return abortSettlement(journal, err)
	}
	if err := e.ledger.RecordPurchase(e.module, ledger.KindFixedPrice, buyer, listing.Seller, id, listing.Price); err != nil {
		return err
	}
	if err := e.ledger.RecordFeesPaid(e.module, buyer, dist.Fee); err != nil {
		return err
	}
	emit(e.emitter, newListingEvent(EventTypeListingSold, listing, map[string]string{
		"buyer":        buyer.Hex(),
		"fee":          formatAmount(dist.Fee),
		"royalty":      formatAmount(dist.Royalty),
		"sellerAmount": formatAmount(dist.SellerAmount),
	}))
	return nil
}

// Cancel closes an open listing. The escrowed asset stays with the engine
// until the seller withdraws it.
func (e *ListingEngine) Cancel(caller ethcommon.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleListing); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status != ListingOnSale {
		return fmt.Errorf("%w: listing %d", ErrNotOnSale, id)
	}
	if caller != listing.Seller {
		return fmt.Errorf("%w: only the seller may cancel", ErrPermissionDenied)
	}
	listing.Status = ListingCancelled
	if err := e.store.ListingPut(listing); err != nil {
		return err
	}
	emit(e.emitter, newListingEvent(EventTypeListingCancelled, listing, nil))
	return nil
}

// WithdrawAsset releases the escrowed asset of a cancelled listing back to
// the seller, exactly once.
func (e *ListingEngine) WithdrawAsset(caller ethcommon.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleListing); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status != ListingCancelled {
		return fmt.Errorf("%w: listing %d is not cancelled", ErrNotOnSale, id)
	}
	if caller != listing.Seller {
		return fmt.Errorf("%w: only the seller may withdraw", ErrPermissionDenied)
	}
	if listing.AssetWithdrawn {
		return fmt.Errorf("%w: asset already withdrawn", ErrInvalidArgument)
	}
	if err := e.deeds.Transfer(listing.Asset, e.module, listing.Seller); err != nil {
		return fmt.Errorf("%w: asset release: %v", ErrTransferFailed, err)
	}
	listing.AssetWithdrawn = true
	if err := e.store.ListingPut(listing); err != nil {
		if rbErr := e.deeds.Transfer(listing.Asset, listing.Seller, e.module); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return err
	}
	emit(e.emitter, newListingEvent(EventTypeListingAssetWithdrawn, listing, nil))
	return nil
}

// Get returns a copy of the listing. Mutating the copy does not affect the
// stored instance.
func (e *ListingEngine) Get(id uint64) (*Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	return listing, nil
}

func (e *ListingEngine) loadListing(id uint64) (*Listing, error) {
	listing, ok, err := e.store.ListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: listing %d", ErrNotFound, id)
	}
	return listing, nil
}
