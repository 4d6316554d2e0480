package market

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"tokenmart/common"
	"tokenmart/core/events"
	"tokenmart/custody"
	"tokenmart/ledger"
)

// auctionDuration is the fixed length of the bidding window in seconds.
const auctionDuration int64 = 24 * 60 * 60

// AuctionEngine runs English auctions with a fixed bidding window. The
// current highest bid is escrowed at the engine's module address and tracked
// in a running frozen-value counter so the operator can never sweep bidder
// funds through WithdrawOwnerBalance.
type AuctionEngine struct {
	mu      sync.Mutex
	store   *Store
	deeds   custody.Deeds
	bank    custody.Bank
	ledger  Recorder
	pricer  Pricer
	pauses  common.PauseView
	emitter events.Emitter
	module  ethcommon.Address
	owner   ethcommon.Address
	nowFn   func() int64
}

// NewAuctionEngine wires the engine to its collaborators. The owner account
// is the only identity allowed to withdraw accumulated non-escrowed balance.
func NewAuctionEngine(store *Store, deeds custody.Deeds, bank custody.Bank, recorder Recorder, pricer Pricer, owner ethcommon.Address) *AuctionEngine {
	return &AuctionEngine{
		store:  store,
		deeds:  deeds,
		bank:   bank,
		ledger: recorder,
		pricer: pricer,
		module: moduleAddress(moduleAuction),
		owner:  owner,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter attaches the event emitter used for lifecycle events.
func (e *AuctionEngine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.emitter = emitter
	e.mu.Unlock()
}

// SetPauses attaches the administrative pause switchboard.
func (e *AuctionEngine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.pauses = p
	e.mu.Unlock()
}

// SetNowFunc overrides the engine clock. Intended for tests.
func (e *AuctionEngine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.mu.Lock()
	e.nowFn = now
	e.mu.Unlock()
}

// ModuleAddress reports the escrow account the engine settles through.
func (e *AuctionEngine) ModuleAddress() ethcommon.Address {
	return e.module
}

// Create escrows the asset and opens an auction with the fixed bidding
// window, returning the new auction identifier.
func (e *AuctionEngine) Create(seller ethcommon.Address, asset custody.AssetRef, startPrice *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleAuction); err != nil {
		return 0, err
	}
	if startPrice == nil || startPrice.Sign() <= 0 {
		return 0, fmt.Errorf("%w: start price must be positive", ErrInvalidArgument)
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
	id, err := e.store.NextAuctionID()
	if err != nil {
		return 0, err
	}
	now := e.nowFn()
	auction := &Auction{
		ID:         id,
		Asset:      asset.Clone(),
		Seller:     seller,
		StartTime:  now,
		EndTime:    now + auctionDuration,
		StartPrice: new(big.Int).Set(startPrice),
		CurrentBid: big.NewInt(0),
		Status:     AuctionOpen,
	}
	if err := e.store.AuctionPut(auction); err != nil {
		return 0, err
	}
	if err := e.ledger.RecordAuctionCreated(e.module, seller, id); err != nil {
		return 0, err
	}
	emit(e.emitter, newAuctionEvent(EventTypeAuctionCreated, auction, map[string]string{
		"endTime": strconv.FormatInt(auction.EndTime, 10),
	}))
	return id, nil
}

// Bid escrows a new highest bid. The previous bidder, if any, is refunded in
// the same operation; if that refund fails the new bid is unwound and no
// state changes.
func (e *AuctionEngine) Bid(bidder ethcommon.Address, id uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleAuction); err != nil {
		return err
	}
	auction, err := e.loadAuction(id)
	if err != nil {
		return err
	}
	if auction.Status != AuctionOpen {
		return fmt.Errorf("%w: auction %d", ErrNotOpen, id)
	}
	now := e.nowFn()
	if now >= auction.EndTime {
		return fmt.Errorf("%w: bidding window closed", ErrNotOpen)
	}
	if bidder == auction.Seller {
		return fmt.Errorf("%w: seller may not bid", ErrPermissionDenied)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: bid must be positive", ErrInvalidArgument)
	}
	if amount.Cmp(auction.StartPrice) < 0 {
		return fmt.Errorf("%w: bid below start price", ErrInsufficientFunds)
	}
	if auction.HasBid() && amount.Cmp(auction.CurrentBid) <= 0 {
		return fmt.Errorf("%w: bid not above current bid", ErrInsufficientFunds)
	}
	journal := newTransferJournal(e.bank)
	if err := collectPayment(journal, bidder, e.module, amount); err != nil {
		return err
	}
	prevBidder := auction.CurrentBidder
	prevBid := new(big.Int).Set(auction.CurrentBid)
	if auction.HasBid() {
		if err := journal.move(e.module, prevBidder, prevBid); err != nil {
			return abortSettlement(journal, fmt.Errorf("%w: previous bidder refund: %v", ErrTransferFailed, err))
		}
	}
	frozen, err := e.store.FrozenValue()
	if err != nil {
		return abortSettlement(journal, err)
	}
	frozen.Sub(frozen, prevBid)
	frozen.Add(frozen, amount)
	if err := e.store.SetFrozenValue(frozen); err != nil {
		return abortSettlement(journal, err)
	}
	auction.CurrentBid = new(big.Int).Set(amount)
	auction.CurrentBidder = bidder
	if err := e.store.AuctionPut(auction); err != nil {
		frozen.Sub(frozen, amount)
		frozen.Add(frozen, prevBid)
		if rbErr := e.store.SetFrozenValue(frozen); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return abortSettlement(journal, err)
	}
	extra := map[string]string{}
	if prevBidder != (ethcommon.Address{}) {
		extra["previousBidder"] = prevBidder.Hex()
		extra["previousBid"] = prevBid.String()
	}
	emit(e.emitter, newAuctionEvent(EventTypeAuctionBid, auction, extra))
	return nil
}

// Cancel closes an open auction before its deadline. The current bidder, if
// any, is refunded and the bidding window closes immediately.
func (e *AuctionEngine) Cancel(caller ethcommon.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleAuction); err != nil {
		return err
	}
	auction, err := e.loadAuction(id)
	if err != nil {
		return err
	}
	if auction.Status != AuctionOpen {
		return fmt.Errorf("%w: auction %d", ErrNotOpen, id)
	}
	now := e.nowFn()
	if now >= auction.EndTime {
		return fmt.Errorf("%w: bidding window closed", ErrNotOpen)
	}
	if caller != auction.Seller {
		return fmt.Errorf("%w: only the seller may cancel", ErrPermissionDenied)
	}
	journal := newTransferJournal(e.bank)
	var frozen *big.Int
	if auction.HasBid() {
		if err := journal.move(e.module, auction.CurrentBidder, auction.CurrentBid); err != nil {
			return fmt.Errorf("%w: bidder refund: %v", ErrTransferFailed, err)
		}
		var err error
		frozen, err = e.store.FrozenValue()
		if err != nil {
			return abortSettlement(journal, err)
		}
		frozen.Sub(frozen, auction.CurrentBid)
		if err := e.store.SetFrozenValue(frozen); err != nil {
			return abortSettlement(journal, err)
		}
	}
	auction.Status = AuctionCancelled
	auction.EndTime = now
	if err := e.store.AuctionPut(auction); err != nil {
		if frozen != nil {
			frozen.Add(frozen, auction.CurrentBid)
			if rbErr := e.store.SetFrozenValue(frozen); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
		}
		return abortSettlement(journal, err)
	}
	emit(e.emitter, newAuctionEvent(EventTypeAuctionCancelled, auction, nil))
	return nil
}

// WithdrawAsset releases the escrowed asset of a cancelled auction back to
// the seller, exactly once. Auctions that complete without a bid return the
// asset automatically and need no withdrawal.
func (e *AuctionEngine) WithdrawAsset(caller ethcommon.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleAuction); err != nil {
		return err
	}
	auction, err := e.loadAuction(id)
	if err != nil {
		return err
	}
	if auction.Status != AuctionCancelled {
		return fmt.Errorf("%w: auction %d is not cancelled", ErrNotOpen, id)
	}
	if caller != auction.Seller {
		return fmt.Errorf("%w: only the seller may withdraw", ErrPermissionDenied)
	}
	if auction.AssetWithdrawn {
		return fmt.Errorf("%w: asset already withdrawn", ErrInvalidArgument)
	}
	if err := e.deeds.Transfer(auction.Asset, e.module, auction.Seller); err != nil {
		return fmt.Errorf("%w: asset release: %v", ErrTransferFailed, err)
	}
	auction.AssetWithdrawn = true
	if err := e.store.AuctionPut(auction); err != nil {
		if rbErr := e.deeds.Transfer(auction.Asset, auction.Seller, e.module); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return err
	}
	emit(e.emitter, newAuctionEvent(EventTypeAuctionAssetWithdrawn, auction, nil))
	return nil
}

// Complete settles an auction whose deadline has passed. Anyone may call it.
// Without a bidder the asset simply returns to the seller; otherwise the
// highest bid is distributed and the asset goes to the winner.
func (e *AuctionEngine) Complete(id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleAuction); err != nil {
		return err
	}
	auction, err := e.loadAuction(id)
	if err != nil {
		return err
	}
	if auction.Status != AuctionOpen {
		return fmt.Errorf("%w: auction %d", ErrNotOpen, id)
	}
	now := e.nowFn()
	if now < auction.EndTime {
		return fmt.Errorf("%w: bidding window still open", ErrNotOpen)
	}
	if !auction.HasBid() {
		if err := e.deeds.Transfer(auction.Asset, e.module, auction.Seller); err != nil {
			return fmt.Errorf("%w: asset return: %v", ErrTransferFailed, err)
		}
		auction.Status = AuctionCompleted
		auction.AssetWithdrawn = true
		if err := e.store.AuctionPut(auction); err != nil {
			if rbErr := e.deeds.Transfer(auction.Asset, auction.Seller, e.module); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return err
		}
		emit(e.emitter, newAuctionEvent(EventTypeAuctionExpired, auction, nil))
		return nil
	}
	dist, err := e.pricer.CalculateDistribution(auction.Asset, auction.CurrentBid)
	if err != nil {
		return err
	}
	journal := newTransferJournal(e.bank)
	if err := settleSale(journal, e.emitter, e.module, auction.Seller, e.pricer.FeeRecipient(), dist); err != nil {
		return abortSettlement(journal, err)
	}
	if err := e.deeds.Transfer(auction.Asset, e.module, auction.CurrentBidder); err != nil {
		return abortSettlement(journal, fmt.Errorf("%w: asset release: %v", ErrTransferFailed, err))
	}
	frozen, err := e.store.FrozenValue()
	if err != nil {
		return e.abortCompletion(journal, auction, err)
	}
	frozen.Sub(frozen, auction.CurrentBid)
	if err := e.store.SetFrozenValue(frozen); err != nil {
		return e.abortCompletion(journal, auction, err)
	}
	auction.Status = AuctionCompleted
	auction.AssetWithdrawn = true
	if err := e.store.AuctionPut(auction); err != nil {
		frozen.Add(frozen, auction.CurrentBid)
		if rbErr := e.store.SetFrozenValue(frozen); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return e.abortCompletion(journal, auction, err)
	}
	if err := e.ledger.RecordPurchase(e.module, ledger.KindAuction, auction.CurrentBidder, auction.Seller, id, auction.CurrentBid); err != nil {
		return err
	}
	if err := e.ledger.RecordFeesPaid(e.module, auction.CurrentBidder, dist.Fee); err != nil {
		return err
	}
	emit(e.emitter, newAuctionEvent(EventTypeAuctionCompleted, auction, map[string]string{
		"fee":          formatAmount(dist.Fee),
		"royalty":      formatAmount(dist.Royalty),
		"sellerAmount": formatAmount(dist.SellerAmount),
	}))
	return nil
}

// abortCompletion returns the released asset to the module escrow and unwinds
// the settlement transfers after a failure past the asset release.
func (e *AuctionEngine) abortCompletion(journal *transferJournal, auction *Auction, cause error) error {
	if rbErr := e.deeds.Transfer(auction.Asset, auction.CurrentBidder, e.module); rbErr != nil {
		cause = errors.Join(cause, rbErr)
	}
	return abortSettlement(journal, cause)
}

// WithdrawOwnerBalance moves the engine's accumulated balance, minus the
// escrowed bids, to the given account. Only the configured owner may call it.
func (e *AuctionEngine) WithdrawOwnerBalance(caller, to ethcommon.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return nil, fmt.Errorf("%w: only the owner may withdraw", ErrPermissionDenied)
	}
	balance, err := e.bank.BalanceOf(e.module)
	if err != nil {
		return nil, err
	}
	frozen, err := e.store.FrozenValue()
	if err != nil {
		return nil, err
	}
	withdrawable := new(big.Int).Sub(balance, frozen)
	if withdrawable.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := e.bank.Transfer(e.module, to, withdrawable); err != nil {
		return nil, fmt.Errorf("%w: owner withdrawal: %v", ErrTransferFailed, err)
	}
	return withdrawable, nil
}

// FrozenValue reports the total bid value currently escrowed for open
// auctions.
func (e *AuctionEngine) FrozenValue() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.FrozenValue()
}

// Get returns a copy of the auction.
func (e *AuctionEngine) Get(id uint64) (*Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadAuction(id)
}

func (e *AuctionEngine) loadAuction(id uint64) (*Auction, error) {
	auction, ok, err := e.store.AuctionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: auction %d", ErrNotFound, id)
	}
	return auction, nil
}
