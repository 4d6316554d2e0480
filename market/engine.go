package market

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tokenmart/core/events"
	"tokenmart/custody"
	"tokenmart/fees"
	"tokenmart/ledger"
)

const (
	moduleListing   = "listing"
	moduleAuction   = "auction"
	moduleOrderBook = "orderbook"
)

// moduleAddress derives a deterministic escrow account for an engine from its
// module name. The address has no known private key.
func moduleAddress(name string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("tokenmart/module/" + name))[12:])
}

// Recorder is the slice of the user ledger the engines depend on. Engines
// pass their module address as the caller identity.
type Recorder interface {
	RecordListingCreated(caller, seller common.Address, listingID uint64) error
	RecordOrderCreated(caller, seller common.Address, orderID uint64) error
	RecordAuctionCreated(caller, seller common.Address, auctionID uint64) error
	RecordPurchase(caller common.Address, kind ledger.PurchaseKind, buyer, seller common.Address, refID uint64, price *big.Int) error
	RecordFeesPaid(caller, payer common.Address, amount *big.Int) error
	IsSellerBlacklisted(account common.Address) (bool, error)
}

// Pricer is the slice of the fee calculator the engines depend on.
type Pricer interface {
	FeeRecipient() common.Address
	CalculateFee(totalPrice *big.Int) (*big.Int, error)
	CalculateDistribution(asset custody.AssetRef, totalPrice *big.Int) (fees.Distribution, error)
}

// settleSale pays out a completed sale from the module escrow account. The
// royalty payout is best effort: a failure is reported through an event and
// the amount stays with the module for manual recovery. Fee and seller
// payouts abort the settlement on failure; the caller rolls the journal back.
func settleSale(journal *transferJournal, emitter events.Emitter, module, seller common.Address, feeRecipient common.Address, dist fees.Distribution) error {
	if dist.Royalty != nil && dist.Royalty.Sign() > 0 && dist.RoyaltyRecipient != (common.Address{}) {
		if err := journal.move(module, dist.RoyaltyRecipient, dist.Royalty); err != nil {
			emit(emitter, royaltyPayoutFailed{recipient: dist.RoyaltyRecipient, amount: dist.Royalty, reason: err.Error()})
		}
	}
	if err := journal.move(module, feeRecipient, dist.Fee); err != nil {
		return fmt.Errorf("%w: fee payout: %v", ErrTransferFailed, err)
	}
	if err := journal.move(module, seller, dist.SellerAmount); err != nil {
		return fmt.Errorf("%w: seller payout: %v", ErrTransferFailed, err)
	}
	return nil
}

// collectPayment pulls the buyer's payment into the module escrow account,
// translating a balance shortfall into the funds error callers expect.
func collectPayment(journal *transferJournal, buyer, module common.Address, payment *big.Int) error {
	if err := journal.move(buyer, module, payment); err != nil {
		if errors.Is(err, custody.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		return fmt.Errorf("%w: payment: %v", ErrTransferFailed, err)
	}
	return nil
}

// abortSettlement reverses the journal and returns the original error. A
// rollback failure is joined so the inconsistency is visible to the caller.
func abortSettlement(journal *transferJournal, cause error) error {
	if rbErr := journal.rollback(); rbErr != nil {
		return errors.Join(cause, rbErr)
	}
	return cause
}
