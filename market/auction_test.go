package market

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// refreshOracle reissues the quote at the fixture's current clock so tests
// that jump past the auction deadline do not trip the staleness hard stop.
func (f *fixture) refreshOracle() {
	f.t.Helper()
	if err := f.oracle.Set(big.NewInt(200_000_000_000), 8, time.Unix(f.now-10, 0)); err != nil {
		f.t.Fatalf("refresh oracle: %v", err)
	}
}

func TestAuctionBidRefundAndCompletion(t *testing.T) {
	f := newFixture(t)
	seller := addr(0xA1)
	bidderA := addr(0xB1)
	bidderB := addr(0xB2)
	asset := f.mintDeed(seller, f.auctions.ModuleAddress(), 1)
	f.fund(bidderA, 10)
	f.fund(bidderB, 15)

	id, err := f.auctions.Create(seller, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.auctions.Bid(bidderA, id, big.NewInt(10)); err != nil {
		t.Fatalf("bid A: %v", err)
	}
	if err := f.auctions.Bid(bidderB, id, big.NewInt(15)); err != nil {
		t.Fatalf("bid B: %v", err)
	}
	// A's escrowed bid comes back in full when B outbids.
	f.requireBalance(bidderA, 10)
	f.requireBalance(bidderB, 0)
	frozen, err := f.auctions.FrozenValue()
	if err != nil {
		t.Fatalf("frozen value: %v", err)
	}
	if frozen.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("frozen = %s, want 15", frozen)
	}

	f.advance(auctionDuration + 1)
	f.refreshOracle()
	if err := f.auctions.Complete(id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// 2.5% of 15 floors to 0, so the 1-unit USD floor applies: fee 1, seller 14.
	f.requireBalance(seller, 14)
	f.requireBalance(f.feeRecipient, 1)
	if owner, _ := f.deeds.OwnerOf(asset); owner != bidderB {
		t.Fatalf("asset owner = %s, want winning bidder", owner.Hex())
	}
	frozen, _ = f.auctions.FrozenValue()
	if frozen.Sign() != 0 {
		t.Fatalf("frozen after completion = %s, want 0", frozen)
	}
	auction, _ := f.auctions.Get(id)
	if auction.Status != AuctionCompleted {
		t.Fatalf("status = %d, want completed", auction.Status)
	}
	winnerRec := f.record(bidderB)
	if winnerRec.AuctionPurchases != 1 {
		t.Fatalf("auction purchases = %d, want 1", winnerRec.AuctionPurchases)
	}
	if winnerRec.TotalPurchasedValue.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("purchased value = %s, want 15", winnerRec.TotalPurchasedValue)
	}
	if !f.emitter.has(EventTypeAuctionCompleted) {
		t.Fatalf("missing completion event, got %v", f.emitter.eventTypes())
	}
}

func TestAuctionBidValidation(t *testing.T) {
	f := newFixture(t)
	seller := addr(0xA1)
	bidder := addr(0xB1)
	asset := f.mintDeed(seller, f.auctions.ModuleAddress(), 1)
	f.fund(bidder, 100)
	f.fund(seller, 100)

	id, err := f.auctions.Create(seller, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.auctions.Bid(bidder, id, big.NewInt(0)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("zero bid error = %v", err)
	}
	if err := f.auctions.Bid(bidder, id, big.NewInt(9)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("below start price error = %v", err)
	}
	if err := f.auctions.Bid(seller, id, big.NewInt(10)); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("seller bid error = %v", err)
	}
	if err := f.auctions.Bid(bidder, id, big.NewInt(10)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := f.auctions.Bid(addr(0xB2), id, big.NewInt(10)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("equal bid error = %v", err)
	}
	f.advance(auctionDuration + 1)
	if err := f.auctions.Bid(bidder, id, big.NewInt(20)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("late bid error = %v", err)
	}
}

func TestAuctionBidRollbackOnRefundFailure(t *testing.T) {
	f := newFixture(t)
	seller := addr(0xA1)
	bidderA := addr(0xB1)
	bidderB := addr(0xB2)
	asset := f.mintDeed(seller, f.auctions.ModuleAddress(), 1)
	f.fund(bidderA, 10)
	f.fund(bidderB, 15)

	id, err := f.auctions.Create(seller, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.auctions.Bid(bidderA, id, big.NewInt(10)); err != nil {
		t.Fatalf("bid A: %v", err)
	}
	f.bank.failTo[bidderA] = true
	if err := f.auctions.Bid(bidderB, id, big.NewInt(15)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("bid B error = %v", err)
	}
	// The failed bid is fully unwound: B keeps its funds, A stays the
	// highest bidder and the frozen counter never moved.
	f.requireBalance(bidderB, 15)
	auction, _ := f.auctions.Get(id)
	if auction.CurrentBidder != bidderA || auction.CurrentBid.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("auction bid = %s by %s, want 10 by A", auction.CurrentBid, auction.CurrentBidder.Hex())
	}
	frozen, _ := f.auctions.FrozenValue()
	if frozen.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("frozen = %s, want 10", frozen)
	}
}

func TestAuctionBidRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	seller := addr(0xA1)
	bidder := addr(0xB1)
	asset := f.mintDeed(seller, f.auctions.ModuleAddress(), 1)
	f.fund(bidder, 20)

	id, err := f.auctions.Create(seller, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.db.failKeys["market/auction/1"] = true

	if err := f.auctions.Bid(bidder, id, big.NewInt(20)); err == nil {
		t.Fatalf("bid should fail when the auction cannot be persisted")
	}
	// The escrowed payment comes back and the frozen counter is restored.
	f.requireBalance(bidder, 20)
	f.requireBalance(f.auctions.ModuleAddress(), 0)
	frozen, err := f.auctions.FrozenValue()
	if err != nil {
		t.Fatalf("frozen value: %v", err)
	}
	if frozen.Sign() != 0 {
		t.Fatalf("frozen = %s, want 0", frozen)
	}

	delete(f.db.failKeys, "market/auction/1")
	auction, err := f.auctions.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if auction.HasBid() {
		t.Fatalf("auction records a bid that never persisted")
	}
	if err := f.auctions.Bid(bidder, id, big.NewInt(20)); err != nil {
		t.Fatalf("bid after recovery: %v", err)
	}
}

func TestAuctionCompleteRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	seller := addr(0xA1)
	bidder := addr(0xB1)
	asset := f.mintDeed(seller, f.auctions.ModuleAddress(), 1)
	f.fund(bidder, 20)

	id, err := f.auctions.Create(seller, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.auctions.Bid(bidder, id, big.NewInt(20)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	f.advance(auctionDuration + 1)
	f.refreshOracle()
	f.db.failKeys["market/auction/1"] = true

	if err := f.auctions.Complete(id); err == nil {
		t.Fatalf("complete should fail when the auction cannot be persisted")
	}
	// Settlement transfers, asset custody and the frozen counter all revert.
	f.requireBalance(seller, 0)
	f.requireBalance(f.feeRecipient, 0)
	f.requireBalance(f.auctions.ModuleAddress(), 20)
	if owner, _ := f.deeds.OwnerOf(asset); owner != f.auctions.ModuleAddress() {
		t.Fatalf("asset owner = %s, want escrow", owner.Hex())
	}
	frozen, _ := f.auctions.FrozenValue()
	if frozen.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("frozen = %s, want 20", frozen)
	}

	delete(f.db.failKeys, "market/auction/1")
	auction, err := f.auctions.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if auction.Status != AuctionOpen {
		t.Fatalf("status = %d, want open", auction.Status)
	}
	if err := f.auctions.Complete(id); err != nil {
		t.Fatalf("complete after recovery: %v", err)
	}
	f.requireBalance(seller, 19)
	f.requireBalance(f.feeRecipient, 1)
	frozen, _ = f.auctions.FrozenValue()
	if frozen.Sign() != 0 {
		t.Fatalf("frozen after completion = %s, want 0", frozen)
	}
}

func TestAuctionCancelRefundsBidder(t *testing.T) {
	f := newFixture(t)
	seller := addr(0xA1)
	bidder := addr(0xB1)
	asset := f.mintDeed(seller, f.auctions.ModuleAddress(), 1)
	f.fund(bidder, 10)

	id, err := f.auctions.Create(seller, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.auctions.Bid(bidder, id, big.NewInt(10)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := f.auctions.Cancel(addr(0xB2), id); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("non-seller cancel error = %v", err)
	}
	if err := f.auctions.Cancel(seller, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.requireBalance(bidder, 10)
	frozen, _ := f.auctions.FrozenValue()
	if frozen.Sign() != 0 {
		t.Fatalf("frozen after cancel = %s, want 0", frozen)
	}
	auction, _ := f.auctions.Get(id)
	if auction.Status != AuctionCancelled {
		t.Fatalf("status = %d, want cancelled", auction.Status)
	}
	if err := f.auctions.Bid(bidder, id, big.NewInt(20)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("bid on cancelled error = %v", err)
	}

	if err := f.auctions.WithdrawAsset(seller, id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if owner, _ := f.deeds.OwnerOf(asset); owner != seller {
		t.Fatalf("asset owner = %s, want seller", owner.Hex())
	}
	if err := f.auctions.WithdrawAsset(seller, id); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("double withdraw error = %v", err)
	}
}

func TestAuctionCancelAfterDeadlineRejected(t *testing.T) {
	f := newFixture(t)
	seller := addr(0xA1)
	asset := f.mintDeed(seller, f.auctions.ModuleAddress(), 1)

	id, err := f.auctions.Create(seller, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.advance(auctionDuration)
	if err := f.auctions.Cancel(seller, id); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("late cancel error = %v", err)
	}
}

func TestAuctionCompleteWithoutBids(t *testing.T) {
	f := newFixture(t)
	seller := addr(0xA1)
	asset := f.mintDeed(seller, f.auctions.ModuleAddress(), 1)

	id, err := f.auctions.Create(seller, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.auctions.Complete(id); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("early complete error = %v", err)
	}
	f.advance(auctionDuration + 1)
	// Anyone may complete once the deadline passes; no caller identity here.
	if err := f.auctions.Complete(id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if owner, _ := f.deeds.OwnerOf(asset); owner != seller {
		t.Fatalf("asset owner = %s, want seller", owner.Hex())
	}
	auction, _ := f.auctions.Get(id)
	if auction.Status != AuctionCompleted {
		t.Fatalf("status = %d, want completed", auction.Status)
	}
	if !f.emitter.has(EventTypeAuctionExpired) {
		t.Fatalf("missing expired event, got %v", f.emitter.eventTypes())
	}
	if err := f.auctions.Complete(id); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("double complete error = %v", err)
	}
}

func TestAuctionWithdrawOwnerBalanceExcludesFrozen(t *testing.T) {
	f := newFixture(t)
	seller := addr(0xA1)
	bidder := addr(0xB1)
	asset := f.mintDeed(seller, f.auctions.ModuleAddress(), 1)
	f.fund(bidder, 10)

	id, err := f.auctions.Create(seller, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.auctions.Bid(bidder, id, big.NewInt(10)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	// Simulate residual value accumulated at the module beyond the escrow.
	f.fund(f.auctions.ModuleAddress(), 40)

	if _, err := f.auctions.WithdrawOwnerBalance(addr(0xB2), addr(0xD1)); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("non-owner withdraw error = %v", err)
	}
	got, err := f.auctions.WithdrawOwnerBalance(f.owner, addr(0xD1))
	if err != nil {
		t.Fatalf("withdraw owner balance: %v", err)
	}
	if got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("withdrawn = %s, want 40", got)
	}
	f.requireBalance(addr(0xD1), 40)
	// The escrowed bid is untouched.
	f.requireBalance(f.auctions.ModuleAddress(), 10)
}

// TestAuctionFrozenValueInvariant drives randomized bid, cancel and complete
// sequences across several auctions and checks after every step that the
// persisted frozen counter equals the sum of live escrowed bids.
func TestAuctionFrozenValueInvariant(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(42))
	seller := addr(0xA1)
	bidders := []ethcommon.Address{addr(0xB1), addr(0xB2), addr(0xB3), addr(0xB4)}
	for _, b := range bidders {
		f.fund(b, 1_000_000)
	}

	const auctionCount = 5
	ids := make([]uint64, 0, auctionCount)
	for i := 0; i < auctionCount; i++ {
		asset := f.mintDeed(seller, f.auctions.ModuleAddress(), int64(i+1))
		id, err := f.auctions.Create(seller, asset, big.NewInt(10))
		if err != nil {
			t.Fatalf("create auction %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	expectedFrozen := func() *big.Int {
		sum := big.NewInt(0)
		for _, id := range ids {
			auction, err := f.auctions.Get(id)
			if err != nil {
				t.Fatalf("get auction %d: %v", id, err)
			}
			if auction.Status == AuctionOpen && auction.HasBid() {
				sum.Add(sum, auction.CurrentBid)
			}
		}
		return sum
	}

	checkFrozen := func(step int) {
		t.Helper()
		want := expectedFrozen()
		got, err := f.auctions.FrozenValue()
		if err != nil {
			t.Fatalf("frozen value: %v", err)
		}
		if got.Cmp(want) != 0 {
			t.Fatalf("step %d: frozen = %s, want %s", step, got, want)
		}
	}

	for step := 0; step < 250; step++ {
		id := ids[rng.Intn(len(ids))]
		if rng.Intn(20) == 0 {
			// Rare cancel; rejected once the auction is no longer open.
			_ = f.auctions.Cancel(seller, id)
		} else {
			bidder := bidders[rng.Intn(len(bidders))]
			auction, err := f.auctions.Get(id)
			if err != nil {
				t.Fatalf("get auction %d: %v", id, err)
			}
			amount := new(big.Int).Add(auction.CurrentBid, big.NewInt(int64(1+rng.Intn(50))))
			if amount.Cmp(auction.StartPrice) < 0 {
				amount = new(big.Int).Set(auction.StartPrice)
			}
			_ = f.auctions.Bid(bidder, id, amount)
		}
		checkFrozen(step)
	}

	f.advance(auctionDuration + 1)
	f.refreshOracle()
	for _, id := range ids {
		_ = f.auctions.Complete(id)
		checkFrozen(-1)
	}
	got, err := f.auctions.FrozenValue()
	if err != nil {
		t.Fatalf("frozen value: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("frozen after settling all auctions = %s, want 0", got)
	}
}
