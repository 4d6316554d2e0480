package market

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"tokenmart/core/events"
	"tokenmart/custody"
	"tokenmart/fees"
	"tokenmart/ledger"
	"tokenmart/oracle"
	"tokenmart/royalty"
	"tokenmart/storage"
)

const testNow int64 = 1_700_000_000

func addr(fill byte) ethcommon.Address {
	var a ethcommon.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *captureEmitter) eventTypes() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

func (c *captureEmitter) has(eventType string) bool {
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			return true
		}
	}
	return false
}

// failpointDB wraps the memory database and rejects puts for configured keys
// so storage-failure rollback paths can be exercised.
type failpointDB struct {
	inner    storage.Database
	failKeys map[string]bool
}

func newFailpointDB() *failpointDB {
	return &failpointDB{inner: storage.NewMemDB(), failKeys: make(map[string]bool)}
}

func (d *failpointDB) Put(key []byte, value []byte) error {
	if d.failKeys[string(key)] {
		return errStorageOffline
	}
	return d.inner.Put(key, value)
}

func (d *failpointDB) Get(key []byte) ([]byte, error) { return d.inner.Get(key) }
func (d *failpointDB) Has(key []byte) (bool, error)   { return d.inner.Has(key) }
func (d *failpointDB) Close()                         { d.inner.Close() }

var errStorageOffline = fmt.Errorf("storage offline")

// failpointBank wraps the memory bank and rejects transfers to configured
// destination accounts so settlement rollback paths can be exercised.
type failpointBank struct {
	inner  *custody.MemoryBank
	failTo map[ethcommon.Address]bool
}

func newFailpointBank() *failpointBank {
	return &failpointBank{inner: custody.NewMemoryBank(), failTo: make(map[ethcommon.Address]bool)}
}

func (b *failpointBank) BalanceOf(account ethcommon.Address) (*big.Int, error) {
	return b.inner.BalanceOf(account)
}

func (b *failpointBank) Transfer(from, to ethcommon.Address, amount *big.Int) error {
	if b.failTo[to] {
		return custody.ErrTransferFailed
	}
	return b.inner.Transfer(from, to, amount)
}

type fixture struct {
	t *testing.T

	db        *failpointDB
	deeds     *custody.MemoryDeeds
	tokens    *custody.MemoryTokens
	bank      *failpointBank
	ledger    *ledger.Ledger
	calc      *fees.Calculator
	store     *Store
	oracle    *oracle.ManualOracle
	royalties *royalty.Registry
	emitter   *captureEmitter

	admin        ethcommon.Address
	owner        ethcommon.Address
	feeRecipient ethcommon.Address

	listings *ListingEngine
	auctions *AuctionEngine
	orders   *OrderBookEngine

	now int64
}

// newFixture builds a full in-memory marketplace. The oracle quotes 2000 USD
// at 8 decimals, fresh; the fee policy is 2.5% with a USD floor that resolves
// to exactly 1 asset unit, so small integer sale prices behave the way the
// settlement arithmetic expects.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:            t,
		deeds:        custody.NewMemoryDeeds(),
		tokens:       custody.NewMemoryTokens(),
		bank:         newFailpointBank(),
		royalties:    royalty.NewRegistry(),
		emitter:      &captureEmitter{},
		admin:        addr(0x01),
		owner:        addr(0x02),
		feeRecipient: addr(0x0F),
		now:          testNow,
	}
	f.db = newFailpointDB()
	kv := storage.NewKVStore(f.db)
	f.store = NewStore(kv)

	f.oracle = oracle.NewManualOracle()
	if err := f.oracle.Set(big.NewInt(200_000_000_000), 8, time.Unix(testNow-10, 0)); err != nil {
		t.Fatalf("seed oracle: %v", err)
	}

	led, err := ledger.NewLedger(kv, f.admin)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	f.ledger = led

	cfg := fees.Config{
		FeeRecipient:    f.feeRecipient,
		FeeBps:          250,
		MaxFeeBps:       1_000,
		MinFeeUSD:       big.NewInt(2000),
		MaxRoyaltyBps:   1_000,
		StaleSeconds:    60,
		MaxStaleSeconds: 300,
		RiskFactorBps:   10_500,
	}
	calc, err := fees.NewCalculator(cfg, f.oracle, f.royalties, led)
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	clock := func() int64 { return f.now }
	calc.SetNowFunc(clock)
	f.calc = calc

	f.listings = NewListingEngine(f.store, f.deeds, f.bank, led, calc)
	f.listings.SetEmitter(f.emitter)
	f.listings.SetNowFunc(clock)

	f.auctions = NewAuctionEngine(f.store, f.deeds, f.bank, led, calc, f.owner)
	f.auctions.SetEmitter(f.emitter)
	f.auctions.SetNowFunc(clock)

	f.orders = NewOrderBookEngine(f.store, f.tokens, f.bank, led, calc)
	f.orders.SetEmitter(f.emitter)
	f.orders.SetNowFunc(clock)

	for _, module := range []ethcommon.Address{
		f.listings.ModuleAddress(),
		f.auctions.ModuleAddress(),
		f.orders.ModuleAddress(),
	} {
		if err := led.Authorize(f.admin, module); err != nil {
			t.Fatalf("authorize module: %v", err)
		}
	}
	return f
}

func (f *fixture) advance(seconds int64) {
	f.now += seconds
}

// mintDeed registers a discrete asset to the owner and approves the given
// engine escrow account.
func (f *fixture) mintDeed(owner, escrow ethcommon.Address, tokenID int64) custody.AssetRef {
	f.t.Helper()
	asset := custody.AssetRef{Collection: addr(0xC0), TokenID: big.NewInt(tokenID)}
	if err := f.deeds.Mint(asset, owner); err != nil {
		f.t.Fatalf("mint deed: %v", err)
	}
	if err := f.deeds.Approve(asset, owner, escrow); err != nil {
		f.t.Fatalf("approve deed: %v", err)
	}
	return asset
}

func (f *fixture) fund(account ethcommon.Address, amount int64) {
	f.t.Helper()
	if err := f.bank.inner.Deposit(account, big.NewInt(amount)); err != nil {
		f.t.Fatalf("fund %s: %v", account.Hex(), err)
	}
}

func (f *fixture) balance(account ethcommon.Address) *big.Int {
	f.t.Helper()
	bal, err := f.bank.BalanceOf(account)
	if err != nil {
		f.t.Fatalf("balance of %s: %v", account.Hex(), err)
	}
	return bal
}

func (f *fixture) requireBalance(account ethcommon.Address, want int64) {
	f.t.Helper()
	got := f.balance(account)
	if got.Cmp(big.NewInt(want)) != 0 {
		f.t.Fatalf("balance of %s = %s, want %d", account.Hex(), got, want)
	}
}

func (f *fixture) record(account ethcommon.Address) *ledger.UserRecord {
	f.t.Helper()
	rec, err := f.ledger.Record(account)
	if err != nil {
		f.t.Fatalf("ledger record: %v", err)
	}
	return rec
}
