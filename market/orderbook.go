package market

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenmart/common"
	"tokenmart/core/events"
	"tokenmart/custody"
	"tokenmart/ledger"
)

// OrderBookEngine runs partial-fill orders over fungible asset quantities.
// Listed units are escrowed at the engine's module address; cancelled units
// remain escrowed until the seller withdraws them.
type OrderBookEngine struct {
	mu      sync.Mutex
	store   *Store
	tokens  custody.Tokens
	bank    custody.Bank
	ledger  Recorder
	pricer  Pricer
	pauses  common.PauseView
	emitter events.Emitter
	module  ethcommon.Address
	nowFn   func() int64
}

// NewOrderBookEngine wires the engine to its collaborators.
func NewOrderBookEngine(store *Store, tokens custody.Tokens, bank custody.Bank, recorder Recorder, pricer Pricer) *OrderBookEngine {
	return &OrderBookEngine{
		store:  store,
		tokens: tokens,
		bank:   bank,
		ledger: recorder,
		pricer: pricer,
		module: moduleAddress(moduleOrderBook),
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter attaches the event emitter used for lifecycle events.
func (e *OrderBookEngine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.emitter = emitter
	e.mu.Unlock()
}

// SetPauses attaches the administrative pause switchboard.
func (e *OrderBookEngine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.pauses = p
	e.mu.Unlock()
}

// SetNowFunc overrides the engine clock. Intended for tests.
func (e *OrderBookEngine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.mu.Lock()
	e.nowFn = now
	e.mu.Unlock()
}

// ModuleAddress reports the escrow account the engine settles through.
func (e *OrderBookEngine) ModuleAddress() ethcommon.Address {
	return e.module
}

// ListOrder escrows quantity units of the asset type and opens an order,
// returning the new order identifier.
func (e *OrderBookEngine) ListOrder(seller ethcommon.Address, assetType ethcommon.Address, unitPrice *big.Int, quantity uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleOrderBook); err != nil {
		return 0, err
	}
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return 0, fmt.Errorf("%w: unit price must be positive", ErrInvalidArgument)
	}
	if quantity == 0 {
		return 0, fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
	}
	blacklisted, err := e.ledger.IsSellerBlacklisted(seller)
	if err != nil {
		return 0, err
	}
	if blacklisted {
		return 0, fmt.Errorf("%w: seller is blacklisted", ErrPermissionDenied)
	}
	units := new(big.Int).SetUint64(quantity)
	balance, err := e.tokens.BalanceOf(assetType, seller)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInsufficientCustody, err)
	}
	if balance.Cmp(units) < 0 {
		return 0, fmt.Errorf("%w: seller balance below quantity", ErrInsufficientCustody)
	}
	allowance, err := e.tokens.Allowance(assetType, seller, e.module)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInsufficientCustody, err)
	}
	if allowance.Cmp(units) < 0 {
		return 0, fmt.Errorf("%w: escrow allowance below quantity", ErrInsufficientCustody)
	}
	if err := e.tokens.TransferFrom(assetType, e.module, seller, e.module, units); err != nil {
		return 0, fmt.Errorf("%w: escrow: %v", ErrTransferFailed, err)
	}
	id, err := e.store.NextOrderID()
	if err != nil {
		return 0, err
	}
	order := &Order{
		ID:             id,
		Seller:         seller,
		AssetType:      assetType,
		UnitPrice:      new(big.Int).Set(unitPrice),
		QuantityOnSale: quantity,
		Status:         OrderOnSale,
		CreatedAt:      e.nowFn(),
	}
	if err := e.store.OrderPut(order); err != nil {
		return 0, err
	}
	if err := e.ledger.RecordOrderCreated(e.module, seller, id); err != nil {
		return 0, err
	}
	emit(e.emitter, newOrderEvent(EventTypeOrderCreated, order, nil))
	return id, nil
}

// ChangePrice updates the unit price of an open order. Only the seller may
// change it, and the new price must differ from the current one.
func (e *OrderBookEngine) ChangePrice(caller ethcommon.Address, id uint64, newPrice *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleOrderBook); err != nil {
		return err
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if order.Status != OrderOnSale {
		return fmt.Errorf("%w: order %d", ErrNotOnSale, id)
	}
	if caller != order.Seller {
		return fmt.Errorf("%w: only the seller may change the price", ErrPermissionDenied)
	}
	if newPrice == nil || newPrice.Sign() <= 0 {
		return fmt.Errorf("%w: unit price must be positive", ErrInvalidArgument)
	}
	if newPrice.Cmp(order.UnitPrice) == 0 {
		return fmt.Errorf("%w: unit price unchanged", ErrInvalidArgument)
	}
	oldPrice := order.UnitPrice
	order.UnitPrice = new(big.Int).Set(newPrice)
	if err := e.store.OrderPut(order); err != nil {
		return err
	}
	emit(e.emitter, newOrderEvent(EventTypeOrderPriceChanged, order, map[string]string{
		"oldUnitPrice": oldPrice.String(),
	}))
	return nil
}

// Buy fills quantity units of an open order. The required payment is the
// unit price times the quantity, computed with explicit overflow detection.
// Orders carry a flat fee and no royalty. The order turns Sold once the
// on-sale quantity reaches zero through purchases.
func (e *OrderBookEngine) Buy(buyer ethcommon.Address, id uint64, quantity uint64, payment *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleOrderBook); err != nil {
		return err
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if order.Status != OrderOnSale {
		return fmt.Errorf("%w: order %d", ErrNotOnSale, id)
	}
	if quantity == 0 || quantity > order.QuantityOnSale {
		return fmt.Errorf("%w: quantity out of range", ErrInvalidArgument)
	}
	required, err := requiredPayment(order.UnitPrice, quantity)
	if err != nil {
		return err
	}
	if payment == nil || payment.Cmp(required) < 0 {
		return fmt.Errorf("%w: payment below required amount", ErrInsufficientFunds)
	}
	fee, err := e.pricer.CalculateFee(required)
	if err != nil {
		return err
	}
	sellerAmount := new(big.Int).Sub(required, fee)
	journal := newTransferJournal(e.bank)
	if err := collectPayment(journal, buyer, e.module, payment); err != nil {
		return err
	}
	if err := journal.move(e.module, e.pricer.FeeRecipient(), fee); err != nil {
		return abortSettlement(journal, fmt.Errorf("%w: fee payout: %v", ErrTransferFailed, err))
	}
	if err := journal.move(e.module, order.Seller, sellerAmount); err != nil {
		return abortSettlement(journal, fmt.Errorf("%w: seller payout: %v", ErrTransferFailed, err))
	}
	overpay := new(big.Int).Sub(payment, required)
	if err := journal.move(e.module, buyer, overpay); err != nil {
		return abortSettlement(journal, fmt.Errorf("%w: refund: %v", ErrTransferFailed, err))
	}
	units := new(big.Int).SetUint64(quantity)
	if err := e.tokens.TransferFrom(order.AssetType, e.module, e.module, buyer, units); err != nil {
		return abortSettlement(journal, fmt.Errorf("%w: asset release: %v", ErrTransferFailed, err))
	}
	order.QuantityOnSale -= quantity
	if order.QuantityOnSale == 0 {
		order.Status = OrderSold
	}
	if err := e.store.OrderPut(order); err != nil {
		if rbErr := e.tokens.TransferFrom(order.AssetType, buyer, buyer, e.module, units); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return abortSettlement(journal, err)
	}
	if err := e.ledger.RecordPurchase(e.module, ledger.KindOrder, buyer, order.Seller, id, required); err != nil {
		return err
	}
	if err := e.ledger.RecordFeesPaid(e.module, buyer, fee); err != nil {
		return err
	}
	emit(e.emitter, newOrderEvent(EventTypeOrderFilled, order, map[string]string{
		"buyer":    buyer.Hex(),
		"quantity": strconv.FormatUint(quantity, 10),
		"paid":     required.String(),
		"fee":      formatAmount(fee),
	}))
	if order.Status == OrderSold {
		emit(e.emitter, newOrderEvent(EventTypeOrderSold, order, nil))
	}
	return nil
}

// Cancel moves quantity units from on-sale to cancelled. The units stay
// escrowed until withdrawn. The order turns Cancelled once the on-sale
// quantity reaches zero through cancellations.
func (e *OrderBookEngine) Cancel(caller ethcommon.Address, id uint64, quantity uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleOrderBook); err != nil {
		return err
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if order.Status != OrderOnSale {
		return fmt.Errorf("%w: order %d", ErrNotOnSale, id)
	}
	if caller != order.Seller {
		return fmt.Errorf("%w: only the seller may cancel", ErrPermissionDenied)
	}
	if quantity == 0 || quantity > order.QuantityOnSale {
		return fmt.Errorf("%w: quantity out of range", ErrInvalidArgument)
	}
	order.QuantityOnSale -= quantity
	order.QuantityCancelled += quantity
	if order.QuantityOnSale == 0 {
		order.Status = OrderCancelled
	}
	if err := e.store.OrderPut(order); err != nil {
		return err
	}
	emit(e.emitter, newOrderEvent(EventTypeOrderCancelled, order, map[string]string{
		"quantity":  strconv.FormatUint(quantity, 10),
		"cancelled": strconv.FormatUint(order.QuantityCancelled, 10),
	}))
	return nil
}

// WithdrawAsset releases up to the cancelled quantity of escrowed units back
// to the seller and decrements the cancelled counter.
func (e *OrderBookEngine) WithdrawAsset(caller ethcommon.Address, id uint64, quantity uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleOrderBook); err != nil {
		return err
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if caller != order.Seller {
		return fmt.Errorf("%w: only the seller may withdraw", ErrPermissionDenied)
	}
	if quantity == 0 || quantity > order.QuantityCancelled {
		return fmt.Errorf("%w: quantity out of range", ErrInvalidArgument)
	}
	units := new(big.Int).SetUint64(quantity)
	if err := e.tokens.TransferFrom(order.AssetType, e.module, e.module, order.Seller, units); err != nil {
		return fmt.Errorf("%w: asset release: %v", ErrTransferFailed, err)
	}
	order.QuantityCancelled -= quantity
	if err := e.store.OrderPut(order); err != nil {
		if rbErr := e.tokens.TransferFrom(order.AssetType, order.Seller, order.Seller, e.module, units); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return err
	}
	emit(e.emitter, newOrderEvent(EventTypeOrderAssetWithdrawn, order, map[string]string{
		"quantity": strconv.FormatUint(quantity, 10),
	}))
	return nil
}

// Get returns a copy of the order.
func (e *OrderBookEngine) Get(id uint64) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadOrder(id)
}

func (e *OrderBookEngine) loadOrder(id uint64) (*Order, error) {
	order, ok, err := e.store.OrderGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return order, nil
}

// requiredPayment multiplies the unit price by the quantity with explicit
// 256-bit overflow detection.
func requiredPayment(unitPrice *big.Int, quantity uint64) (*big.Int, error) {
	price, overflow := uint256.FromBig(unitPrice)
	if overflow {
		return nil, fmt.Errorf("%w: unit price exceeds 256 bits", ErrArithmeticOverflow)
	}
	total := new(uint256.Int)
	if _, overflow := total.MulOverflow(price, uint256.NewInt(quantity)); overflow {
		return nil, fmt.Errorf("%w: unit price times quantity", ErrArithmeticOverflow)
	}
	return total.ToBig(), nil
}
