package fees

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tokenmart/custody"
	"tokenmart/oracle"
	"tokenmart/royalty"
)

var (
	// ErrPriceTooStale marks oracle quotes older than the hard staleness limit.
	// No fee can be computed past it, so purchases must not proceed.
	ErrPriceTooStale = errors.New("fees: oracle price too stale")
	// ErrInvalidArgument marks out-of-bounds or same-value configuration writes.
	ErrInvalidArgument = errors.New("fees: invalid argument")
)

const (
	// bpsDenominator is the basis-point scale shared by every percentage knob.
	bpsDenominator = 10_000
	// riskFactorFloor and riskFactorCeil bound the conservative price
	// adjustment applied to quotes inside the soft staleness window.
	riskFactorFloor = 10_000
	riskFactorCeil  = 11_000
)

// usdScale is the fixed-point scale for USD amounts. All USD values and all
// normalised oracle prices hold the single 1e18 convention; mixing scales is
// the classic source of fee bugs, so nothing outside this package converts.
var usdScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Config carries the fee policy for a marketplace venue.
type Config struct {
	FeeRecipient  common.Address
	FeeBps        uint32
	MaxFeeBps     uint32
	MinFeeUSD     *big.Int
	MaxRoyaltyBps uint32
	// StaleSeconds is the soft staleness window; quotes at least this old are
	// adjusted by RiskFactorBps. MaxStaleSeconds is the hard stop and must
	// always exceed StaleSeconds.
	StaleSeconds    int64
	MaxStaleSeconds int64
	RiskFactorBps   uint32
}

func (c Config) validate() error {
	if c.FeeRecipient == (common.Address{}) {
		return fmt.Errorf("%w: fee recipient required", ErrInvalidArgument)
	}
	if c.MaxFeeBps == 0 || c.MaxFeeBps > bpsDenominator {
		return fmt.Errorf("%w: max fee bps out of range", ErrInvalidArgument)
	}
	if c.FeeBps > c.MaxFeeBps {
		return fmt.Errorf("%w: fee bps above configured max", ErrInvalidArgument)
	}
	if c.MinFeeUSD == nil || c.MinFeeUSD.Sign() < 0 {
		return fmt.Errorf("%w: min fee must be non-negative", ErrInvalidArgument)
	}
	if c.MaxRoyaltyBps > bpsDenominator {
		return fmt.Errorf("%w: max royalty bps out of range", ErrInvalidArgument)
	}
	if c.StaleSeconds <= 0 || c.MaxStaleSeconds <= c.StaleSeconds {
		return fmt.Errorf("%w: max stale threshold must exceed stale threshold", ErrInvalidArgument)
	}
	if c.RiskFactorBps < riskFactorFloor || c.RiskFactorBps > riskFactorCeil {
		return fmt.Errorf("%w: risk factor bps out of range", ErrInvalidArgument)
	}
	return nil
}

// blacklistView is the slice of the user ledger the calculator consults when
// deciding whether a royalty recipient may be paid.
type blacklistView interface {
	IsRoyaltyBlacklisted(common.Address) (bool, error)
}

// Distribution splits a sale price into its three settlement outputs. The
// parts always sum exactly to the input price; RoyaltyRecipient is the zero
// address when no royalty applies.
type Distribution struct {
	Royalty          *big.Int
	Fee              *big.Int
	SellerAmount     *big.Int
	RoyaltyRecipient common.Address
}

// Calculator prices marketplace transactions: percentage fee with a USD floor
// resolved through the price oracle, plus royalty distribution with
// blacklist and cap enforcement.
type Calculator struct {
	mu        sync.RWMutex
	cfg       Config
	oracle    oracle.PriceOracle
	prober    royalty.Prober
	blacklist blacklistView
	nowFn     func() int64
}

// NewCalculator validates the configuration and constructs a calculator. The
// royalty prober and blacklist view may be nil for venues without royalties.
func NewCalculator(cfg Config, priceOracle oracle.PriceOracle, prober royalty.Prober, blacklist blacklistView) (*Calculator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if priceOracle == nil {
		return nil, fmt.Errorf("%w: price oracle required", ErrInvalidArgument)
	}
	return &Calculator{
		cfg:       cfg,
		oracle:    priceOracle,
		prober:    prober,
		blacklist: blacklist,
		nowFn:     func() int64 { return time.Now().Unix() },
	}, nil
}

// SetNowFunc overrides the time source used for staleness checks. Primarily
// intended for tests to provide deterministic timestamps.
func (c *Calculator) SetNowFunc(now func() int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

func (c *Calculator) now() int64 {
	if c == nil || c.nowFn == nil {
		return time.Now().Unix()
	}
	return c.nowFn()
}

// FeeRecipient reports the account fees settle to.
func (c *Calculator) FeeRecipient() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.FeeRecipient
}

// QuoteMinFeeInAsset converts the USD fee floor into asset units using the
// oracle price. Quotes past the hard staleness limit fail with
// ErrPriceTooStale. Quotes inside the soft window are conservatively deflated
// by the risk factor, which raises the asset-unit floor.
func (c *Calculator) QuoteMinFeeInAsset() (*big.Int, error) {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()
	quote, err := c.oracle.LatestPrice()
	if err != nil {
		return nil, fmt.Errorf("fees: oracle: %w", err)
	}
	age := c.now() - quote.UpdatedAt.Unix()
	if age >= cfg.MaxStaleSeconds {
		return nil, fmt.Errorf("%w: quote age %ds", ErrPriceTooStale, age)
	}
	price, err := quote.Normalized()
	if err != nil {
		return nil, fmt.Errorf("fees: oracle: %w", err)
	}
	if age >= cfg.StaleSeconds {
		price = new(big.Int).Mul(price, big.NewInt(bpsDenominator))
		price.Div(price, big.NewInt(int64(cfg.RiskFactorBps)))
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("fees: oracle price collapsed to zero")
	}
	if cfg.MinFeeUSD.Sign() == 0 {
		return big.NewInt(0), nil
	}
	units := new(big.Int).Mul(cfg.MinFeeUSD, usdScale)
	return units.Div(units, price), nil
}

// CalculateFee computes the marketplace fee for a sale price: the percentage
// fee or the USD floor, whichever is greater, clamped to the price itself.
func (c *Calculator) CalculateFee(totalPrice *big.Int) (*big.Int, error) {
	if totalPrice == nil || totalPrice.Sign() < 0 {
		return nil, fmt.Errorf("%w: total price must be non-negative", ErrInvalidArgument)
	}
	c.mu.RLock()
	feeBps := c.cfg.FeeBps
	c.mu.RUnlock()
	minFee, err := c.QuoteMinFeeInAsset()
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(totalPrice, big.NewInt(int64(feeBps)))
	fee.Div(fee, big.NewInt(bpsDenominator))
	if fee.Cmp(minFee) < 0 {
		fee = minFee
	}
	if fee.Cmp(totalPrice) > 0 {
		fee = new(big.Int).Set(totalPrice)
	}
	return fee, nil
}

// CalculateRoyalty resolves royalty terms through the capability probe. An
// unsupported collection, a failed probe, or a royalty-blacklisted recipient
// all settle to no royalty rather than an error. The reported amount is
// clamped to the configured maximum share of the sale price.
func (c *Calculator) CalculateRoyalty(asset custody.AssetRef, totalPrice *big.Int) (*big.Int, common.Address) {
	zero := big.NewInt(0)
	if c == nil || c.prober == nil || totalPrice == nil || totalPrice.Sign() <= 0 {
		return zero, common.Address{}
	}
	info, supported, err := c.prober.RoyaltyInfo(asset, totalPrice)
	if err != nil || !supported {
		return zero, common.Address{}
	}
	if info.Amount == nil || info.Amount.Sign() <= 0 || info.Recipient == (common.Address{}) {
		return zero, common.Address{}
	}
	if c.blacklist != nil {
		flagged, err := c.blacklist.IsRoyaltyBlacklisted(info.Recipient)
		if err != nil || flagged {
			return zero, common.Address{}
		}
	}
	c.mu.RLock()
	maxBps := c.cfg.MaxRoyaltyBps
	c.mu.RUnlock()
	limit := new(big.Int).Mul(totalPrice, big.NewInt(int64(maxBps)))
	limit.Div(limit, big.NewInt(bpsDenominator))
	amount := new(big.Int).Set(info.Amount)
	if amount.Cmp(limit) > 0 {
		amount = limit
	}
	return amount, info.Recipient
}

// CalculateDistribution splits the sale price into royalty, fee and seller
// proceeds. Royalty is computed first against the full price; the fee is also
// computed against the full price and then reclamped to the post-royalty
// remainder so it is never double-subtracted. The three outputs always sum
// exactly to the input.
func (c *Calculator) CalculateDistribution(asset custody.AssetRef, totalPrice *big.Int) (Distribution, error) {
	if totalPrice == nil || totalPrice.Sign() < 0 {
		return Distribution{}, fmt.Errorf("%w: total price must be non-negative", ErrInvalidArgument)
	}
	royaltyAmt, recipient := c.CalculateRoyalty(asset, totalPrice)
	if royaltyAmt.Cmp(totalPrice) > 0 {
		royaltyAmt = new(big.Int).Set(totalPrice)
	}
	remaining := new(big.Int).Sub(totalPrice, royaltyAmt)
	fee, err := c.CalculateFee(totalPrice)
	if err != nil {
		return Distribution{}, err
	}
	if fee.Cmp(remaining) > 0 {
		fee = new(big.Int).Set(remaining)
	}
	seller := new(big.Int).Sub(remaining, fee)
	return Distribution{
		Royalty:          royaltyAmt,
		Fee:              fee,
		SellerAmount:     seller,
		RoyaltyRecipient: recipient,
	}, nil
}

// SetFeePercentage updates the percentage fee. Writing the current value again
// is rejected, matching the strict no-op policy of the fee setters.
func (c *Calculator) SetFeePercentage(bps uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bps > c.cfg.MaxFeeBps {
		return fmt.Errorf("%w: fee bps above configured max", ErrInvalidArgument)
	}
	if bps == c.cfg.FeeBps {
		return fmt.Errorf("%w: fee bps unchanged", ErrInvalidArgument)
	}
	c.cfg.FeeBps = bps
	return nil
}

// SetMinFeeUSD updates the USD fee floor (1e18-scaled).
func (c *Calculator) SetMinFeeUSD(minFee *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if minFee == nil || minFee.Sign() < 0 {
		return fmt.Errorf("%w: min fee must be non-negative", ErrInvalidArgument)
	}
	if minFee.Cmp(c.cfg.MinFeeUSD) == 0 {
		return fmt.Errorf("%w: min fee unchanged", ErrInvalidArgument)
	}
	c.cfg.MinFeeUSD = new(big.Int).Set(minFee)
	return nil
}

// SetFeeRecipient updates the fee settlement account.
func (c *Calculator) SetFeeRecipient(recipient common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: fee recipient required", ErrInvalidArgument)
	}
	if recipient == c.cfg.FeeRecipient {
		return fmt.Errorf("%w: fee recipient unchanged", ErrInvalidArgument)
	}
	c.cfg.FeeRecipient = recipient
	return nil
}

// SetMaxRoyaltyPercentage updates the royalty cap.
func (c *Calculator) SetMaxRoyaltyPercentage(bps uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bps > bpsDenominator {
		return fmt.Errorf("%w: max royalty bps out of range", ErrInvalidArgument)
	}
	if bps == c.cfg.MaxRoyaltyBps {
		return fmt.Errorf("%w: max royalty bps unchanged", ErrInvalidArgument)
	}
	c.cfg.MaxRoyaltyBps = bps
	return nil
}

// SetStaleThreshold updates the soft staleness window. The hard limit must
// stay strictly greater at all times.
func (c *Calculator) SetStaleThreshold(seconds int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds <= 0 || seconds >= c.cfg.MaxStaleSeconds {
		return fmt.Errorf("%w: stale threshold must stay below the hard limit", ErrInvalidArgument)
	}
	if seconds == c.cfg.StaleSeconds {
		return fmt.Errorf("%w: stale threshold unchanged", ErrInvalidArgument)
	}
	c.cfg.StaleSeconds = seconds
	return nil
}

// SetMaxStaleThreshold updates the hard staleness limit.
func (c *Calculator) SetMaxStaleThreshold(seconds int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds <= c.cfg.StaleSeconds {
		return fmt.Errorf("%w: hard limit must exceed the stale threshold", ErrInvalidArgument)
	}
	if seconds == c.cfg.MaxStaleSeconds {
		return fmt.Errorf("%w: hard limit unchanged", ErrInvalidArgument)
	}
	c.cfg.MaxStaleSeconds = seconds
	return nil
}

// SetRiskFactor updates the conservative price adjustment.
func (c *Calculator) SetRiskFactor(bps uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bps < riskFactorFloor || bps > riskFactorCeil {
		return fmt.Errorf("%w: risk factor bps out of range", ErrInvalidArgument)
	}
	if bps == c.cfg.RiskFactorBps {
		return fmt.Errorf("%w: risk factor unchanged", ErrInvalidArgument)
	}
	c.cfg.RiskFactorBps = bps
	return nil
}
