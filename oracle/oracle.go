package oracle

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// PriceQuote captures a reference-pair price along with the timestamp reported
// by the upstream oracle and the scaling applied to the raw value.
type PriceQuote struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Decimals: q.Decimals, UpdatedAt: q.UpdatedAt}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Normalized returns the price scaled to 18 decimals. Fee math holds a single
// 1e18 convention; every quote is converted through this method before use.
func (q PriceQuote) Normalized() (*big.Int, error) {
	if q.Price == nil || q.Price.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: price must be positive")
	}
	if q.Decimals > 18 {
		return nil, fmt.Errorf("oracle: unsupported decimals %d", q.Decimals)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-q.Decimals)), nil)
	return new(big.Int).Mul(q.Price, scale), nil
}

// PriceOracle resolves the latest price for the configured reference pair.
type PriceOracle interface {
	LatestPrice() (PriceQuote, error)
}

// ManualOracle provides an in-memory oracle implementation used for tests and
// manual overrides during incident response.
type ManualOracle struct {
	mu    sync.RWMutex
	quote PriceQuote
	set   bool
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{}
}

// Set stores the provided price with the supplied timestamp and decimals.
func (m *ManualOracle) Set(price *big.Int, decimals uint8, updatedAt time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("manual oracle: price must be positive")
	}
	m.mu.Lock()
	m.quote = PriceQuote{Price: new(big.Int).Set(price), Decimals: decimals, UpdatedAt: updatedAt}
	m.set = true
	m.mu.Unlock()
	return nil
}

// LatestPrice retrieves the stored quote.
func (m *ManualOracle) LatestPrice() (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual oracle not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return PriceQuote{}, fmt.Errorf("manual oracle: no quote available")
	}
	return m.quote.Clone(), nil
}
