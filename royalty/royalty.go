package royalty

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"tokenmart/custody"
)

// Info carries the royalty terms reported by a collection for a sale price.
type Info struct {
	Recipient common.Address
	Amount    *big.Int
}

// Prober resolves royalty terms for an asset. Support is optional per
// collection: the boolean reports whether the collection implements royalty
// terms at all, and a non-nil error means the probe itself failed. Callers
// treat both cases as "no royalty" rather than aborting a sale.
type Prober interface {
	RoyaltyInfo(asset custody.AssetRef, salePrice *big.Int) (Info, bool, error)
}

// Terms describes a collection-wide royalty configuration for the registry.
type Terms struct {
	Recipient common.Address
	Bps       uint32
}

// Registry is an in-memory Prober used by the development host and tests.
// Collections without registered terms report no royalty support.
type Registry struct {
	mu    sync.RWMutex
	terms map[common.Address]Terms
}

// NewRegistry constructs an empty royalty registry.
func NewRegistry() *Registry {
	return &Registry{terms: make(map[common.Address]Terms)}
}

// SetTerms registers royalty terms for the collection.
func (r *Registry) SetTerms(collection common.Address, terms Terms) error {
	if r == nil {
		return fmt.Errorf("royalty: registry not configured")
	}
	if terms.Bps > 10_000 {
		return fmt.Errorf("royalty: bps out of range: %d", terms.Bps)
	}
	r.mu.Lock()
	r.terms[collection] = terms
	r.mu.Unlock()
	return nil
}

// RoyaltyInfo implements the Prober interface.
func (r *Registry) RoyaltyInfo(asset custody.AssetRef, salePrice *big.Int) (Info, bool, error) {
	if r == nil {
		return Info{}, false, fmt.Errorf("royalty: registry not configured")
	}
	r.mu.RLock()
	terms, ok := r.terms[asset.Collection]
	r.mu.RUnlock()
	if !ok {
		return Info{}, false, nil
	}
	if salePrice == nil || salePrice.Sign() <= 0 {
		return Info{Recipient: terms.Recipient, Amount: big.NewInt(0)}, true, nil
	}
	amount := new(big.Int).Mul(salePrice, big.NewInt(int64(terms.Bps)))
	amount.Div(amount, big.NewInt(10_000))
	return Info{Recipient: terms.Recipient, Amount: amount}, true, nil
}
