package custody

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryDeeds is an in-memory Deeds implementation backing the development
// host and tests. Approvals are per asset and cleared on transfer.
type MemoryDeeds struct {
	mu        sync.RWMutex
	owners    map[string]common.Address
	approvals map[string]map[common.Address]bool
}

// NewMemoryDeeds constructs an empty deed registry.
func NewMemoryDeeds() *MemoryDeeds {
	return &MemoryDeeds{
		owners:    make(map[string]common.Address),
		approvals: make(map[string]map[common.Address]bool),
	}
}

// Mint registers an asset under the supplied owner.
func (d *MemoryDeeds) Mint(asset AssetRef, owner common.Address) error {
	if d == nil {
		return fmt.Errorf("custody: deeds not configured")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := asset.Key()
	if _, ok := d.owners[key]; ok {
		return fmt.Errorf("custody: asset %s already minted", key)
	}
	d.owners[key] = owner
	return nil
}

// Approve records operator approval for the asset, matching the
// per-asset approval shape of discrete token standards.
func (d *MemoryDeeds) Approve(asset AssetRef, owner, operator common.Address) error {
	if d == nil {
		return fmt.Errorf("custody: deeds not configured")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := asset.Key()
	current, ok := d.owners[key]
	if !ok {
		return ErrUnknownAsset
	}
	if current != owner {
		return ErrNotOwner
	}
	if d.approvals[key] == nil {
		d.approvals[key] = make(map[common.Address]bool)
	}
	d.approvals[key][operator] = true
	return nil
}

// OwnerOf reports the current holder of the asset.
func (d *MemoryDeeds) OwnerOf(asset AssetRef) (common.Address, error) {
	if d == nil {
		return common.Address{}, fmt.Errorf("custody: deeds not configured")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	owner, ok := d.owners[asset.Key()]
	if !ok {
		return common.Address{}, ErrUnknownAsset
	}
	return owner, nil
}

// IsAuthorized reports whether the operator may move the asset, either as the
// owner or through an approval.
func (d *MemoryDeeds) IsAuthorized(asset AssetRef, operator common.Address) (bool, error) {
	if d == nil {
		return false, fmt.Errorf("custody: deeds not configured")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	key := asset.Key()
	owner, ok := d.owners[key]
	if !ok {
		return false, ErrUnknownAsset
	}
	if owner == operator {
		return true, nil
	}
	return d.approvals[key][operator], nil
}

// Transfer moves the asset and clears outstanding approvals.
func (d *MemoryDeeds) Transfer(asset AssetRef, from, to common.Address) error {
	if d == nil {
		return fmt.Errorf("custody: deeds not configured")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := asset.Key()
	owner, ok := d.owners[key]
	if !ok {
		return ErrUnknownAsset
	}
	if owner != from {
		return ErrNotOwner
	}
	d.owners[key] = to
	delete(d.approvals, key)
	return nil
}

// MemoryTokens is an in-memory fungible Tokens implementation.
type MemoryTokens struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
}

// NewMemoryTokens constructs an empty fungible custody registry.
func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits the holder with the supplied quantity.
func (t *MemoryTokens) Mint(token, holder common.Address, amount *big.Int) error {
	if t == nil {
		return fmt.Errorf("custody: tokens not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("custody: mint amount must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[token] == nil {
		t.balances[token] = make(map[common.Address]*big.Int)
	}
	current := t.balances[token][holder]
	if current == nil {
		current = big.NewInt(0)
	}
	t.balances[token][holder] = new(big.Int).Add(current, amount)
	return nil
}

// Approve grants the spender an allowance over the owner balance.
func (t *MemoryTokens) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if t == nil {
		return fmt.Errorf("custody: tokens not configured")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("custody: allowance must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[token] == nil {
		t.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if t.allowances[token][owner] == nil {
		t.allowances[token][owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[token][owner][spender] = new(big.Int).Set(amount)
	return nil
}

// BalanceOf reports the holder balance for the token.
func (t *MemoryTokens) BalanceOf(token, holder common.Address) (*big.Int, error) {
	if t == nil {
		return nil, fmt.Errorf("custody: tokens not configured")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	balance := t.balances[token][holder]
	if balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

// Allowance reports the spender allowance over the owner balance.
func (t *MemoryTokens) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	if t == nil {
		return nil, fmt.Errorf("custody: tokens not configured")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	allowed := t.allowances[token][owner][spender]
	if allowed == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(allowed), nil
}

// TransferFrom moves amount from the owner balance. A spender other than the
// owner needs a sufficient allowance, and the transfer decrements it.
func (t *MemoryTokens) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if t == nil {
		return fmt.Errorf("custody: tokens not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("custody: transfer amount must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if spender != from {
		allowed := t.allowances[token][from][spender]
		if allowed == nil || allowed.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
	}
	balance := t.balances[token][from]
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if spender != from {
		allowed := t.allowances[token][from][spender]
		t.allowances[token][from][spender] = new(big.Int).Sub(allowed, amount)
	}
	t.balances[token][from] = new(big.Int).Sub(balance, amount)
	if t.balances[token] == nil {
		t.balances[token] = make(map[common.Address]*big.Int)
	}
	current := t.balances[token][to]
	if current == nil {
		current = big.NewInt(0)
	}
	t.balances[token][to] = new(big.Int).Add(current, amount)
	return nil
}

// MemoryBank is an in-memory settlement value ledger.
type MemoryBank struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

// NewMemoryBank constructs an empty bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[common.Address]*big.Int)}
}

// Deposit credits the account with the supplied amount.
func (b *MemoryBank) Deposit(account common.Address, amount *big.Int) error {
	if b == nil {
		return fmt.Errorf("custody: bank not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("custody: deposit amount must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.balances[account]
	if current == nil {
		current = big.NewInt(0)
	}
	b.balances[account] = new(big.Int).Add(current, amount)
	return nil
}

// BalanceOf reports the settlement value held by the account.
func (b *MemoryBank) BalanceOf(account common.Address) (*big.Int, error) {
	if b == nil {
		return nil, fmt.Errorf("custody: bank not configured")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	balance := b.balances[account]
	if balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

// Transfer moves settlement value between accounts.
func (b *MemoryBank) Transfer(from, to common.Address, amount *big.Int) error {
	if b == nil {
		return fmt.Errorf("custody: bank not configured")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("custody: transfer amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	balance := b.balances[from]
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.balances[from] = new(big.Int).Sub(balance, amount)
	current := b.balances[to]
	if current == nil {
		current = big.NewInt(0)
	}
	b.balances[to] = new(big.Int).Add(current, amount)
	return nil
}
