package custody

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotOwner marks operations referencing an asset the caller does not hold.
	ErrNotOwner = errors.New("custody: caller is not the asset owner")
	// ErrNotAuthorized marks assets that were never approved for the operator.
	ErrNotAuthorized = errors.New("custody: operator not authorized for asset")
	// ErrInsufficientBalance marks fungible moves exceeding the holder balance.
	ErrInsufficientBalance = errors.New("custody: insufficient balance")
	// ErrInsufficientAllowance marks fungible moves exceeding the spender allowance.
	ErrInsufficientAllowance = errors.New("custody: insufficient allowance")
	// ErrTransferFailed marks a movement that failed after preconditions held.
	// It is deliberately distinct from the precondition errors above so engines
	// can tell a broken transfer from a rejected one.
	ErrTransferFailed = errors.New("custody: transfer failed")
	// ErrUnknownAsset marks references to assets that were never minted.
	ErrUnknownAsset = errors.New("custody: unknown asset")
)

// AssetRef identifies a single discrete asset within a collection.
type AssetRef struct {
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"tokenId"`
}

// Clone returns a deep copy of the reference.
func (a AssetRef) Clone() AssetRef {
	clone := AssetRef{Collection: a.Collection}
	if a.TokenID != nil {
		clone.TokenID = new(big.Int).Set(a.TokenID)
	}
	return clone
}

// Key renders a stable string form suitable for map and storage keys.
func (a AssetRef) Key() string {
	id := "0"
	if a.TokenID != nil {
		id = a.TokenID.String()
	}
	return a.Collection.Hex() + "/" + id
}

// Deeds holds and transfers single discrete assets.
type Deeds interface {
	OwnerOf(asset AssetRef) (common.Address, error)
	IsAuthorized(asset AssetRef, operator common.Address) (bool, error)
	Transfer(asset AssetRef, from, to common.Address) error
}

// Tokens holds and transfers fungible asset quantities. TransferFrom names
// the spender explicitly: a spender other than the holder must carry a
// sufficient allowance, which the transfer consumes.
type Tokens interface {
	BalanceOf(token common.Address, holder common.Address) (*big.Int, error)
	Allowance(token common.Address, owner, spender common.Address) (*big.Int, error)
	TransferFrom(token common.Address, spender, from, to common.Address, amount *big.Int) error
}

// Bank moves settlement value between accounts.
type Bank interface {
	BalanceOf(account common.Address) (*big.Int, error)
	Transfer(from, to common.Address, amount *big.Int) error
}
