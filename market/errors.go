package market

import "errors"

var (
	// ErrNotFound marks references to ids that were never assigned.
	ErrNotFound = errors.New("market: not found")
	// ErrNotOnSale marks transition attempts against listings or orders that
	// already reached a terminal state.
	ErrNotOnSale = errors.New("market: not on sale")
	// ErrNotOpen marks transition attempts against auctions outside their
	// bidding window or already settled.
	ErrNotOpen = errors.New("market: auction not open")
	// ErrPermissionDenied marks calls from accounts other than the required
	// seller, owner or administrator.
	ErrPermissionDenied = errors.New("market: permission denied")
	// ErrInvalidArgument marks zero prices, zero quantities and same-value
	// updates.
	ErrInvalidArgument = errors.New("market: invalid argument")
	// ErrInsufficientFunds marks payments or bids below the required amount.
	ErrInsufficientFunds = errors.New("market: insufficient funds")
	// ErrInsufficientCustody marks assets the seller does not hold or has not
	// approved for escrow.
	ErrInsufficientCustody = errors.New("market: insufficient custody")
	// ErrArithmeticOverflow marks price computations exceeding 256 bits.
	ErrArithmeticOverflow = errors.New("market: arithmetic overflow")
	// ErrTransferFailed marks a value or custody movement that failed after
	// every precondition held. The operation it interrupted is rolled back.
	ErrTransferFailed = errors.New("market: transfer failed")
)
