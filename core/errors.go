package core

import "errors"

// Named error conditions surfaced by the sale ledger and settlement engine.
// Callers match with errors.Is; operations that return one of these have made
// no state change.
var (
	// Input validation: the caller can correct the request and retry.
	ErrZeroSupply       = errors.New("sale supply must be positive")
	ErrPastDeadline     = errors.New("sale deadline is not in the future")
	ErrEmptyBatch       = errors.New("settlement batch has no entries")
	ErrContractMismatch = errors.New("batch names a different token contract")

	// State: the operation is no longer applicable with these arguments.
	ErrSaleNotFound       = errors.New("sale not found")
	ErrBidNotFound        = errors.New("bid not found")
	ErrBiddingClosed      = errors.New("bidding is closed")
	ErrTooEarly           = errors.New("sale deadline has not passed")
	ErrAlreadyFinalized   = errors.New("sale already finalized")
	ErrAlreadyClaimed     = errors.New("bid already claimed")
	ErrAlreadyProcessed   = errors.New("sale already settled")
	ErrInsufficientSupply = errors.New("allocation exceeds remaining supply")

	// Authorization.
	ErrInvalidSignature = errors.New("signature does not recover to the authority")
	ErrInvalidResult    = errors.New("malformed authority result")
)
