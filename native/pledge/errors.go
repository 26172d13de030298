package pledge

import (
	"errors"

	nativecommon "anchorledger/native/common"
)

// Authorization.
var ErrUnauthorized = errors.New("pledge: unauthorized")

// Not found.
var (
	ErrAnchorNotFound = errors.New("pledge: anchor not found")
	ErrInvalidIndex   = errors.New("pledge: invalid slot index")
)

// State conflicts.
var (
	ErrAnchorExists   = errors.New("pledge: anchor already exists")
	ErrAlreadySealed  = errors.New("pledge: anchor already sealed")
	ErrAlreadyClaimed = errors.New("pledge: slot already claimed")
)

// Validation.
var (
	ErrZeroAmount          = errors.New("pledge: zero amount")
	ErrZeroAddress         = errors.New("pledge: zero address")
	ErrLabelTooLong        = errors.New("pledge: label too long")
	ErrCapacityExceeded    = errors.New("pledge: anchor at capacity")
	ErrPledgeBelowFloor    = errors.New("pledge: amount below floor")
	ErrInsufficientBalance = errors.New("pledge: insufficient balance")
)

// Timing.
var (
	ErrHorizonNotReached = errors.New("pledge: horizon not reached")
	ErrGenesisBlock      = errors.New("pledge: block counter must be non-zero")
)

// ErrReentrancy is returned when a guarded operation is entered while another
// guarded operation is in flight.
var ErrReentrancy = nativecommon.ErrReentrancy

// ErrTransferFailed wraps a failure reported by the vault.
var ErrTransferFailed = errors.New("pledge: transfer failed")

var (
	errNilState = errors.New("pledge: state not configured")
	errNilChain = errors.New("pledge: chain not configured")
	errNilVault = errors.New("pledge: vault not configured")
)
