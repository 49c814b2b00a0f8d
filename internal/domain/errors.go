package domain

import "errors"

// Ledger errors. Each one names a single violated precondition and is stable
// across releases; callers match them with errors.Is.
var (
	ErrNotAuthorized   = errors.New("caller is not the ledger authority")
	ErrInvalidDeadline = errors.New("end time must be in the future")
	ErrUnknownMarket   = errors.New("unknown market")
	ErrMarketClosed    = errors.New("market is closed for staking")
	ErrZeroAmount      = errors.New("stake amount must be positive")
	ErrTooEarly        = errors.New("market cannot be resolved before its end time")
	ErrAlreadyResolved = errors.New("market already resolved")
	ErrNotResolved     = errors.New("market not resolved")
	ErrAlreadyClaimed  = errors.New("reward already claimed")
	ErrNotAWinner      = errors.New("caller has no stake on the winning side")
	ErrTransferFailed  = errors.New("reward transfer failed")
	ErrAmountOverflow  = errors.New("amount overflows pool total")
	ErrInvalidSide     = errors.New("invalid side")
)

// Infrastructure errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadSignature = errors.New("bad request signature")
	ErrReplayed     = errors.New("request already seen")
	ErrLockHeld     = errors.New("lock already held")
	ErrLockLost     = errors.New("lock lost")
)
