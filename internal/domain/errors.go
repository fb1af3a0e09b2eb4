package domain

import "errors"

// Ledger errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidPosition   = errors.New("invalid position parameters")
	ErrPositionClosed    = errors.New("position already closed")
	ErrStorage           = errors.New("storage failure")
)

// Gateway errors.
var (
	ErrGatewayUnavailable   = errors.New("gateway unavailable")
	ErrUnparsableResponse   = errors.New("unparsable response")
	ErrEstimatorUnavailable = errors.New("estimator unavailable: missing credential")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
)

// Engine and settings errors.
var (
	ErrInvalidSetting = errors.New("invalid setting")
	ErrUnknownJob     = errors.New("unknown job")
	ErrLockHeld       = errors.New("lock held by another holder")
)
