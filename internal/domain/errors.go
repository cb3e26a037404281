package domain

import "errors"

// Sentinel errors shared across packages. Callers match with errors.Is;
// wrapping with fmt.Errorf("...: %w", err) preserves the kind.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicate      = errors.New("already exists")
	ErrUnknownKey     = errors.New("unknown setting key")
	ErrInvalidAlpha   = errors.New("smoothing alpha out of range")
	ErrInvalidStatus  = errors.New("invalid status transition")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrRateLimited    = errors.New("rate limited by upstream")
	ErrTimeout        = errors.New("request timed out")
	ErrUpstream       = errors.New("upstream server error")
	ErrRPCUnavailable = errors.New("rpc unavailable")
)
