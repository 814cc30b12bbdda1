package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrDisabled is returned by handlers when no node URL is configured.
	ErrDisabled       = errors.New("blockchain integration is not configured")
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrInvalidTxHash  = errors.New("invalid transaction hash")
	ErrTxPending      = errors.New("transaction not yet mined")
	// ErrVerification means the transaction exists but does not match what
	// the caller claimed (sender, target, value or emitted event).
	ErrVerification = errors.New("transaction verification failed")
)

// Error is a node or contract failure.  Reason carries a decoded revert
// message when one could be recovered.
type Error struct {
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func mismatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrVerification, fmt.Sprintf(format, args...))
}
