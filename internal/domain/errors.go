package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
)

// Sentinel errors for proxy upgrade operations
var (
	// ErrNotFound is returned when a proxy is not tracked in the manifest
	ErrNotFound = errors.New("not tracked")

	// ErrAlreadyExists is returned when importing a proxy that is already tracked
	ErrAlreadyExists = errors.New("already tracked")

	// ErrIncompatibleLayout is returned when a new implementation would corrupt storage
	ErrIncompatibleLayout = errors.New("incompatible storage layout")

	// ErrUnresolvable is returned when a storage layout cannot be resolved
	ErrUnresolvable = errors.New("unresolvable storage layout")

	// ErrNoPending is returned when upgrading without a prepared implementation
	ErrNoPending = errors.New("no pending implementation")

	// ErrStalePending is returned when the pending implementation was validated
	// against an implementation that is no longer current
	ErrStalePending = errors.New("stale pending implementation")

	// ErrStaleWrite is returned when a concurrent writer modified the record
	ErrStaleWrite = errors.New("stale write")

	// ErrUnauthorized is returned when the signer may not upgrade the proxy
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReverted is returned when the chain rejects a transaction
	ErrReverted = errors.New("transaction reverted")

	// ErrTimeout is returned when a chain call exceeds its deadline
	ErrTimeout = errors.New("timeout")

	// ErrUnsupportedKind is returned for upgrades of non-transparent proxies
	ErrUnsupportedKind = errors.New("unsupported proxy kind")

	// ErrNotAProxy is returned when the EIP-1967 slots of an address are empty
	ErrNotAProxy = errors.New("not an EIP-1967 proxy")

	// ErrInvalidAddress is returned when an Ethereum address is invalid
	ErrInvalidAddress = errors.New("invalid address")
)

// Aliases matching the operator-facing error names
var (
	ErrNotTracked     = ErrNotFound
	ErrAlreadyTracked = ErrAlreadyExists
	ErrConflict       = ErrStaleWrite
)

// ProxyError attaches the proxy key and attempted transition to an error
type ProxyError struct {
	Op         string
	ChainID    uint64
	Proxy      common.Address
	Transition string // e.g. "0x11.. -> 0x33.."
	Err        error
}

func (e *ProxyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s on chain %d", e.Op, e.Proxy.Hex(), e.ChainID)
	if e.Transition != "" {
		fmt.Fprintf(&b, " (%s)", e.Transition)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// IncompatibleLayoutError carries the violations found by the layout validator
type IncompatibleLayoutError struct {
	From       common.Address
	Violations []models.Violation
}

func (e *IncompatibleLayoutError) Error() string {
	lines := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		lines = append(lines, "  - "+v.String())
	}
	return fmt.Sprintf("%v against %s:\n%s", ErrIncompatibleLayout, e.From.Hex(), strings.Join(lines, "\n"))
}

func (e *IncompatibleLayoutError) Is(target error) bool {
	if target == ErrIncompatibleLayout {
		return true
	}
	if target == ErrUnresolvable {
		for _, v := range e.Violations {
			if v.Kind == models.ViolationUnresolvable {
				return true
			}
		}
	}
	return false
}

// WrapChainError maps context deadline errors to ErrTimeout
func WrapChainError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// IsRetryable reports whether the failed operation left the manifest
// untouched and may be retried as-is
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrIncompatibleLayout), errors.Is(err, ErrUnresolvable):
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrStaleWrite), errors.Is(err, ErrReverted):
		return true
	default:
		return false
	}
}
