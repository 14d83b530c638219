package redist

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/redist/container"
	"github.com/rbaliyan/redist/decomp"
)

// Component errors
var (
	// ErrClosed is returned by Process after Shutdown.
	ErrClosed = errors.New("redist: component shut down")

	// ErrBusy is returned when Process is called while another call on the
	// same component is running.
	ErrBusy = errors.New("redist: process already running")
)

// Error classes shared with the container and decomp packages. Use
// errors.Is or the Is helpers below, as errors are usually wrapped.
var (
	ErrConfig        = decomp.ErrConfig
	ErrContract      = container.ErrContract
	ErrCountMismatch = container.ErrCountMismatch
	ErrCapability    = container.ErrCapability
)

// Typed errors carrying the details of each class.
type (
	ConfigError         = decomp.ConfigError
	ContractError       = container.ContractError
	CountMismatchError  = container.CountMismatchError
	CapabilityError     = container.CapabilityError
	UnassignedItemError = container.UnassignedItemError
)

// IsConfig reports whether err is a configuration error: rank ranges
// outside the communicator, unsupported source and destination counts,
// domains too small to cut.
func IsConfig(err error) bool {
	return decomp.IsConfig(err)
}

// IsContract reports whether err is a merge contract violation.
func IsContract(err error) bool {
	return container.IsContract(err)
}

// IsCountMismatch reports whether err is an item count disagreement.
func IsCountMismatch(err error) bool {
	return container.IsCountMismatch(err)
}

// IsCapability reports whether err comes from a container lacking what the
// strategy needs.
func IsCapability(err error) bool {
	return container.IsCapability(err)
}

// IsFatal reports whether err belongs to a class that stops the whole
// distributed computation. Contract and count mismatch errors are left to
// the caller to recover from.
func IsFatal(err error) bool {
	return IsConfig(err) || IsCapability(err)
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
