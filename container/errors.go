package container

import (
	"errors"
	"fmt"
)

// Container errors
var (
	ErrFieldExists       = errors.New("field already exists")
	ErrFieldNotFound     = errors.New("field not found")
	ErrNilField          = errors.New("field is nil")
	ErrInvalidOrder      = errors.New("invalid field order")
	ErrInvalidRanges     = errors.New("invalid ranges")
	ErrUnsupportedPolicy = errors.New("unsupported policy")
	ErrSplitOrder        = errors.New("sibling field must be split first")
	ErrDanglingIndex     = errors.New("index refers to an item outside the destination")
	ErrUnknownType       = errors.New("unknown field type")
	ErrEncodeFailure     = errors.New("failed to encode container")
	ErrDecodeFailure     = errors.New("failed to decode container")
)

// Error classes. Typed errors below match them with errors.Is.
var (
	// ErrContract reports peers that disagree on field set, type or value.
	ErrContract = errors.New("contract violation")
	// ErrCountMismatch reports item counts that do not add up.
	ErrCountMismatch = errors.New("count mismatch")
	// ErrCapability reports a container missing what an operation needs.
	ErrCapability = errors.New("missing capability")
)

// ContractError names the field two containers disagree on.
type ContractError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("contract violation on field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("contract violation on field %q: %s", e.Field, e.Reason)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

func (e *ContractError) Is(target error) bool {
	return target == ErrContract
}

// IsContract checks if an error is a contract violation.
func IsContract(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

// CountMismatchError reports an item count that differs from the expected one.
type CountMismatchError struct {
	Field    string
	Expected int
	Got      int
}

func (e *CountMismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("count mismatch: expected %d items, got %d", e.Expected, e.Got)
	}
	return fmt.Sprintf("count mismatch on field %q: expected %d items, got %d", e.Field, e.Expected, e.Got)
}

func (e *CountMismatchError) Is(target error) bool {
	return target == ErrCountMismatch
}

// IsCountMismatch checks if an error is a count mismatch, including
// unassigned spatial items.
func IsCountMismatch(err error) bool {
	return errors.Is(err, ErrCountMismatch)
}

// UnassignedItemError reports an item no destination box contains.
type UnassignedItemError struct {
	Index    int
	Position [3]float32
}

func (e *UnassignedItemError) Error() string {
	return fmt.Sprintf("item %d at %v is outside every destination block", e.Index, e.Position)
}

func (e *UnassignedItemError) Is(target error) bool {
	return target == ErrCountMismatch
}

// CapabilityError reports a container that cannot serve an operation,
// typically a missing or malformed spatial key.
type CapabilityError struct {
	Reason string
}

func (e *CapabilityError) Error() string {
	return "missing capability: " + e.Reason
}

func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapability
}

// IsCapability checks if an error is a capability error.
func IsCapability(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

func unsupported(k Kind, policy fmt.Stringer) error {
	return fmt.Errorf("%w: %s for %s field", ErrUnsupportedPolicy, policy, k)
}
