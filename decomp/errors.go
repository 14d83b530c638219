package decomp

import (
	"errors"
	"fmt"
)

// Decomposition errors
var (
	// ErrConfig reports an impossible redistribution setup.
	ErrConfig = errors.New("invalid configuration")

	ErrUnknownStrategy = errors.New("unknown strategy")
)

// ConfigError describes a setup no plan can satisfy, such as rank counts
// that do not divide each other or a domain too small to cut.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Reason
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// IsConfig checks if an error is a configuration error.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
