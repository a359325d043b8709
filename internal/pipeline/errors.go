package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyConfig            = errors.New("no indicators configured")
	ErrInvalidDeclaration     = errors.New("invalid indicator declaration")
	ErrConfigurationCycle     = errors.New("configuration cycle")
	ErrDuplicateFieldMapping  = errors.New("duplicate field mapping")
	ErrDuplicateSpecID        = errors.New("duplicate spec id")
	ErrUnknownOutputKey       = errors.New("unknown output key")
	ErrUnknownSource          = errors.New("unknown source")
	ErrSourceIntervalMismatch = errors.New("source interval mismatch")
	ErrNonNumericSource       = errors.New("non-numeric source")

	// ErrNoBars is returned by Compute for an empty series.
	ErrNoBars = errors.New("no price bars")
)

// ConfigError locates a load-time failure in the indicator configuration.
type ConfigError struct {
	Index  int    // position in the configuration, 0-based
	SpecID string // may be empty when the id could not be derived
	Err    error
}

func (e *ConfigError) Error() string {
	if e.SpecID == "" {
		return fmt.Sprintf("indicator #%d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("indicator #%d (%s): %v", e.Index, e.SpecID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
