package indicator

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned for an indicator name missing from the registry.
	ErrUnknownKind = errors.New("unknown indicator")

	// ErrInvalidParameter is returned for a missing, unknown or malformed parameter.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrStateCorrupt is returned when a stored state blob cannot be used.
	// Callers treat it as absent state and recompute from scratch.
	ErrStateCorrupt = errors.New("indicator state corrupt")
)

func paramErr(name, msg string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidParameter, name, msg)
}
