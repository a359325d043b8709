package pipeline

import "fmt"

// Mode selects how much history a run evaluates.
type Mode int

const (
	// ModeIncremental resumes each spec from its stored state and only
	// evaluates bars after the state's last date.
	ModeIncremental Mode = iota
	// ModeFull ignores stored state and evaluates the entire history.
	ModeFull
)

// ParseMode parses "incremental" or "full".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "incremental", "":
		return ModeIncremental, nil
	case "full":
		return ModeFull, nil
	}
	return 0, fmt.Errorf("unknown mode %q (want full or incremental)", s)
}

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "incremental"
}

// Options tune one Compute call.
type Options struct {
	Mode    Mode
	History bool // return every output point of every mapped field
}
