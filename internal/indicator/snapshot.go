package indicator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	optional "github.com/moznion/go-optional"

	"indicator-engine/internal/model"
)

// StateVersion is the schema version written into every state blob.
const StateVersion = 1

// State is the persisted carry-over of one spec for one security.
type State struct {
	Version     int             `json:"version"`
	Kind        Kind            `json:"kind"`
	Fingerprint uint64          `json:"fingerprint"`
	LastDate    time.Time       `json:"last_date"` // last closed point consumed
	Count       int             `json:"count"`     // closed points consumed
	Data        json.RawMessage `json:"data"`
}

// Encode serializes the state to JSON.
func (s State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState parses a stored blob. Any failure is reported as ErrStateCorrupt.
func DecodeState(blob []byte) (State, error) {
	var s State
	if err := json.Unmarshal(blob, &s); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if s.Version != StateVersion {
		return State{}, fmt.Errorf("%w: version %d, want %d", ErrStateCorrupt, s.Version, StateVersion)
	}
	if len(s.Data) == 0 || s.LastDate.IsZero() || s.Count <= 0 {
		return State{}, fmt.Errorf("%w: incomplete blob", ErrStateCorrupt)
	}
	return s, nil
}

// Fingerprint identifies a spec configuration. State written under a
// different fingerprint belongs to a different configuration and must not
// be resumed.
func Fingerprint(kind Kind, interval model.Interval, p Params) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(string(kind))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(string(interval))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(p.Canonical())
	return h.Sum64()
}

// Input is everything one evaluation consumes.
type Input struct {
	Fingerprint uint64
	Closed      []Point                // ordered; points at or before Prior.LastDate are skipped
	Forming     optional.Option[Point] // evaluated on a throwaway copy of the state
	Prior       optional.Option[State] // absent for a full recompute
}

// Evaluation is the result of one evaluation.
type Evaluation struct {
	Outputs []Output
	State   State
	Resumed bool // prior state was used
}

// Evaluate runs def over the input. Prior state must come from DecodeState;
// a kind or fingerprint mismatch, or data the algorithm rejects, yields
// ErrStateCorrupt and the caller is expected to retry without it.
func Evaluate(def Definition, params Params, in Input) (Evaluation, error) {
	alg, err := def.New(params)
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{
		State: State{Version: StateVersion, Kind: def.Kind, Fingerprint: in.Fingerprint},
	}
	if in.Prior.IsSome() {
		prior := in.Prior.Unwrap()
		if err := restore(alg, def.Kind, in.Fingerprint, prior); err != nil {
			return Evaluation{}, err
		}
		ev.State.LastDate, ev.State.Count = prior.LastDate, prior.Count
		ev.Resumed = true
	}

	for _, p := range in.Closed {
		if ev.Resumed && !p.Date.After(ev.State.LastDate) {
			continue
		}
		if vals, ok := alg.Step(p); ok {
			ev.Outputs = append(ev.Outputs, Output{Date: p.Date, Values: vals})
		}
		ev.State.LastDate = p.Date
		ev.State.Count++
	}

	// Snapshot before the forming bar touches the algorithm.
	data, err := json.Marshal(alg)
	if err != nil {
		return Evaluation{}, fmt.Errorf("snapshot %s: %w", def.Kind, err)
	}
	ev.State.Data = data

	if in.Forming.IsSome() {
		p := in.Forming.Unwrap()
		if p.Date.After(ev.State.LastDate) {
			if vals, ok := alg.Step(p); ok {
				ev.Outputs = append(ev.Outputs, Output{Date: p.Date, Values: vals, Forming: true})
			}
		}
	}
	return ev, nil
}

func restore(alg Algorithm, kind Kind, fp uint64, s State) error {
	if s.Kind != kind {
		return fmt.Errorf("%w: kind %s, want %s", ErrStateCorrupt, s.Kind, kind)
	}
	if s.Fingerprint != fp {
		return fmt.Errorf("%w: configuration changed", ErrStateCorrupt)
	}
	if err := json.Unmarshal(s.Data, alg); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if err := alg.Check(); err != nil {
		if errors.Is(err, ErrStateCorrupt) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	return nil
}

// Verify reports whether s can be resumed by def with params, without
// evaluating anything. It returns ErrStateCorrupt when it cannot.
func Verify(def Definition, params Params, fp uint64, s State) error {
	alg, err := def.New(params)
	if err != nil {
		return err
	}
	return restore(alg, def.Kind, fp, s)
}
