package model

import (
	"context"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the engine from concrete storage (SQLite, Redis).

// TimeSeriesStore reads raw daily bars.
type TimeSeriesStore interface {
	// ReadBars returns the full daily series of a security ordered by date.
	ReadBars(ctx context.Context, securityID string) ([]PriceBar, error)

	// ListSecurities returns every security that has at least one bar.
	ListSecurities(ctx context.Context) ([]string, error)
}

// StateStore keeps carried indicator state as raw JSON blobs keyed by
// (security, spec id). Using []byte avoids a model→indicator import cycle.
type StateStore interface {
	// LoadStates returns the stored blobs for the given spec ids.
	// Missing entries are simply absent from the map.
	LoadStates(ctx context.Context, securityID string, specIDs []string) (map[string][]byte, error)

	// SaveStates upserts the given blobs.
	SaveStates(ctx context.Context, securityID string, states map[string][]byte) error
}

// RecordStore merges computation results into the security record.
type RecordStore interface {
	// MergeRecord overwrites the fields present in r and leaves all
	// other fields of the record untouched.
	MergeRecord(ctx context.Context, r *ComputationResult) error
}
