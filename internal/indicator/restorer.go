package indicator

import (
	"context"

	"go.uber.org/zap"

	"indicator-engine/internal/model"
)

// Restorer chains state stores in priority order, e.g. Redis → SQLite.
// Reads take the first blob found per spec id; a missing blob means a cold
// start for that spec. The last store is authoritative: its errors are
// returned, while errors from the stores in front of it are logged and skipped.
type Restorer struct {
	stores []model.StateStore
	log    *zap.Logger
}

// NewRestorer creates a Restorer over stores, highest priority first.
func NewRestorer(log *zap.Logger, stores ...model.StateStore) *Restorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Restorer{stores: stores, log: log.Named("restorer")}
}

// LoadStates implements model.StateStore.
func (r *Restorer) LoadStates(ctx context.Context, securityID string, specIDs []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(specIDs))
	missing := specIDs
	for i, st := range r.stores {
		if len(missing) == 0 {
			break
		}
		got, err := st.LoadStates(ctx, securityID, missing)
		if err != nil {
			if i == len(r.stores)-1 {
				return nil, err
			}
			r.log.Warn("state layer unavailable, falling through",
				zap.Int("layer", i), zap.String("security", securityID), zap.Error(err))
			continue
		}
		for id, blob := range got {
			out[id] = blob
		}
		if i > 0 && len(got) > 0 {
			r.warm(ctx, securityID, got, i)
		}
		missing = remaining(missing, got)
	}
	if len(missing) > 0 {
		r.log.Debug("no stored state, cold start",
			zap.String("security", securityID), zap.Strings("specs", missing))
	}
	return out, nil
}

// SaveStates writes the authoritative store first, then the ones in front of it.
func (r *Restorer) SaveStates(ctx context.Context, securityID string, states map[string][]byte) error {
	if len(r.stores) == 0 || len(states) == 0 {
		return nil
	}
	last := len(r.stores) - 1
	if err := r.stores[last].SaveStates(ctx, securityID, states); err != nil {
		return err
	}
	for i := last - 1; i >= 0; i-- {
		if err := r.stores[i].SaveStates(ctx, securityID, states); err != nil {
			r.log.Warn("state cache write failed",
				zap.Int("layer", i), zap.String("security", securityID), zap.Error(err))
		}
	}
	return nil
}

// warm copies blobs found in a lower layer into the layers above it.
func (r *Restorer) warm(ctx context.Context, securityID string, got map[string][]byte, found int) {
	for i := 0; i < found; i++ {
		if err := r.stores[i].SaveStates(ctx, securityID, got); err != nil {
			r.log.Debug("state cache warm failed", zap.Int("layer", i), zap.Error(err))
		}
	}
}

func remaining(ids []string, got map[string][]byte) []string {
	var out []string
	for _, id := range ids {
		if _, ok := got[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
