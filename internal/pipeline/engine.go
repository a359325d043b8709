package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	optional "github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/marketdata/tfbuilder"
	"indicator-engine/internal/model"
)

// Outcome is the in-memory result of one security's run. Nothing in it has
// been written anywhere yet.
type Outcome struct {
	Result     *model.ComputationResult
	States     map[string][]byte // spec id → blob to persist
	Recomputed []string          // specs evaluated from scratch in incremental mode
	Outputs    int               // output points produced across all specs
}

// Engine evaluates a Plan for one security at a time. It does no I/O and
// is safe for concurrent use across securities.
type Engine struct {
	plan *Plan
	log  *zap.Logger

	// Metrics hooks (optional)
	OnSpec         func(kind indicator.Kind, took time.Duration, outputs int)
	OnStateCorrupt func(specID string)
}

// NewEngine creates an engine for plan.
func NewEngine(plan *Plan, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{plan: plan, log: log.Named("pipeline")}
}

// Plan returns the plan being evaluated.
func (e *Engine) Plan() *Plan { return e.plan }

// Compute evaluates every spec over bars. prior holds the stored state
// blobs by spec id and is ignored in full mode. The context is checked
// between specs; a cancelled run returns ctx.Err() and no outcome.
func (e *Engine) Compute(ctx context.Context, securityID string, bars []model.PriceBar, prior map[string][]byte, opts Options) (*Outcome, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	series, err := tfbuilder.ResampleAll(bars, e.plan.Intervals...)
	if err != nil {
		return nil, err
	}

	n := len(e.plan.Specs)
	priors, fresh := e.restore(securityID, series, prior, opts.Mode)

	results := make([]indicator.Evaluation, n)
	for _, level := range e.plan.Levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, i := range level {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				ev, err := e.evalSpec(i, series[e.plan.Specs[i].Interval], results, priors[i])
				if err != nil {
					return fmt.Errorf("%s: %w", e.plan.Specs[i].ID, err)
				}
				results[i] = ev
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Outcome{
		Result: assemble(e.plan, securityID, bars[len(bars)-1].Date, results, fresh, opts.History),
		States: make(map[string][]byte, n),
	}
	for i, ev := range results {
		out.Outputs += len(ev.Outputs)
		if opts.Mode == ModeIncremental && fresh[i] {
			out.Recomputed = append(out.Recomputed, e.plan.Specs[i].ID)
		}
		if ev.State.Count == 0 {
			continue // nothing closed on this interval yet
		}
		blob, err := ev.State.Encode()
		if err != nil {
			return nil, fmt.Errorf("%s: encode state: %w", e.plan.Specs[i].ID, err)
		}
		out.States[e.plan.Specs[i].ID] = blob
	}
	return out, nil
}

// restore decodes and verifies stored state. A spec without usable state is
// fresh; every spec a fresh spec reads from is made fresh as well, because a
// from-scratch evaluation needs its sources' full history.
func (e *Engine) restore(securityID string, series map[model.Interval]model.IntervalSeries,
	prior map[string][]byte, mode Mode) ([]optional.Option[indicator.State], []bool) {

	n := len(e.plan.Specs)
	priors := make([]optional.Option[indicator.State], n)
	fresh := make([]bool, n)
	for i := range fresh {
		priors[i] = optional.None[indicator.State]()
		fresh[i] = true
	}
	if mode == ModeFull {
		return priors, fresh
	}

	for i, sp := range e.plan.Specs {
		blob, ok := prior[sp.ID]
		if !ok {
			continue
		}
		st, err := indicator.DecodeState(blob)
		if err == nil {
			err = indicator.Verify(sp.Def, sp.Params, sp.Fingerprint, st)
		}
		if err == nil && !closedOn(series[sp.Interval], st.LastDate) {
			err = fmt.Errorf("%w: last date %s is not a closed %s bar",
				indicator.ErrStateCorrupt, model.FormatDate(st.LastDate), sp.Interval)
		}
		if err != nil {
			e.log.Warn("discarding stored state",
				zap.String("security", securityID), zap.String("spec", sp.ID), zap.Error(err))
			if e.OnStateCorrupt != nil && errors.Is(err, indicator.ErrStateCorrupt) {
				e.OnStateCorrupt(sp.ID)
			}
			continue
		}
		priors[i] = optional.Some(st)
		fresh[i] = false
	}

	for i := range e.plan.Specs {
		if !fresh[i] {
			continue
		}
		for _, u := range e.plan.Upstream(i) {
			if !fresh[u] {
				e.log.Debug("recomputing source from scratch for dependent",
					zap.String("spec", e.plan.Specs[u].ID), zap.String("dependent", e.plan.Specs[i].ID))
			}
			fresh[u] = true
			priors[u] = optional.None[indicator.State]()
		}
	}
	return priors, fresh
}

func (e *Engine) evalSpec(i int, s model.IntervalSeries, results []indicator.Evaluation,
	prior optional.Option[indicator.State]) (indicator.Evaluation, error) {

	sp := e.plan.Specs[i]
	start := time.Now()
	closed, forming := buildPoints(sp, s, results)
	ev, err := indicator.Evaluate(sp.Def, sp.Params, indicator.Input{
		Fingerprint: sp.Fingerprint,
		Closed:      closed,
		Forming:     forming,
		Prior:       prior,
	})
	if err != nil {
		return indicator.Evaluation{}, err
	}
	if e.OnSpec != nil {
		e.OnSpec(sp.Kind, time.Since(start), len(ev.Outputs))
	}
	return ev, nil
}

// buildPoints joins the interval bars with the spec's sources. A bar on
// which a source spec produced no value is skipped: the dependent spec sees
// it as missing history, never as zero.
func buildPoints(sp Spec, s model.IntervalSeries, results []indicator.Evaluation) ([]indicator.Point, optional.Option[indicator.Point]) {
	deps := make(map[string]map[int64]model.Values)
	for name, ref := range sp.Sources {
		if ref.IsColumn() {
			continue
		}
		byDate := make(map[int64]model.Values, len(results[ref.Spec].Outputs))
		for _, o := range results[ref.Spec].Outputs {
			byDate[o.Date.Unix()] = o.Values
		}
		deps[name] = byDate
	}

	closed := make([]indicator.Point, 0, len(s.Bars))
	forming := optional.None[indicator.Point]()
	for _, bar := range s.Bars {
		p := indicator.Point{
			Date:    bar.Date,
			Bar:     bar.PriceBar,
			Sources: make(map[string]decimal.Decimal, len(sp.Sources)),
		}
		usable := true
		for name, ref := range sp.Sources {
			if ref.IsColumn() {
				p.Sources[name], _ = bar.Column(ref.Column)
				continue
			}
			v, ok := deps[name][bar.Date.Unix()][ref.Key]
			if !ok || v.Type != model.ValueNumber {
				usable = false
				break
			}
			p.Sources[name] = v.Num
		}
		if !usable {
			continue
		}
		if bar.Forming {
			forming = optional.Some(p)
		} else {
			closed = append(closed, p)
		}
	}
	return closed, forming
}

// closedOn reports whether date is the date of a closed bar of s.
func closedOn(s model.IntervalSeries, date time.Time) bool {
	bars := s.Closed()
	lo, hi := 0, len(bars)
	for lo < hi {
		mid := (lo + hi) / 2
		if bars[mid].Date.Before(date) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(bars) && bars[lo].Date.Equal(date)
}
