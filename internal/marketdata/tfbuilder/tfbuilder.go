// Package tfbuilder resamples daily price bars into calendar intervals.
// Bars are merged incrementally: each input bar updates the forming bar of
// every enabled interval in O(1). When a bar arrives in a new period the
// previous period is finalized and emitted.
package tfbuilder

import (
	"errors"
	"fmt"

	"indicator-engine/internal/model"
)

// ErrUnorderedSeries is returned when input dates are not strictly increasing.
var ErrUnorderedSeries = errors.New("bars not strictly ordered by date")

// tfState holds the forming bar of one interval.
type tfState struct {
	bucket  int64 // period start (Unix seconds)
	bar     model.IntervalBar
	started bool
}

// Builder resamples bars into several intervals at once.
// Not goroutine-safe: designed for a single caller.
type Builder struct {
	intervals []model.Interval
	states    []tfState
	out       [][]model.IntervalBar
	last      model.IntervalBar
	seen      bool

	// OnBar is called for every finalized bar (optional).
	OnBar func(iv model.Interval, b model.IntervalBar)
}

// New creates a builder for the given intervals.
func New(intervals ...model.Interval) (*Builder, error) {
	for _, iv := range intervals {
		if _, err := model.ParseInterval(string(iv)); err != nil {
			return nil, err
		}
	}
	return &Builder{
		intervals: intervals,
		states:    make([]tfState, len(intervals)),
		out:       make([][]model.IntervalBar, len(intervals)),
	}, nil
}

// Add merges one bar into every interval. Input dates must strictly increase.
func (b *Builder) Add(in model.IntervalBar) error {
	if b.seen && !in.Date.After(b.last.Date) {
		return fmt.Errorf("%w: %s after %s", ErrUnorderedSeries,
			model.FormatDate(in.Date), model.FormatDate(b.last.Date))
	}
	b.last, b.seen = in, true

	for i, iv := range b.intervals {
		if iv == model.Daily {
			// identity: every daily bar is its own closed period
			d := in
			d.PeriodStart = iv.PeriodStart(in.Date)
			d.Forming = false
			b.out[i] = append(b.out[i], d)
			if b.OnBar != nil {
				b.OnBar(iv, d)
			}
			continue
		}

		start := iv.PeriodStart(in.Date)
		bucket := start.Unix()
		st := &b.states[i]

		if st.started && bucket > st.bucket {
			// New period: finalize the forming bar
			st.bar.Forming = false
			b.out[i] = append(b.out[i], st.bar)
			if b.OnBar != nil {
				b.OnBar(iv, st.bar)
			}
			st.started = false
		}

		if !st.started {
			*st = tfState{
				bucket:  bucket,
				started: true,
				bar: model.IntervalBar{
					PriceBar:    in.PriceBar,
					PeriodStart: start,
					Count:       count(in),
				},
			}
			continue
		}

		// Same period: merge OHLCV (O(1))
		fb := &st.bar
		if in.High.GreaterThan(fb.High) {
			fb.High = in.High
		}
		if in.Low.LessThan(fb.Low) {
			fb.Low = in.Low
		}
		fb.Close = in.Close
		fb.Volume += in.Volume
		fb.Date = in.Date
		fb.Count += count(in)
	}
	return nil
}

// Series returns everything merged so far. The trailing bar of a weekly or
// monthly interval is marked Forming unless the bar for the last calendar
// day of its period has been seen. The builder keeps its state.
func (b *Builder) Series() map[model.Interval]model.IntervalSeries {
	res := make(map[model.Interval]model.IntervalSeries, len(b.intervals))
	for i, iv := range b.intervals {
		bars := make([]model.IntervalBar, len(b.out[i]), len(b.out[i])+1)
		copy(bars, b.out[i])
		if st := b.states[i]; st.started {
			tail := st.bar
			tail.Forming = b.last.Forming || tail.Date.Before(iv.PeriodEnd(tail.Date))
			bars = append(bars, tail)
		}
		res[iv] = model.IntervalSeries{Interval: iv, Bars: bars}
	}
	return res
}

// Intervals returns the enabled intervals.
func (b *Builder) Intervals() []model.Interval {
	return b.intervals
}

func count(in model.IntervalBar) int {
	if in.Count == 0 {
		return 1
	}
	return in.Count
}

// Resample aggregates a daily series into one interval.
func Resample(bars []model.PriceBar, iv model.Interval) (model.IntervalSeries, error) {
	all, err := ResampleAll(bars, iv)
	if err != nil {
		return model.IntervalSeries{}, err
	}
	return all[iv], nil
}

// ResampleAll aggregates a daily series into every given interval in one pass.
func ResampleAll(bars []model.PriceBar, intervals ...model.Interval) (map[model.Interval]model.IntervalSeries, error) {
	b, err := New(intervals...)
	if err != nil {
		return nil, err
	}
	for _, pb := range bars {
		if err := b.Add(model.IntervalBar{PriceBar: pb, PeriodStart: pb.Date, Count: 1}); err != nil {
			return nil, err
		}
	}
	return b.Series(), nil
}

// Rollup re-aggregates an already resampled series into a coarser interval.
// Each source bar is assigned to the target period containing its date.
func Rollup(series model.IntervalSeries, iv model.Interval) (model.IntervalSeries, error) {
	if _, err := model.ParseInterval(string(iv)); err != nil {
		return model.IntervalSeries{}, err
	}
	if series.Interval.Coarser(iv) {
		return model.IntervalSeries{}, fmt.Errorf("cannot roll %s bars up into %s", series.Interval, iv)
	}
	if series.Interval == iv {
		return series, nil
	}
	b, err := New(iv)
	if err != nil {
		return model.IntervalSeries{}, err
	}
	for _, bar := range series.Bars {
		if err := b.Add(bar); err != nil {
			return model.IntervalSeries{}, err
		}
	}
	return b.Series()[iv], nil
}
