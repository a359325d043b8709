// Package ringbuf provides a fixed-capacity circular window of decimals with
// a running sum. The window state is exported so indicators can carry it
// across runs as JSON.
package ringbuf

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrCapacity is returned when a restored window does not match the expected size.
var ErrCapacity = errors.New("ringbuf: capacity mismatch")

// Window keeps the last Cap() values pushed. The zero value is unusable; use New.
type Window struct {
	Buf  []decimal.Decimal `json:"buf"`  // preallocated circular buffer
	Head int               `json:"head"` // next write position
	N    int               `json:"n"`    // number of valid values, <= Cap()
	Sum  decimal.Decimal   `json:"sum"`  // exact running sum of valid values
}

// New creates a window of the given capacity. Minimum capacity is 1.
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{Buf: make([]decimal.Decimal, capacity)}
}

// Push appends v, evicting the oldest value once the window is full.
// Returns the evicted value and whether one was evicted.
func (w *Window) Push(v decimal.Decimal) (decimal.Decimal, bool) {
	var (
		old     decimal.Decimal
		evicted bool
	)
	if w.N == len(w.Buf) {
		old, evicted = w.Buf[w.Head], true
		w.Sum = w.Sum.Sub(old)
	} else {
		w.N++
	}
	w.Buf[w.Head] = v
	w.Sum = w.Sum.Add(v)
	w.Head = (w.Head + 1) % len(w.Buf)
	return old, evicted
}

// At returns the i-th valid value, oldest first.
func (w *Window) At(i int) decimal.Decimal {
	start := (w.Head - w.N + len(w.Buf)) % len(w.Buf)
	return w.Buf[(start+i)%len(w.Buf)]
}

// Values returns a copy of the valid values, oldest first.
func (w *Window) Values() []decimal.Decimal {
	out := make([]decimal.Decimal, w.N)
	for i := range out {
		out[i] = w.At(i)
	}
	return out
}

// Max returns the largest valid value. The window must not be empty.
func (w *Window) Max() decimal.Decimal {
	m := w.At(0)
	for i := 1; i < w.N; i++ {
		if v := w.At(i); v.GreaterThan(m) {
			m = v
		}
	}
	return m
}

// Min returns the smallest valid value. The window must not be empty.
func (w *Window) Min() decimal.Decimal {
	m := w.At(0)
	for i := 1; i < w.N; i++ {
		if v := w.At(i); v.LessThan(m) {
			m = v
		}
	}
	return m
}

// Len returns the number of valid values.
func (w *Window) Len() int { return w.N }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.Buf) }

// Full reports whether the window holds Cap() values.
func (w *Window) Full() bool { return w.N == len(w.Buf) }

// Validate checks a restored window against the expected capacity.
func (w *Window) Validate(capacity int) error {
	if len(w.Buf) != capacity || w.N < 0 || w.N > capacity || w.Head < 0 || w.Head >= capacity {
		return ErrCapacity
	}
	return nil
}
