// Package indicator provides technical indicator algorithms over interval bars.
//
// Every algorithm is a small state machine: it consumes one Point at a time
// and emits a set of named outputs once it has enough warm-up history. The
// state is plain JSON so a run can stop after any closed bar and a later run
// can resume from exactly that point.
package indicator

import (
	"time"

	"github.com/shopspring/decimal"

	"indicator-engine/internal/model"
)

// Kind names an algorithm in the registry.
type Kind string

const (
	KindSMA       Kind = "SimpleMovingAverage"
	KindEMA       Kind = "ExponentialMovingAverage"
	KindBollinger Kind = "BollingerBands"
	KindRSI       Kind = "RSI"
	KindADXDMI    Kind = "ADXDMI"
	KindPSAR      Kind = "PSAR"
	KindSlope     Kind = "Slope"
	KindHighLow   Kind = "HighLow"
	KindLarger    Kind = "Larger"
)

// Point is one input step: the interval bar plus the resolved source values,
// keyed by source parameter name.
type Point struct {
	Date    time.Time
	Bar     model.PriceBar
	Sources map[string]decimal.Decimal
}

// Source returns the resolved value of the named source parameter.
func (p Point) Source(name string) decimal.Decimal {
	return p.Sources[name]
}

// Algorithm is implemented by every registry entry.
// Exported struct fields are the carried state; unexported fields are parameters.
type Algorithm interface {
	// Step consumes the next point. It returns false while warming up.
	Step(p Point) (model.Values, bool)

	// Check validates state restored from JSON against the parameters.
	Check() error
}

// Output is the result of one step.
type Output struct {
	Date    time.Time
	Values  model.Values
	Forming bool // computed from a forming bar; never persisted
}
