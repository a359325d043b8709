package indicator

import (
	"github.com/shopspring/decimal"

	"indicator-engine/internal/model"
)

// EMA is an exponential moving average with alpha = 2/(period+1), seeded
// with the first source value. Outputs start at the period-th point.
type EMA struct {
	period int
	alpha  decimal.Decimal

	Count int             `json:"count"`
	Value decimal.Decimal `json:"value"`
}

func newEMA(p Params) (Algorithm, error) {
	period, err := p.Int("period", 0, 1)
	if err != nil {
		return nil, err
	}
	return &EMA{
		period: period,
		alpha:  div(two, decimal.NewFromInt(int64(period+1))),
	}, nil
}

func (e *EMA) Step(p Point) (model.Values, bool) {
	x := p.Source("source")
	prev := e.Value
	if e.Count == 0 {
		e.Value = x
	} else {
		e.Value = e.Value.Add(e.alpha.Mul(x.Sub(e.Value))).Round(precision)
	}
	e.Count++

	if e.Count < e.period {
		return nil, false
	}
	return model.Values{
		"ema":    model.Number(e.Value),
		"rising": model.Bool(e.Count > 1 && e.Value.GreaterThan(prev)),
	}, true
}

func (e *EMA) Check() error {
	if e.Count < 0 {
		return ErrStateCorrupt
	}
	return nil
}
