package indicator

import (
	"github.com/shopspring/decimal"

	"indicator-engine/internal/model"
)

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// The first value appears after period changes, seeded with their plain mean.
// Step is O(1) per point, no history scans.
type RSI struct {
	period int

	Count   int             `json:"count"`
	Prev    decimal.Decimal `json:"prev"`
	AvgGain decimal.Decimal `json:"avg_gain"`
	AvgLoss decimal.Decimal `json:"avg_loss"`
}

func newRSI(p Params) (Algorithm, error) {
	period, err := p.Int("period", 14, 1)
	if err != nil {
		return nil, err
	}
	return &RSI{period: period}, nil
}

func (r *RSI) Step(p Point) (model.Values, bool) {
	x := p.Source("source")
	r.Count++
	if r.Count == 1 {
		// First point: just record the price, no delta yet
		r.Prev = x
		return nil, false
	}

	delta := x.Sub(r.Prev)
	r.Prev = x
	gain, loss := decimal.Zero, decimal.Zero
	if delta.IsPositive() {
		gain = delta
	} else {
		loss = delta.Neg()
	}

	switch {
	case r.Count <= r.period:
		// Accumulation phase
		r.AvgGain = r.AvgGain.Add(gain)
		r.AvgLoss = r.AvgLoss.Add(loss)
		return nil, false
	case r.Count == r.period+1:
		n := decimal.NewFromInt(int64(r.period))
		r.AvgGain = div(r.AvgGain.Add(gain), n)
		r.AvgLoss = div(r.AvgLoss.Add(loss), n)
	default:
		r.AvgGain = wilder(r.AvgGain, gain, r.period)
		r.AvgLoss = wilder(r.AvgLoss, loss, r.period)
	}

	out := model.Values{}
	switch {
	case r.AvgLoss.IsZero() && r.AvgGain.IsZero():
		// flat window: undefined
	case r.AvgLoss.IsZero():
		out["rsi"] = model.Number(hundred)
	default:
		rs := div(r.AvgGain, r.AvgLoss)
		out["rsi"] = model.Number(hundred.Sub(div(hundred, one.Add(rs))))
	}
	return out, true
}

func (r *RSI) Check() error {
	if r.Count < 0 || r.AvgGain.IsNegative() || r.AvgLoss.IsNegative() {
		return ErrStateCorrupt
	}
	return nil
}
