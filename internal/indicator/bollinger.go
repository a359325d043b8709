package indicator

import (
	"github.com/shopspring/decimal"

	"indicator-engine/internal/model"
	"indicator-engine/internal/ringbuf"
)

// Bollinger computes SMA ± k·σ over the trailing window, σ being the sample
// standard deviation. bb_pc = (price − lower) / (upper − lower) is not
// clamped; on a zero-width band it is left out of the output.
type Bollinger struct {
	period int
	k      decimal.Decimal

	Window  *ringbuf.Window `json:"window"`
	PrevStd decimal.Decimal `json:"prev_std"`
	HasPrev bool            `json:"has_prev"`
}

func newBollinger(p Params) (Algorithm, error) {
	period, err := p.Int("period", 20, 2)
	if err != nil {
		return nil, err
	}
	k, err := p.Decimal("std", two)
	if err != nil {
		return nil, err
	}
	if k.IsNegative() {
		return nil, paramErr("std", "must not be negative")
	}
	return &Bollinger{period: period, k: k, Window: ringbuf.New(period)}, nil
}

func (b *Bollinger) Step(p Point) (model.Values, bool) {
	price := p.Source("source")
	b.Window.Push(price)
	if !b.Window.Full() {
		return nil, false
	}

	mean := div(b.Window.Sum, decimal.NewFromInt(int64(b.period)))
	std := sampleStd(b.Window.Values(), mean)
	band := b.k.Mul(std).Round(precision)
	upper, lower := mean.Add(band), mean.Sub(band)

	expanding := b.HasPrev && std.GreaterThan(b.PrevStd)
	b.PrevStd, b.HasPrev = std, true

	out := model.Values{
		"sma":          model.Number(mean),
		"bb_upper":     model.Number(upper),
		"bb_lower":     model.Number(lower),
		"bb_expanding": model.Bool(expanding),
	}
	if width := upper.Sub(lower); !width.IsZero() {
		out["bb_pc"] = model.Number(div(price.Sub(lower), width))
	}
	return out, true
}

func (b *Bollinger) Check() error {
	if b.Window == nil {
		return ErrStateCorrupt
	}
	return b.Window.Validate(b.period)
}
