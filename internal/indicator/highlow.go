package indicator

import (
	"indicator-engine/internal/model"
	"indicator-engine/internal/ringbuf"
)

// HighLow tracks the highest high and lowest low of the trailing window and
// the percentage distance of the current price to each.
type HighLow struct {
	period int

	Highs *ringbuf.Window `json:"highs"`
	Lows  *ringbuf.Window `json:"lows"`
}

func newHighLow(p Params) (Algorithm, error) {
	period, err := p.Int("period", 0, 1)
	if err != nil {
		return nil, err
	}
	return &HighLow{period: period, Highs: ringbuf.New(period), Lows: ringbuf.New(period)}, nil
}

func (h *HighLow) Step(p Point) (model.Values, bool) {
	h.Highs.Push(p.Source("source_high"))
	h.Lows.Push(p.Source("source_low"))
	if !h.Highs.Full() {
		return nil, false
	}

	price := p.Source("source_percentage")
	hi, lo := h.Highs.Max(), h.Lows.Min()
	out := model.Values{
		"window_high": model.Number(hi),
		"window_low":  model.Number(lo),
	}
	if !hi.IsZero() {
		out["window_high_pc"] = model.Number(div(price, hi).Sub(one).Mul(hundred))
	}
	if !lo.IsZero() {
		out["window_low_pc"] = model.Number(div(price, lo).Sub(one).Mul(hundred))
	}
	return out, true
}

func (h *HighLow) Check() error {
	if h.Highs == nil || h.Lows == nil {
		return ErrStateCorrupt
	}
	if err := h.Highs.Validate(h.period); err != nil {
		return err
	}
	return h.Lows.Validate(h.period)
}
