package indicator

import (
	"time"

	"github.com/shopspring/decimal"

	"indicator-engine/internal/model"
)

// ADXDMI computes Wilder-smoothed true range, directional movement, ±DI and
// ADX. The recurrences start at the first bar; outputs start once period
// directional movements have been seen.
//
// dmi_bull is +DI > −DI. The crossing date is the last date dmi_bull flipped
// between consecutive outputs. It is absent until the first flip and is only
// ever moved forward.
type ADXDMI struct {
	period int

	Count     int             `json:"count"`
	PrevHigh  decimal.Decimal `json:"prev_high"`
	PrevLow   decimal.Decimal `json:"prev_low"`
	PrevClose decimal.Decimal `json:"prev_close"`
	ATR       decimal.Decimal `json:"atr"`
	PlusDM    decimal.Decimal `json:"plus_dm"`
	MinusDM   decimal.Decimal `json:"minus_dm"`
	ADX       decimal.Decimal `json:"adx"`

	Trend Trend `json:"trend"`
}

func newADXDMI(p Params) (Algorithm, error) {
	period, err := p.Int("period", 14, 1)
	if err != nil {
		return nil, err
	}
	return &ADXDMI{period: period}, nil
}

func (a *ADXDMI) Step(p Point) (model.Values, bool) {
	h, l, c := p.Bar.High, p.Bar.Low, p.Bar.Close
	a.Count++

	tr := h.Sub(l)
	plusDM, minusDM := decimal.Zero, decimal.Zero
	if a.Count > 1 {
		tr = decimal.Max(tr, h.Sub(a.PrevClose).Abs(), l.Sub(a.PrevClose).Abs())
		up, down := h.Sub(a.PrevHigh), a.PrevLow.Sub(l)
		if up.GreaterThan(down) && up.IsPositive() {
			plusDM = up
		}
		if down.GreaterThan(up) && down.IsPositive() {
			minusDM = down
		}
	}
	a.PrevHigh, a.PrevLow, a.PrevClose = h, l, c

	if a.Count == 1 {
		a.ATR, a.PlusDM, a.MinusDM = tr, plusDM, minusDM
	} else {
		a.ATR = wilder(a.ATR, tr, a.period)
		a.PlusDM = wilder(a.PlusDM, plusDM, a.period)
		a.MinusDM = wilder(a.MinusDM, minusDM, a.period)
	}

	dmiP, dmiM := decimal.Zero, decimal.Zero
	if a.ATR.IsPositive() {
		dmiP = div(a.PlusDM.Mul(hundred), a.ATR)
		dmiM = div(a.MinusDM.Mul(hundred), a.ATR)
	}
	dx := decimal.Zero
	if sum := dmiP.Add(dmiM); sum.IsPositive() {
		dx = div(dmiP.Sub(dmiM).Abs().Mul(hundred), sum)
	}
	if a.Count == 1 {
		a.ADX = dx
	} else {
		a.ADX = wilder(a.ADX, dx, a.period)
	}

	if a.Count <= a.period {
		return nil, false
	}

	bull := dmiP.GreaterThan(dmiM)
	a.Trend.Observe(bull, p.Date)

	out := model.Values{
		"adx":      model.Number(a.ADX),
		"dmi_p":    model.Number(dmiP),
		"dmi_m":    model.Number(dmiM),
		"dmi_bull": model.Bool(bull),
	}
	if d, ok := a.Trend.Changed(); ok {
		out["adx_crossing_date"] = model.Date(d)
	}
	return out, true
}

func (a *ADXDMI) Check() error {
	if a.Count < 0 || a.ATR.IsNegative() {
		return ErrStateCorrupt
	}
	return nil
}

// Trend is a two-state (bullish/bearish) machine that records the date of
// the most recent transition.
type Trend struct {
	Known   bool       `json:"known"`
	Bull    bool       `json:"bull"`
	Flipped *time.Time `json:"flipped,omitempty"`
}

// Observe feeds the direction at date. A transition is recorded only when a
// previous direction exists and differs.
func (t *Trend) Observe(bull bool, date time.Time) {
	if t.Known && bull != t.Bull {
		d := date
		t.Flipped = &d
	}
	t.Known, t.Bull = true, bull
}

// Changed returns the last transition date, if any.
func (t *Trend) Changed() (time.Time, bool) {
	if t.Flipped == nil {
		return time.Time{}, false
	}
	return *t.Flipped, true
}
