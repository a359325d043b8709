package indicator

import (
	"github.com/shopspring/decimal"

	"indicator-engine/internal/model"
)

var (
	defaultAF    = decimal.RequireFromString("0.02")
	defaultAFMax = decimal.RequireFromString("0.2")
)

// PSAR is the Parabolic Stop-And-Reverse. The first bar starts a bullish
// trend with SAR at its low. The acceleration factor grows by af on each new
// extreme point and is capped at max in both directions.
type PSAR struct {
	step, max decimal.Decimal

	Count    int             `json:"count"`
	SAR      decimal.Decimal `json:"sar"`
	EP       decimal.Decimal `json:"ep"`
	AF       decimal.Decimal `json:"af"`
	PrevHigh decimal.Decimal `json:"prev_high"`
	PrevLow  decimal.Decimal `json:"prev_low"`

	Trend Trend `json:"trend"`
}

func newPSAR(p Params) (Algorithm, error) {
	step, err := p.Decimal("af", defaultAF)
	if err != nil {
		return nil, err
	}
	max, err := p.Decimal("max", defaultAFMax)
	if err != nil {
		return nil, err
	}
	if !step.IsPositive() {
		return nil, paramErr("af", "must be positive")
	}
	if max.LessThan(step) {
		return nil, paramErr("max", "must be >= af")
	}
	return &PSAR{step: step, max: max}, nil
}

func (s *PSAR) Step(p Point) (model.Values, bool) {
	h, l := p.Bar.High, p.Bar.Low
	s.Count++

	if s.Count == 1 {
		s.SAR, s.EP, s.AF = l, h, s.step
		s.Trend.Observe(true, p.Date)
	} else if s.Trend.Bull {
		prev := s.SAR
		sar := prev.Add(s.AF.Mul(s.EP.Sub(prev))).Round(precision)
		if l.LessThan(prev) || l.LessThan(sar) {
			// reverse to bearish
			sar, s.EP, s.AF = s.EP, s.PrevLow, s.step
			s.Trend.Observe(false, p.Date)
		} else if h.GreaterThan(s.EP) {
			s.EP = h
			s.AF = decimal.Min(s.AF.Add(s.step), s.max)
		}
		s.SAR = sar
	} else {
		prev := s.SAR
		sar := prev.Sub(s.AF.Mul(prev.Sub(s.EP))).Round(precision)
		if h.GreaterThan(prev) || h.GreaterThan(sar) {
			// reverse to bullish
			sar, s.EP, s.AF = s.EP, s.PrevHigh, s.step
			s.Trend.Observe(true, p.Date)
		} else if l.LessThan(s.EP) {
			s.EP = l
			s.AF = decimal.Min(s.AF.Add(s.step), s.max)
		}
		s.SAR = sar
	}
	s.PrevHigh, s.PrevLow = h, l

	out := model.Values{
		"psar":      model.Number(s.SAR),
		"psar_bull": model.Bool(s.Trend.Bull),
	}
	if d, ok := s.Trend.Changed(); ok {
		out["psar_change_date"] = model.Date(d)
	}
	return out, true
}

func (s *PSAR) Check() error {
	if s.Count < 0 || (s.Count > 0 && (!s.Trend.Known || s.AF.GreaterThan(s.max))) {
		return ErrStateCorrupt
	}
	return nil
}
