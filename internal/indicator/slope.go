package indicator

import (
	"github.com/shopspring/decimal"

	"indicator-engine/internal/model"
)

// Slope is the first difference of another spec's output between
// consecutive points on which that output exists.
type Slope struct {
	Prev    decimal.Decimal `json:"prev"`
	HasPrev bool            `json:"has_prev"`
}

func newSlope(p Params) (Algorithm, error) {
	if p.String("source", "") == "" {
		return nil, paramErr("source", "is required")
	}
	return &Slope{}, nil
}

func (s *Slope) Step(p Point) (model.Values, bool) {
	x := p.Source("source")
	prev, had := s.Prev, s.HasPrev
	s.Prev, s.HasPrev = x, true
	if !had {
		return nil, false
	}
	slope := x.Sub(prev)
	return model.Values{
		"slope":  model.Number(slope),
		"rising": model.Bool(slope.IsPositive()),
	}, true
}

func (s *Slope) Check() error { return nil }
