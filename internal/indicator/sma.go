package indicator

import (
	"github.com/shopspring/decimal"

	"indicator-engine/internal/model"
	"indicator-engine/internal/ringbuf"
)

// SMA is the arithmetic mean of the trailing period values of its source.
// rising is true when the mean is strictly above the previous output; the
// first output has nothing to compare with and reports false.
type SMA struct {
	period int

	Window  *ringbuf.Window `json:"window"`
	Prev    decimal.Decimal `json:"prev"`
	HasPrev bool            `json:"has_prev"`
}

func newSMA(p Params) (Algorithm, error) {
	period, err := p.Int("period", 0, 1)
	if err != nil {
		return nil, err
	}
	return &SMA{period: period, Window: ringbuf.New(period)}, nil
}

func (s *SMA) Step(p Point) (model.Values, bool) {
	s.Window.Push(p.Source("source"))
	if !s.Window.Full() {
		return nil, false
	}

	sma := div(s.Window.Sum, decimal.NewFromInt(int64(s.period)))
	rising := s.HasPrev && sma.GreaterThan(s.Prev)
	s.Prev, s.HasPrev = sma, true

	return model.Values{
		"sma":    model.Number(sma),
		"rising": model.Bool(rising),
	}, true
}

func (s *SMA) Check() error {
	if s.Window == nil {
		return ErrStateCorrupt
	}
	return s.Window.Validate(s.period)
}
