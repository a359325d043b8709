package indicator

import "indicator-engine/internal/model"

// Larger reports whether source1 is strictly greater than source2.
type Larger struct{}

func newLarger(p Params) (Algorithm, error) {
	for _, name := range []string{"source1", "source2"} {
		if p.String(name, "") == "" {
			return nil, paramErr(name, "is required")
		}
	}
	return &Larger{}, nil
}

func (l *Larger) Step(p Point) (model.Values, bool) {
	return model.Values{
		"larger": model.Bool(p.Source("source1").GreaterThan(p.Source("source2"))),
	}, true
}

func (l *Larger) Check() error { return nil }
