package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"indicator-engine/internal/model"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// pointsFromCloses builds one point per close with a synthetic high/low band.
func pointsFromCloses(closes ...float64) []Point {
	pts := make([]Point, len(closes))
	for i, c := range closes {
		pts[i] = makePoint(i, c, c+1, c-1)
	}
	return pts
}

func makePoint(i int, c, h, l float64) Point {
	bar := model.PriceBar{
		Date:   epoch.AddDate(0, 0, i),
		Open:   dec(c),
		High:   dec(h),
		Low:    dec(l),
		Close:  dec(c),
		Volume: 1000,
	}
	return Point{
		Date: bar.Date,
		Bar:  bar,
		Sources: map[string]decimal.Decimal{
			"source":            bar.Close,
			"source_high":       bar.High,
			"source_low":        bar.Low,
			"source_percentage": bar.Close,
		},
	}
}

// wave generates a deterministic series with trend changes.
func wave(n int) []Point {
	pts := make([]Point, n)
	for i := 0; i < n; i++ {
		c := 100 + 10*math.Sin(float64(i)/5) + float64(i)*0.3
		c = math.Round(c*100) / 100
		pts[i] = makePoint(i, c, c+1+float64(i%3), c-1-float64(i%2))
	}
	return pts
}

func mustDef(t *testing.T, kind Kind) Definition {
	t.Helper()
	d, err := Lookup(string(kind))
	if err != nil {
		t.Fatalf("lookup %s: %v", kind, err)
	}
	return d
}

func assertClose(t *testing.T, label string, got decimal.Decimal, want, tol float64) {
	t.Helper()
	if math.Abs(got.InexactFloat64()-want) > tol {
		t.Errorf("%s: got %s, want %.10f (tol %.0e)", label, got, want, tol)
	}
}

// run steps an algorithm over points and returns emitted outputs.
func run(t *testing.T, kind Kind, params Params, pts []Point) []Output {
	t.Helper()
	alg, err := mustDef(t, kind).New(params)
	if err != nil {
		t.Fatalf("new %s: %v", kind, err)
	}
	var out []Output
	for _, p := range pts {
		if vals, ok := alg.Step(p); ok {
			out = append(out, Output{Date: p.Date, Values: vals})
		}
	}
	return out
}
