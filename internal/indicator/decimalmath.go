package indicator

import (
	"math"

	"github.com/shopspring/decimal"
)

// precision is the number of decimal places kept after every division,
// square root and product that would otherwise grow without bound.
const precision int32 = 16

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
	one     = decimal.NewFromInt(1)
)

func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, precision)
}

// sqrt computes the square root with Newton's method on decimals.
// The float estimate only seeds the iteration.
func sqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	x := d
	if f := math.Sqrt(d.InexactFloat64()); f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f) {
		x = decimal.NewFromFloat(f)
	}
	for i := 0; i < 64; i++ {
		next := x.Add(d.DivRound(x, precision+4)).DivRound(two, precision+4)
		if next.Equal(x) {
			break
		}
		x = next
	}
	return x.Round(precision)
}

// sampleStd returns the sample standard deviation (n-1 denominator).
func sampleStd(values []decimal.Decimal, mean decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}
	ss := decimal.Zero
	for _, v := range values {
		dv := v.Sub(mean)
		ss = ss.Add(dv.Mul(dv))
	}
	return sqrt(div(ss, decimal.NewFromInt(int64(len(values)-1))))
}

// wilder applies one step of Wilder smoothing: (prev*(n-1) + x) / n.
func wilder(prev, x decimal.Decimal, n int) decimal.Decimal {
	nd := decimal.NewFromInt(int64(n))
	return div(prev.Mul(nd.Sub(one)).Add(x), nd)
}
