package indicator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Params holds normalized parameter values. Numbers arrive as strings and
// are parsed on demand, so "20", 20 and 20.0 in a config all mean the same.
type Params map[string]string

// NewParams normalizes raw config values into Params.
func NewParams(raw map[string]any) (Params, error) {
	p := make(Params, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case string:
			p[k] = strings.TrimSpace(tv)
		case int:
			p[k] = strconv.Itoa(tv)
		case int64:
			p[k] = strconv.FormatInt(tv, 10)
		case float64:
			p[k] = decimal.NewFromFloat(tv).String()
		case fmt.Stringer: // json.Number
			p[k] = tv.String()
		case nil:
			return nil, fmt.Errorf("%w: %s is null", ErrInvalidParameter, k)
		default:
			return nil, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidParameter, k, v)
		}
	}
	return p, nil
}

// String returns the named value or def when absent.
func (p Params) String(name, def string) string {
	if v, ok := p[name]; ok && v != "" {
		return v
	}
	return def
}

// Decimal parses the named value or returns def when absent.
func (p Params) Decimal(name string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidParameter, name, v)
	}
	return d, nil
}

// MaxInt bounds every integer parameter. Periods size ring buffers that are
// allocated at plan load.
const MaxInt = 100_000

// Int parses the named value as an integer in [min, MaxInt], or returns def
// when absent.
// A def below min makes the parameter required. Integral decimals such as
// "14.0" are accepted.
func (p Params) Int(name string, def, min int) (int, error) {
	v, ok := p[name]
	if !ok {
		if def < min {
			return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameter, name)
		}
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidParameter, name, v)
	}
	if d.GreaterThan(decimal.NewFromInt(MaxInt)) {
		return 0, fmt.Errorf("%w: %s=%s must be <= %d", ErrInvalidParameter, name, v, MaxInt)
	}
	n := int(d.IntPart())
	if n < min {
		return 0, fmt.Errorf("%w: %s=%d must be >= %d", ErrInvalidParameter, name, n, min)
	}
	return n, nil
}

// Canonical returns a stable "k=v;..." rendering used for fingerprints.
// Numeric values are normalized so 20 and 20.0 fingerprint the same.
func (p Params) Canonical() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		v := p[k]
		if d, err := decimal.NewFromString(v); err == nil {
			v = d.String()
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
		sb.WriteByte(';')
	}
	return sb.String()
}
