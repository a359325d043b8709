package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of every date the engine reads or writes.
const DateLayout = "2006-01-02"

// PriceBar is one trading day of OHLCV data for a single security.
// Series are ordered by Date with no duplicates and are never mutated.
type PriceBar struct {
	Date   time.Time       `json:"date"` // UTC midnight
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Column returns the named raw price column of the bar.
func (b PriceBar) Column(name string) (decimal.Decimal, bool) {
	switch name {
	case ColumnOpen:
		return b.Open, true
	case ColumnHigh:
		return b.High, true
	case ColumnLow:
		return b.Low, true
	case ColumnClose:
		return b.Close, true
	case ColumnVolume:
		return decimal.NewFromInt(b.Volume), true
	}
	return decimal.Decimal{}, false
}

// Raw price columns a spec may name as its source.
const (
	ColumnOpen   = "open"
	ColumnHigh   = "high"
	ColumnLow    = "low"
	ColumnClose  = "close"
	ColumnVolume = "volume"
)

// IsColumn reports whether name is a raw price column.
func IsColumn(name string) bool {
	switch name {
	case ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume:
		return true
	}
	return false
}

// IntervalBar is a bar aggregated over one calendar period.
type IntervalBar struct {
	PriceBar
	PeriodStart time.Time `json:"period_start"`
	Count       int       `json:"count"`   // number of daily bars merged
	Forming     bool      `json:"forming"` // true while the period is still open
}

// JSON returns the JSON-encoded bar.
func (b *IntervalBar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// IntervalSeries is an ordered, gap-free sequence of bars for one interval.
// Only the last bar may be Forming.
type IntervalSeries struct {
	Interval Interval      `json:"interval"`
	Bars     []IntervalBar `json:"bars"`
}

// Closed returns the bars whose period has ended.
func (s IntervalSeries) Closed() []IntervalBar {
	if n := len(s.Bars); n > 0 && s.Bars[n-1].Forming {
		return s.Bars[:n-1]
	}
	return s.Bars
}

// Forming returns the trailing unclosed bar, if any.
func (s IntervalSeries) Forming() (IntervalBar, bool) {
	if n := len(s.Bars); n > 0 && s.Bars[n-1].Forming {
		return s.Bars[n-1], true
	}
	return IntervalBar{}, false
}

// ParseDate parses a YYYY-MM-DD date as a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// FormatDate formats t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
