package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValueType tags the variant held by a Value.
type ValueType int

const (
	ValueNumber ValueType = iota + 1
	ValueBool
	ValueDate
)

func (t ValueType) String() string {
	switch t {
	case ValueNumber:
		return "number"
	case ValueBool:
		return "bool"
	case ValueDate:
		return "date"
	}
	return "unknown"
}

// Value is one indicator output: a number, a boolean or a date.
type Value struct {
	Type ValueType
	Num  decimal.Decimal
	Bool bool
	Date time.Time
}

// Number wraps a decimal.
func Number(d decimal.Decimal) Value { return Value{Type: ValueNumber, Num: d} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{Type: ValueBool, Bool: b} }

// Date wraps a calendar date.
func Date(t time.Time) Value { return Value{Type: ValueDate, Date: t} }

// Equal reports whether two values hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case ValueNumber:
		return v.Num.Equal(o.Num)
	case ValueBool:
		return v.Bool == o.Bool
	case ValueDate:
		return v.Date.Equal(o.Date)
	}
	return true
}

func (v Value) String() string {
	switch v.Type {
	case ValueNumber:
		return v.Num.String()
	case ValueBool:
		return fmt.Sprint(v.Bool)
	case ValueDate:
		return FormatDate(v.Date)
	}
	return "<nil>"
}

// MarshalJSON writes numbers as JSON numbers and dates as YYYY-MM-DD strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case ValueNumber:
		return []byte(v.Num.String()), nil
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueDate:
		return json.Marshal(FormatDate(v.Date))
	}
	return []byte("null"), nil
}

// Values maps generic output keys to values for one point in time.
type Values map[string]Value
