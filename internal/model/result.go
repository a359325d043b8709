package model

import (
	"encoding/json"
	"time"
)

// ComputationResult is what one run writes to the security record.
//
// Fields holds the flat, renamed outputs: a nil entry is an explicit null.
// Extra holds the unmapped outputs keyed by spec id.
type ComputationResult struct {
	SecurityID string                     `json:"security_id"`
	AsOf       time.Time                  `json:"as_of"`
	Fields     map[string]*Value          `json:"fields"`
	Extra      map[string]json.RawMessage `json:"extra,omitempty"`
	History    map[string][]FieldPoint    `json:"history,omitempty"`
}

// FieldPoint is one dated value of a storage field.
type FieldPoint struct {
	Date  time.Time `json:"date"`
	Value Value     `json:"value"`
}

// NewComputationResult returns an empty result for securityID.
func NewComputationResult(securityID string) *ComputationResult {
	return &ComputationResult{
		SecurityID: securityID,
		Fields:     make(map[string]*Value),
		Extra:      make(map[string]json.RawMessage),
	}
}

// JSON returns the JSON-encoded result.
func (r *ComputationResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
