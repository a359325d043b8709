package indicator

import (
	"fmt"
	"sort"

	"indicator-engine/internal/model"
)

// OutputKey is one generic output an algorithm declares.
type OutputKey struct {
	Name string
	Type model.ValueType
}

// SourceParam is a parameter naming an input series.
type SourceParam struct {
	Name    string
	Default string // column used when the parameter is absent; "" means required
}

// Definition describes one registry entry.
type Definition struct {
	Kind    Kind
	Outputs []OutputKey
	Params  []string // accepted parameter names, sources included
	Sources []SourceParam

	// Aliases maps older parameter spellings to their current name.
	Aliases map[string]string

	// FieldSourceOnly requires every source to be another spec's field.
	FieldSourceOnly bool

	New func(p Params) (Algorithm, error)
}

// Output returns the declared output key with the given name.
func (d Definition) Output(name string) (OutputKey, bool) {
	for _, o := range d.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return OutputKey{}, false
}

// OutputNames returns the declared output key names in declaration order.
func (d Definition) OutputNames() []string {
	names := make([]string, len(d.Outputs))
	for i, o := range d.Outputs {
		names[i] = o.Name
	}
	return names
}

// Normalize returns p with aliased parameter names replaced by their
// current spelling. Giving both spellings of one parameter is an error.
func (d Definition) Normalize(p Params) (Params, error) {
	if len(d.Aliases) == 0 {
		return p, nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		name := k
		if canon, ok := d.Aliases[k]; ok {
			name = canon
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%w: %s given twice as %q", ErrInvalidParameter, d.Kind, name)
		}
		out[name] = v
	}
	return out, nil
}

// Validate rejects unknown parameter names and malformed values.
func (d Definition) Validate(p Params) error {
	for name := range p {
		if !d.accepts(name) {
			return fmt.Errorf("%w: %s does not take %q", ErrInvalidParameter, d.Kind, name)
		}
	}
	for _, s := range d.Sources {
		if s.Default == "" && p.String(s.Name, "") == "" {
			return fmt.Errorf("%w: %s requires %q", ErrInvalidParameter, d.Kind, s.Name)
		}
	}
	_, err := d.New(p)
	return err
}

func (d Definition) accepts(name string) bool {
	for _, n := range d.Params {
		if n == name {
			return true
		}
	}
	return false
}

var (
	num  = model.ValueNumber
	flag = model.ValueBool
	date = model.ValueDate
)

// registry is the closed catalog of algorithms.
var registry = map[Kind]Definition{
	KindSMA: {
		Kind:    KindSMA,
		Outputs: []OutputKey{{"sma", num}, {"rising", flag}},
		Params:  []string{"period", "source"},
		Sources: []SourceParam{{"source", model.ColumnClose}},
		New:     newSMA,
	},
	KindEMA: {
		Kind:    KindEMA,
		Outputs: []OutputKey{{"ema", num}, {"rising", flag}},
		Params:  []string{"period", "source"},
		Sources: []SourceParam{{"source", model.ColumnClose}},
		New:     newEMA,
	},
	KindBollinger: {
		Kind: KindBollinger,
		Outputs: []OutputKey{
			{"sma", num}, {"bb_upper", num}, {"bb_lower", num},
			{"bb_pc", num}, {"bb_expanding", flag},
		},
		Params:  []string{"period", "std", "source"},
		Sources: []SourceParam{{"source", model.ColumnClose}},
		New:     newBollinger,
	},
	KindRSI: {
		Kind:    KindRSI,
		Outputs: []OutputKey{{"rsi", num}},
		Params:  []string{"period", "source"},
		Sources: []SourceParam{{"source", model.ColumnClose}},
		New:     newRSI,
	},
	KindADXDMI: {
		Kind: KindADXDMI,
		Outputs: []OutputKey{
			{"adx", num}, {"dmi_p", num}, {"dmi_m", num},
			{"dmi_bull", flag}, {"adx_crossing_date", date},
		},
		Params: []string{"period"},
		New:    newADXDMI,
	},
	KindPSAR: {
		Kind:    KindPSAR,
		Outputs: []OutputKey{{"psar", num}, {"psar_bull", flag}, {"psar_change_date", date}},
		Params:  []string{"af", "max"},
		New:     newPSAR,
	},
	KindSlope: {
		Kind:            KindSlope,
		Outputs:         []OutputKey{{"slope", num}, {"rising", flag}},
		Params:          []string{"source"},
		Sources:         []SourceParam{{"source", ""}},
		FieldSourceOnly: true,
		New:             newSlope,
	},
	KindHighLow: {
		Kind: KindHighLow,
		Outputs: []OutputKey{
			{"window_high", num}, {"window_high_pc", num},
			{"window_low", num}, {"window_low_pc", num},
		},
		Params: []string{"period", "source_high", "source_low", "source_percentage"},
		Sources: []SourceParam{
			{"source_high", model.ColumnHigh},
			{"source_low", model.ColumnLow},
			{"source_percentage", model.ColumnClose},
		},
		Aliases: map[string]string{
			"interval":         "period",
			"sourceHigh":       "source_high",
			"sourceLow":        "source_low",
			"sourcePercentage": "source_percentage",
		},
		New: newHighLow,
	},
	KindLarger: {
		Kind:    KindLarger,
		Outputs: []OutputKey{{"larger", flag}},
		Params:  []string{"source1", "source2"},
		Sources: []SourceParam{{"source1", ""}, {"source2", ""}},
		New:     newLarger,
	},
}

// Lookup returns the definition registered under name.
func Lookup(name string) (Definition, error) {
	d, ok := registry[Kind(name)]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return d, nil
}

// Kinds returns every registered kind, sorted.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
