package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/model"
)

// SourceRef is a resolved input series: a raw price column or another
// spec's output.
type SourceRef struct {
	Column string // raw column; empty for spec outputs
	Spec   int    // index of the producing spec
	Key    string // its generic output key
	Field  string // its storage field name
}

// IsColumn reports whether the source is a raw price column.
func (r SourceRef) IsColumn() bool { return r.Column != "" }

// Spec is one validated indicator instance.
type Spec struct {
	ID          string
	Kind        indicator.Kind
	Def         indicator.Definition
	Interval    model.Interval
	Params      indicator.Params
	Mapping     map[string]string    // generic output key → storage field
	Sources     map[string]SourceRef // source parameter → series
	Fingerprint uint64
}

// Deps returns the indices of the specs this one reads from.
func (s Spec) Deps() []int {
	var out []int
	for _, ref := range s.Sources {
		if !ref.IsColumn() {
			out = append(out, ref.Spec)
		}
	}
	sort.Ints(out)
	return out
}

// Fields returns the mapped storage fields, sorted.
func (s Spec) Fields() []string {
	out := make([]string, 0, len(s.Mapping))
	for _, f := range s.Mapping {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

type fieldRef struct {
	spec int
	key  string
}

// Plan is a validated, dependency-ordered configuration. It is immutable
// and safe for concurrent use.
type Plan struct {
	Specs     []Spec
	Levels    [][]int          // topological levels; specs in one level are independent
	Intervals []model.Interval // distinct intervals in use

	fields map[string]fieldRef
}

// NewPlan validates declarations and orders them. Every error is a
// *ConfigError wrapping one of the package's sentinel errors (or
// model.ErrInvalidInterval, indicator.ErrUnknownKind,
// indicator.ErrInvalidParameter).
func NewPlan(decls []Declaration) (*Plan, error) {
	if len(decls) == 0 {
		return nil, ErrEmptyConfig
	}
	p := &Plan{
		Specs:  make([]Spec, len(decls)),
		fields: make(map[string]fieldRef),
	}
	ids := make(map[string]int, len(decls))
	seenIv := make(map[model.Interval]bool)

	// Pass 1: each declaration on its own, plus the global field namespace.
	for i, d := range decls {
		sp, err := buildSpec(d)
		if err != nil {
			return nil, &ConfigError{Index: i, SpecID: d.ID, Err: err}
		}
		if j, dup := ids[sp.ID]; dup {
			return nil, &ConfigError{Index: i, SpecID: sp.ID,
				Err: fmt.Errorf("%w: also used by indicator #%d", ErrDuplicateSpecID, j)}
		}
		ids[sp.ID] = i
		p.Specs[i] = sp

		for _, key := range sortedKeys(sp.Mapping) {
			field := sp.Mapping[key]
			if model.IsColumn(field) {
				return nil, &ConfigError{Index: i, SpecID: sp.ID,
					Err: fmt.Errorf("%w: %q is a price column", ErrDuplicateFieldMapping, field)}
			}
			if prev, dup := p.fields[field]; dup {
				return nil, &ConfigError{Index: i, SpecID: sp.ID,
					Err: fmt.Errorf("%w: %q already written by %s", ErrDuplicateFieldMapping, field, p.Specs[prev.spec].ID)}
			}
			p.fields[field] = fieldRef{spec: i, key: key}
		}

		if !seenIv[sp.Interval] {
			seenIv[sp.Interval] = true
			p.Intervals = append(p.Intervals, sp.Interval)
		}
	}

	// Pass 2: resolve sources now that every field is known.
	for i := range p.Specs {
		if err := p.resolveSources(i); err != nil {
			return nil, &ConfigError{Index: i, SpecID: p.Specs[i].ID, Err: err}
		}
	}

	levels, err := p.topoLevels()
	if err != nil {
		return nil, err
	}
	p.Levels = levels
	return p, nil
}

func buildSpec(d Declaration) (Spec, error) {
	def, err := indicator.Lookup(d.Indicator)
	if err != nil {
		return Spec{}, err
	}
	ivToken := d.Interval
	if ivToken == "" {
		ivToken = string(model.Daily)
	}
	iv, err := model.ParseInterval(ivToken)
	if err != nil {
		return Spec{}, err
	}
	params, err := indicator.NewParams(d.Parameters)
	if err != nil {
		return Spec{}, err
	}
	if params, err = def.Normalize(params); err != nil {
		return Spec{}, err
	}
	if err := def.Validate(params); err != nil {
		return Spec{}, err
	}
	for _, key := range sortedKeys(d.Mapping) {
		if _, ok := def.Output(key); !ok {
			return Spec{}, fmt.Errorf("%w: %s has no output %q (declares %s)",
				ErrUnknownOutputKey, def.Kind, key, strings.Join(def.OutputNames(), ", "))
		}
	}

	sp := Spec{
		ID:          d.ID,
		Kind:        def.Kind,
		Def:         def,
		Interval:    iv,
		Params:      params,
		Mapping:     d.Mapping,
		Fingerprint: indicator.Fingerprint(def.Kind, iv, params),
	}
	if sp.ID == "" {
		sp.ID = fmt.Sprintf("%s:%s:%s", def.Kind, iv, strings.Join(sp.Fields(), ","))
	}
	return sp, nil
}

func (p *Plan) resolveSources(i int) error {
	sp := &p.Specs[i]
	sp.Sources = make(map[string]SourceRef, len(sp.Def.Sources))
	for _, src := range sp.Def.Sources {
		name := sp.Params.String(src.Name, src.Default)
		if model.IsColumn(name) {
			if sp.Def.FieldSourceOnly {
				return fmt.Errorf("%w: %s=%q must name another indicator's field", ErrUnknownSource, src.Name, name)
			}
			sp.Sources[src.Name] = SourceRef{Column: name}
			continue
		}
		ref, ok := p.fields[name]
		if !ok {
			return fmt.Errorf("%w: %s=%q is neither a price column nor a mapped field", ErrUnknownSource, src.Name, name)
		}
		dep := p.Specs[ref.spec]
		if dep.Interval != sp.Interval {
			return fmt.Errorf("%w: %q is computed on interval %s, not %s", ErrSourceIntervalMismatch, name, dep.Interval, sp.Interval)
		}
		if out, _ := dep.Def.Output(ref.key); out.Type != model.ValueNumber {
			return fmt.Errorf("%w: %q holds a %s", ErrNonNumericSource, name, out.Type)
		}
		sp.Sources[src.Name] = SourceRef{Spec: ref.spec, Key: ref.key, Field: name}
	}
	return nil
}

// topoLevels orders specs with Kahn's algorithm, grouping specs whose
// dependencies are all satisfied into the same level.
func (p *Plan) topoLevels() ([][]int, error) {
	n := len(p.Specs)
	indeg := make([]int, n)
	dependents := make([][]int, n)
	for i, sp := range p.Specs {
		for _, d := range sp.Deps() {
			indeg[i]++
			dependents[d] = append(dependents[d], i)
		}
	}

	var (
		levels [][]int
		cur    []int
		done   int
	)
	for i := range p.Specs {
		if indeg[i] == 0 {
			cur = append(cur, i)
		}
	}
	for len(cur) > 0 {
		levels = append(levels, cur)
		done += len(cur)
		var next []int
		for _, i := range cur {
			for _, j := range dependents[i] {
				indeg[j]--
				if indeg[j] == 0 {
					next = append(next, j)
				}
			}
		}
		sort.Ints(next)
		cur = next
	}

	if done < n {
		var stuck []string
		first := -1
		for i := range p.Specs {
			if indeg[i] > 0 {
				if first < 0 {
					first = i
				}
				stuck = append(stuck, p.Specs[i].ID)
			}
		}
		return nil, &ConfigError{Index: first, SpecID: p.Specs[first].ID,
			Err: fmt.Errorf("%w: %s", ErrConfigurationCycle, strings.Join(stuck, " ↔ "))}
	}
	return levels, nil
}

// Upstream returns every spec that i reads from, directly or transitively.
func (p *Plan) Upstream(i int) []int {
	seen := make(map[int]bool)
	var walk func(int)
	walk = func(k int) {
		for _, d := range p.Specs[k].Deps() {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(i)
	out := make([]int, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// SpecIDs returns every spec id in configuration order.
func (p *Plan) SpecIDs() []string {
	out := make([]string, len(p.Specs))
	for i, sp := range p.Specs {
		out[i] = sp.ID
	}
	return out
}

// Order returns spec ids in execution order.
func (p *Plan) Order() []string {
	out := make([]string, 0, len(p.Specs))
	for _, lvl := range p.Levels {
		for _, i := range lvl {
			out = append(out, p.Specs[i].ID)
		}
	}
	return out
}

// Field returns the spec id and generic key that write a storage field.
func (p *Plan) Field(name string) (specID, key string, ok bool) {
	ref, ok := p.fields[name]
	if !ok {
		return "", "", false
	}
	return p.Specs[ref.spec].ID, ref.key, true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
