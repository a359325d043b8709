package pipeline

import (
	"encoding/json"
	"sort"
	"time"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/model"
)

// assemble maps generic outputs onto storage fields.
//
// Each spec contributes the values of its latest output; a mapped key that
// is absent there is written as null. A spec with no output contributes
// nulls when it was evaluated from scratch and nothing at all when it was
// resumed, leaving the stored values untouched. Unmapped keys go to Extra
// under the spec id.
func assemble(plan *Plan, securityID string, asOf time.Time, results []indicator.Evaluation,
	fresh []bool, history bool) *model.ComputationResult {

	res := model.NewComputationResult(securityID)
	res.AsOf = asOf
	if history {
		res.History = make(map[string][]model.FieldPoint)
	}

	for i, sp := range plan.Specs {
		outs := results[i].Outputs
		if len(outs) == 0 {
			if fresh[i] {
				for _, field := range sp.Mapping {
					res.Fields[field] = nil
				}
			}
			continue
		}

		latest := outs[len(outs)-1]
		for key, field := range sp.Mapping {
			if v, ok := latest.Values[key]; ok {
				res.Fields[field] = &v
			} else {
				res.Fields[field] = nil
			}
		}

		if extra := residual(sp, latest); extra != nil {
			res.Extra[sp.ID] = extra
		}

		if history {
			for key, field := range sp.Mapping {
				for _, o := range outs {
					if v, ok := o.Values[key]; ok {
						res.History[field] = append(res.History[field], model.FieldPoint{Date: o.Date, Value: v})
					}
				}
			}
		}
	}
	return res
}

// residual encodes the unmapped keys of o, or returns nil when every key is mapped.
func residual(sp Spec, o indicator.Output) json.RawMessage {
	var keys []string
	for k := range o.Values {
		if _, mapped := sp.Mapping[k]; !mapped {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	doc := make(map[string]any, len(keys)+2)
	doc["as_of"] = model.FormatDate(o.Date)
	if o.Forming {
		doc["forming"] = true
	}
	for _, k := range keys {
		doc[k] = o.Values[k]
	}
	blob, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return blob
}
