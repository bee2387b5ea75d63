package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Entity is a member of a reference set (a salesperson, a state, a
// business category).
type Entity struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Aliases []string  `json:"aliases,omitempty"`
}

// Candidate is an entity together with its similarity to a mention.
type Candidate struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`
}

// DateRange is the half-open interval [Start, End) of midnight dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label,omitempty"`
}

// LastDay is the inclusive last day of the range.
func (r DateRange) LastDay() time.Time {
	return r.End.AddDate(0, 0, -1)
}

// Valid reports whether the range covers at least one day.
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && r.End.After(r.Start)
}

// Display renders the range with inclusive dates, e.g. "1 Oct 2026 to 18 Oct 2026".
func (r DateRange) Display() string {
	last := r.LastDay()
	if r.Start.Equal(last) {
		return r.Start.Format("2 Jan 2006")
	}
	return fmt.Sprintf("%s to %s", r.Start.Format("2 Jan 2006"), last.Format("2 Jan 2006"))
}

// Value is a bound parameter value. Exactly one of the typed fields is set,
// according to Type.
type Value struct {
	Type      ParamType  `json:"type"`
	Entities  []Entity   `json:"entities,omitempty"`
	Range     *DateRange `json:"range,omitempty"`
	Direction Direction  `json:"direction,omitempty"`
	Count     int        `json:"count,omitempty"`
}

func EntityValue(t ParamType, entities ...Entity) Value {
	return Value{Type: t, Entities: entities}
}

func RangeValue(r DateRange) Value {
	return Value{Type: ParamDateRange, Range: &r}
}

func DirectionValue(d Direction) Value {
	return Value{Type: ParamDirection, Direction: d}
}

func CountValue(n int) Value {
	return Value{Type: ParamCount, Count: n}
}

// Present reports whether the value carries a usable value of its type.
func (v Value) Present() bool {
	switch {
	case v.Type.IsEntity():
		return len(v.Entities) > 0
	case v.Type == ParamDateRange:
		return v.Range != nil && v.Range.Valid()
	case v.Type == ParamDirection:
		return v.Direction == Ascending || v.Direction == Descending
	case v.Type == ParamCount:
		return v.Count > 0
	}
	return false
}

// Equal compares two values by meaning.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch {
	case v.Type.IsEntity():
		if len(v.Entities) != len(o.Entities) {
			return false
		}
		for i := range v.Entities {
			if v.Entities[i].ID != o.Entities[i].ID {
				return false
			}
		}
		return true
	case v.Type == ParamDateRange:
		if v.Range == nil || o.Range == nil {
			return v.Range == o.Range
		}
		return v.Range.Start.Equal(o.Range.Start) && v.Range.End.Equal(o.Range.End)
	case v.Type == ParamDirection:
		return v.Direction == o.Direction
	case v.Type == ParamCount:
		return v.Count == o.Count
	}
	return false
}

// IDs returns the entity IDs of an entity value.
func (v Value) IDs() []string {
	ids := make([]string, len(v.Entities))
	for i, e := range v.Entities {
		ids[i] = e.ID
	}
	return ids
}

// Display renders the value for users.
func (v Value) Display() string {
	switch {
	case v.Type.IsEntity():
		names := make([]string, len(v.Entities))
		for i, e := range v.Entities {
			names[i] = e.Name
		}
		return strings.Join(names, ", ")
	case v.Type == ParamDateRange && v.Range != nil:
		if v.Range.Label != "" {
			return fmt.Sprintf("%s (%s)", v.Range.Label, v.Range.Display())
		}
		return v.Range.Display()
	case v.Type == ParamDirection:
		return v.Direction.Superlative()
	case v.Type == ParamCount:
		return fmt.Sprintf("%d", v.Count)
	}
	return ""
}

// ParameterSet maps parameter names to bound values.
type ParameterSet map[string]Value

// Clone returns a shallow copy whose map can be mutated independently.
func (p ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Missing returns the parameters of t without a present value, in
// declaration order.
func (p ParameterSet) Missing(t Template) []Parameter {
	var missing []Parameter
	for _, param := range t.Parameters {
		v, ok := p[param.Name]
		if !ok || v.Type != param.Type || !v.Present() {
			missing = append(missing, param)
		}
	}
	return missing
}

// Complete reports whether every parameter of t has a present value.
func (p ParameterSet) Complete(t Template) bool {
	return len(p.Missing(t)) == 0
}

// Retain returns the values t shares with the set, keyed by t's parameter
// names. Values are matched by type: a template declares at most one
// parameter per type.
func (p ParameterSet) Retain(t Template) ParameterSet {
	out := make(ParameterSet)
	for _, param := range t.Parameters {
		if v, ok := p.OfType(param.Type); ok {
			out[param.Name] = v
		}
	}
	return out
}

// OfType returns the present value of type pt, if any.
func (p ParameterSet) OfType(pt ParamType) (Value, bool) {
	for _, v := range p {
		if v.Type == pt && v.Present() {
			return v, true
		}
	}
	return Value{}, false
}

// Names returns the bound parameter names in sorted order.
func (p ParameterSet) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
