package models

// ColumnKind drives result formatting.
type ColumnKind string

const (
	ColumnText     ColumnKind = "text"
	ColumnCurrency ColumnKind = "currency"
	ColumnNumber   ColumnKind = "number"
	ColumnDate     ColumnKind = "date"
)

// Parameter is a named, typed slot of a template.
type Parameter struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Default string    `json:"default,omitempty"`
	Prompt  string    `json:"prompt,omitempty"`
}

// Column describes one result column of a template.
type Column struct {
	Name  string     `json:"name"`
	Label string     `json:"label,omitempty"`
	Kind  ColumnKind `json:"kind"`
}

// Template is a pre-vetted parameterized query. Query references parameters
// as @name, and date ranges as @name.start and @name.end.
type Template struct {
	ID          string               `json:"id"`
	Description string               `json:"description"`
	Examples    []string             `json:"examples,omitempty"`
	Parameters  []Parameter          `json:"parameters"`
	Query       string               `json:"query"`
	Columns     []Column             `json:"columns"`
	Subject     string               `json:"subject,omitempty"`
	Upgrades    map[ParamType]string `json:"upgrades,omitempty"`
	Channel     Channel              `json:"channel,omitempty"`
	Variants    map[Channel]string   `json:"variants,omitempty"`
}

// Parameter returns the parameter called name.
func (t Template) Parameter(name string) (Parameter, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ParameterOfType returns the parameter of type pt. Templates declare at
// most one parameter per type.
func (t Template) ParameterOfType(pt ParamType) (Parameter, bool) {
	for _, p := range t.Parameters {
		if p.Type == pt {
			return p, true
		}
	}
	return Parameter{}, false
}

// Accepts reports whether the template has a parameter of type pt.
func (t Template) Accepts(pt ParamType) bool {
	_, ok := t.ParameterOfType(pt)
	return ok
}

// Column returns the metadata for column name.
func (t Template) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Noun is the thing the template ranks or reports on ("salesperson",
// "category"), used when phrasing answers.
func (t Template) Noun() string {
	if t.Subject != "" {
		return t.Subject
	}
	return "result"
}
