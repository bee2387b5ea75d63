// Package catalog loads and validates the pre-vetted query templates the
// assistant is allowed to run.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/common/validation"
	"sales-assistant/internal/models"
)

// MaxCount is the largest row count a template may default to.
const MaxCount = 100

//go:embed templates.json
var defaultTemplates []byte

//go:embed schema.json
var catalogSchemaJSON []byte

var catalogSchema = validation.MustCompile(catalogSchemaJSON)

type document struct {
	Version   int               `json:"version"`
	Templates []models.Template `json:"templates"`
}

// Catalog is an immutable, validated set of templates.
type Catalog struct {
	version   int
	templates []models.Template
	byID      map[string]int
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultTemplates))
}

// LoadFile reads a catalog document from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a catalog document, checks it against the catalog schema and
// then runs the integrity checks of New.
func Load(r io.Reader) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	result, err := catalogSchema.Validate(raw)
	if err != nil {
		return nil, errors.NewCatalogInvalidError(fmt.Sprintf("schema validation error: %v", err))
	}
	if !result.Valid {
		return nil, errors.NewCatalogInvalidError(strings.Join(result.GetErrorMessages(), "; "))
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.NewCatalogInvalidError(fmt.Sprintf("decode: %v", err))
	}

	c, err := New(doc.Templates)
	if err != nil {
		return nil, err
	}
	c.version = doc.Version
	return c, nil
}

// New validates templates and builds a catalog from them. Every problem
// found is reported in a single CATALOG_INVALID error.
func New(templates []models.Template) (*Catalog, error) {
	c := &Catalog{
		version:   1,
		templates: make([]models.Template, len(templates)),
		byID:      make(map[string]int, len(templates)),
	}
	copy(c.templates, templates)
	sort.SliceStable(c.templates, func(i, j int) bool { return c.templates[i].ID < c.templates[j].ID })

	var problems []string
	descriptions := make(map[string]string)
	for i, t := range c.templates {
		if _, dup := c.byID[t.ID]; dup {
			problems = append(problems, fmt.Sprintf("%s: duplicate template id", t.ID))
			continue
		}
		c.byID[t.ID] = i

		key := strings.ToLower(strings.TrimSpace(t.Description))
		if other, ok := descriptions[key]; ok {
			problems = append(problems, fmt.Sprintf("%s: description duplicates %s", t.ID, other))
		} else {
			descriptions[key] = t.ID
		}

		problems = append(problems, checkTemplate(t)...)
	}

	for _, t := range c.templates {
		problems = append(problems, c.checkUpgrades(t)...)
		problems = append(problems, c.checkVariants(t)...)
	}

	if len(problems) > 0 {
		return nil, errors.NewCatalogInvalidError(strings.Join(problems, "; ")).
			WithMetadata("problems", problems)
	}
	return c, nil
}

func checkTemplate(t models.Template) []string {
	var problems []string
	report := func(format string, args ...interface{}) {
		problems = append(problems, t.ID+": "+fmt.Sprintf(format, args...))
	}

	if t.ID == "" {
		report("missing id")
	}
	if strings.TrimSpace(t.Description) == "" {
		report("missing description")
	}
	if len(t.Columns) == 0 {
		report("no result columns")
	}
	if err := CheckReadOnly(t.Query); err != nil {
		report("%v", err)
	}
	if !t.Channel.Valid() {
		report("unknown channel %q", t.Channel)
	}

	names := make(map[string]models.Parameter)
	types := make(map[models.ParamType]string)
	for _, p := range t.Parameters {
		if !p.Type.Valid() {
			report("parameter %s has unknown type %q", p.Name, p.Type)
		}
		if _, dup := names[p.Name]; dup {
			report("duplicate parameter %s", p.Name)
		}
		names[p.Name] = p
		if other, dup := types[p.Type]; dup {
			report("parameters %s and %s share type %s", other, p.Name, p.Type)
		}
		types[p.Type] = p.Name

		if p.Default != "" {
			if _, ok := DefaultValue(p); !ok {
				report("parameter %s has invalid default %q", p.Name, p.Default)
			}
		}
	}

	used := make(map[string]map[string]bool)
	for _, ph := range Placeholders(t.Query) {
		p, ok := names[ph.Name]
		if !ok {
			report("placeholder @%s is not declared", ph.Key())
			continue
		}
		if p.Type == models.ParamDateRange && ph.Suffix == "" {
			report("date range @%s must be referenced as .start and .end", ph.Name)
		}
		if p.Type != models.ParamDateRange && ph.Suffix != "" {
			report("placeholder @%s takes no suffix", ph.Key())
		}
		if used[ph.Name] == nil {
			used[ph.Name] = make(map[string]bool)
		}
		used[ph.Name][ph.Suffix] = true
	}
	for _, p := range t.Parameters {
		refs := used[p.Name]
		if len(refs) == 0 {
			report("parameter %s is never referenced", p.Name)
			continue
		}
		if p.Type == models.ParamDateRange && (!refs["start"] || !refs["end"]) {
			report("date range %s must use both .start and .end", p.Name)
		}
	}
	return problems
}

func (c *Catalog) checkUpgrades(t models.Template) []string {
	var problems []string
	for pt, target := range t.Upgrades {
		next, ok := c.lookup(target)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: upgrade for %s names unknown template %s", t.ID, pt, target))
			continue
		}
		if !next.Accepts(pt) {
			problems = append(problems, fmt.Sprintf("%s: upgrade target %s does not accept %s", t.ID, target, pt))
		}
		for _, p := range t.Parameters {
			if !next.Accepts(p.Type) {
				problems = append(problems, fmt.Sprintf("%s: upgrade target %s drops %s", t.ID, target, p.Type))
			}
		}
	}
	return problems
}

// checkVariants requires every variant to ask the same question over its
// declared channel: same parameter types, channel as keyed.
func (c *Catalog) checkVariants(t models.Template) []string {
	var problems []string
	for ch, target := range t.Variants {
		if ch == "" || !ch.Valid() {
			problems = append(problems, fmt.Sprintf("%s: unknown variant channel %q", t.ID, ch))
			continue
		}
		if ch == t.Channel {
			problems = append(problems, fmt.Sprintf("%s: variant %s repeats its own channel", t.ID, ch))
		}
		next, ok := c.lookup(target)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: %s variant names unknown template %s", t.ID, ch, target))
			continue
		}
		if next.Channel != ch {
			problems = append(problems, fmt.Sprintf("%s: %s variant %s reports on channel %q", t.ID, ch, target, next.Channel))
		}
		if !acceptsAll(next, paramTypes(t)) || !acceptsAll(t, paramTypes(next)) {
			problems = append(problems, fmt.Sprintf("%s: %s variant %s takes different parameters", t.ID, ch, target))
		}
	}
	return problems
}

func paramTypes(t models.Template) []models.ParamType {
	out := make([]models.ParamType, len(t.Parameters))
	for i, p := range t.Parameters {
		out[i] = p.Type
	}
	return out
}

func (c *Catalog) lookup(id string) (models.Template, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.Template{}, false
	}
	return c.templates[i], true
}

// Version is the catalog document version.
func (c *Catalog) Version() int { return c.version }

// Len is the number of templates.
func (c *Catalog) Len() int { return len(c.templates) }

// All returns the templates ordered by ID.
func (c *Catalog) All() []models.Template {
	out := make([]models.Template, len(c.templates))
	copy(out, c.templates)
	return out
}

// Get returns the template with the given id.
func (c *Catalog) Get(id string) (models.Template, error) {
	t, ok := c.lookup(id)
	if !ok {
		return models.Template{}, errors.NewTemplateNotFoundError(id)
	}
	return t, nil
}

// Upgrade finds a template that answers the same question as current but
// also accepts the parameter types in add. Declared upgrade links are
// followed first; otherwise the smallest template over the same subject
// that accepts everything is chosen.
func (c *Catalog) Upgrade(current models.Template, add []models.ParamType) (models.Template, bool) {
	need := make([]models.ParamType, 0, len(current.Parameters)+len(add))
	for _, p := range current.Parameters {
		need = append(need, p.Type)
	}
	need = append(need, add...)

	if acceptsAll(current, need) {
		return current, true
	}

	t := current
	chained := true
	for _, pt := range add {
		if t.Accepts(pt) {
			continue
		}
		next, ok := c.lookup(t.Upgrades[pt])
		if !ok {
			chained = false
			break
		}
		t = next
	}
	if chained && acceptsAll(t, need) {
		return t, true
	}

	var candidates []models.Template
	for _, cand := range c.templates {
		if cand.Subject == current.Subject && acceptsAll(cand, need) {
			candidates = append(candidates, cand)
		}
	}
	if len(candidates) == 0 {
		return models.Template{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].Parameters) != len(candidates[j].Parameters) {
			return len(candidates[i].Parameters) < len(candidates[j].Parameters)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// Variant returns the template asking current's question over channel ch.
// A template already on ch is its own variant.
func (c *Catalog) Variant(current models.Template, ch models.Channel) (models.Template, bool) {
	if ch == current.Channel {
		return current, true
	}
	return c.lookup(current.Variants[ch])
}

func acceptsAll(t models.Template, types []models.ParamType) bool {
	for _, pt := range types {
		if !t.Accepts(pt) {
			return false
		}
	}
	return true
}

// DefaultValue parses the declared default of p. Only direction and count
// parameters may carry defaults.
func DefaultValue(p models.Parameter) (models.Value, bool) {
	if p.Default == "" {
		return models.Value{}, false
	}
	switch p.Type {
	case models.ParamDirection:
		d, err := models.ParseDirection(p.Default)
		if err != nil {
			return models.Value{}, false
		}
		return models.DirectionValue(d), true
	case models.ParamCount:
		n, err := strconv.Atoi(strings.TrimSpace(p.Default))
		if err != nil || n <= 0 || n > MaxCount {
			return models.Value{}, false
		}
		return models.CountValue(n), true
	}
	return models.Value{}, false
}

// Defaults returns the default values of t keyed by parameter name.
func Defaults(t models.Template) models.ParameterSet {
	out := make(models.ParameterSet)
	for _, p := range t.Parameters {
		if v, ok := DefaultValue(p); ok {
			out[p.Name] = v
		}
	}
	return out
}
