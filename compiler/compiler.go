// Package compiler translates logical queries into relational ASTs together
// with the result plan that turns their rows back into objects.
//
// A Compiler is shared by every session of a factory. It is safe for
// concurrent use: each compilation works on its own state and the only
// shared data, the table layout of every entity hierarchy, is computed
// once and never modified.
package compiler

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/fetch"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/sqlast"
)

// Compiler compiles queries against one model.
type Compiler struct {
	model   *metamodel.Model
	dialect string
	shapes  sync.Map // *metamodel.Entity -> *shape
}

// New returns a compiler for model.
func New(model *metamodel.Model, dialect string) *Compiler {
	return &Compiler{model: model, dialect: dialect}
}

// Model returns the compiled model.
func (c *Compiler) Model() *metamodel.Model { return c.model }

// EnabledFilter is a filter enabled in a session together with its
// parameter values.
type EnabledFilter struct {
	Name   string
	Params map[string]any
}

// Bind adds the values of the filter parameters declared by reg to v.
// Filter parameters are named "filter.param" in compiled statements.
func (f EnabledFilter) Bind(v *bind.Values, reg *bind.Registry) {
	for k, val := range f.Params {
		if name := f.Name + "." + k; reg.Declared(name) {
			v.Set(name, val)
		}
	}
}

// EntityGraph lists the association paths, relative to the selected
// entity, that are loaded with a join. Associations it does not list are
// loaded later.
type EntityGraph struct {
	Name       string
	Attributes []string
}

func (g *EntityGraph) has(rel string) bool {
	return slices.Contains(g.Attributes, rel)
}

// Influencers are the session settings that change the compiled form of a
// statement.
type Influencers struct {
	Filters       []EnabledFilter
	Profiles      []string
	Graph         *EntityGraph
	MaxFetchDepth int
	Lock          loom.LockMode
	OrdinalBase   int
}

// Key returns the text identifying the influencers in statement cache keys.
func (inf Influencers) Key() string {
	names := make([]string, len(inf.Filters))
	for i, f := range inf.Filters {
		names[i] = f.Name
	}
	slices.Sort(names)
	profiles := slices.Clone(inf.Profiles)
	slices.Sort(profiles)
	var graph string
	if inf.Graph != nil {
		attrs := slices.Clone(inf.Graph.Attributes)
		slices.Sort(attrs)
		graph = inf.Graph.Name + "(" + strings.Join(attrs, ",") + ")"
	}
	return fmt.Sprintf("f=%s|p=%s|g=%s|d=%d|l=%s|b=%d",
		strings.Join(names, ","), strings.Join(profiles, ","), graph, inf.MaxFetchDepth, inf.Lock, inf.OrdinalBase)
}

// Native holds a native SQL statement with its recognized parameters.
type Native struct {
	Text   string
	Tokens []bind.Token
}

// Compiled is an immutable compiled statement.
type Compiled struct {
	Spec     *sqlast.QuerySpec
	Registry *bind.Registry
	Results  *assemble.Results
	Fetch    *fetch.Graph
	// Entity is the result entity of load, keyed and native statements.
	Entity *metamodel.Entity
	Native *Native
	// InMemoryWindow is set when a row window must be applied to the
	// logical results instead of the SQL rows.
	InMemoryWindow bool
}

// Selections returns the select list of the statement.
func (c *Compiled) Selections() []*sqlast.SqlSelection {
	if c.Spec == nil {
		return nil
	}
	return c.Spec.Select.Selections()
}

// Render renders the statement for dialect with the given bound values.
// A window that is applied in memory is not rendered.
func (c *Compiled) Render(dialect string, bound *bind.Bound, limit, offset int) (string, []bind.Binding, error) {
	if c.Native != nil {
		text, bindings := bind.Rewrite(c.Native.Text, c.Native.Tokens, dialect, bound)
		return text, bindings, nil
	}
	if c.InMemoryWindow {
		limit, offset = 0, 0
	}
	return sqlast.Render(c.Spec, dialect, bound, limit, offset)
}

// ResultsFor returns the result plan for rows with the given columns.
// Native statements map columns by name; other statements have a fixed plan.
func (c *Compiled) ResultsFor(columns []string) (*assemble.Results, error) {
	if c.Native == nil {
		return c.Results, nil
	}
	if c.Entity == nil {
		return &assemble.Results{Items: []assemble.Plan{assemble.RawPlan{}}}, nil
	}
	return NativeResults(c.Entity, columns)
}

// Compile compiles q under the given influencers.
func (c *Compiler) Compile(q *query.Query, inf Influencers) (*Compiled, error) {
	s := c.newState(inf)
	if err := s.compile(q); err != nil {
		return nil, err
	}
	return s.finish(nil)
}

// LoadParam is the parameter holding the identifier in load statements.
const LoadParam = "id"

// KeysParam is the parameter holding the owner keys of keyed statements.
const KeysParam = "keys"

// CompileLoad compiles the statement loading one instance of e by
// identifier, bound to the named parameter LoadParam.
func (c *Compiler) CompileLoad(e *metamodel.Entity, inf Influencers) (*Compiled, error) {
	const alias = "e"
	id := e.Identifier()
	q := query.Select(query.P(alias)).
		From(e.Name, alias).
		Where(query.EQ(query.P(alias+"."+id.Name), query.Named(LoadParam)))
	s := c.newState(inf)
	if err := s.compile(q); err != nil {
		return nil, err
	}
	return s.finish(e)
}
