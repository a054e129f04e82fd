package bind

import (
	"slices"
	"sort"
	"strconv"

	"github.com/syssam/loom"
	"github.com/syssam/loom/metamodel"
)

// Style is the syntactic form of a parameter.
type Style uint8

// Parameter styles.
const (
	// Named parameters are written :name.
	Named Style = iota
	// Ordinal parameters are numbered, ?1.
	Ordinal
	// JdbcOrdinal parameters are bare ? placeholders numbered implicitly
	// in order of appearance.
	JdbcOrdinal
)

func (s Style) String() string {
	switch s {
	case Named:
		return "named"
	case Ordinal:
		return "ordinal"
	default:
		return "jdbc-ordinal"
	}
}

// Parameter is one declared parameter of a statement. A parameter used
// several times in a statement is declared once.
type Parameter struct {
	Name     string
	Position int
	Style    Style
	// Type is the value type expected by the parameter, inferred from the
	// expression it is compared with. TypeInvalid accepts any value.
	Type metamodel.ValueType
	// Multi is set for parameters that may be bound to a list, such as the
	// single item of an IN predicate.
	Multi bool
}

// String returns the parameter text, e.g. ":name", "?2" or "?3" for the
// third positional placeholder.
func (p *Parameter) String() string {
	if p.Style == Named {
		return ":" + p.Name
	}
	return "?" + strconv.Itoa(p.Position)
}

// Registry collects the parameters of one statement.
type Registry struct {
	base    int
	next    int
	params  []*Parameter
	named   map[string]*Parameter
	ordinal map[int]*Parameter
	objects map[any]*Parameter
}

// NewRegistry returns an empty registry whose ordinal positions start at base.
func NewRegistry(base int) *Registry {
	return &Registry{
		base:    base,
		next:    base,
		named:   make(map[string]*Parameter),
		ordinal: make(map[int]*Parameter),
		objects: make(map[any]*Parameter),
	}
}

// Base returns the first ordinal position.
func (r *Registry) Base() int { return r.base }

// Register declares a parameter of the given style. Name is used by named
// parameters and position by ordinal ones; positional placeholders take the
// next implicit position.
func (r *Registry) Register(style Style, name string, position int) *Parameter {
	switch style {
	case Named:
		return r.Named(name)
	case Ordinal:
		return r.Ordinal(position)
	}
	return r.Jdbc(nil)
}

// Named declares the named parameter, or returns the existing declaration.
func (r *Registry) Named(name string) *Parameter {
	if p, ok := r.named[name]; ok {
		return p
	}
	p := &Parameter{Name: name, Style: Named}
	r.named[name] = p
	r.params = append(r.params, p)
	return p
}

// Ordinal declares the numbered parameter, or returns the existing declaration.
func (r *Registry) Ordinal(position int) *Parameter {
	if p, ok := r.ordinal[position]; ok && p.Style == Ordinal {
		return p
	}
	p := &Parameter{Position: position, Style: Ordinal}
	r.ordinal[position] = p
	r.params = append(r.params, p)
	return p
}

// Jdbc declares a positional placeholder at the next implicit position.
// A non-nil obj identifies the parameter: declaring the same obj again
// returns the first declaration without advancing the counter.
func (r *Registry) Jdbc(obj any) *Parameter {
	if obj != nil {
		if p, ok := r.objects[obj]; ok {
			return p
		}
	}
	p := &Parameter{Position: r.next, Style: JdbcOrdinal}
	r.next++
	if obj != nil {
		r.objects[obj] = p
	}
	r.params = append(r.params, p)
	return p
}

// Parameters returns the declared parameters in declaration order.
func (r *Registry) Parameters() []*Parameter { return slices.Clone(r.params) }

// Declared reports whether the named parameter is declared.
func (r *Registry) Declared(name string) bool {
	_, ok := r.named[name]
	return ok
}

// Len returns the number of declared parameters.
func (r *Registry) Len() int { return len(r.params) }

// Validate checks the numbering of ordinal parameters: positional and
// numbered ordinals may not be mixed, and numbered positions must form a
// contiguous run starting at the base.
func (r *Registry) Validate() error {
	var (
		jdbc      bool
		positions []int
	)
	for _, p := range r.params {
		switch p.Style {
		case JdbcOrdinal:
			jdbc = true
		case Ordinal:
			positions = append(positions, p.Position)
		}
	}
	if jdbc && len(positions) > 0 {
		return loom.NewParameterError("", "positional ? and numbered ?N parameters cannot be mixed")
	}
	if len(positions) == 0 {
		return nil
	}
	sort.Ints(positions)
	if positions[0] < r.base {
		return loom.NewParameterError("?"+strconv.Itoa(positions[0]), "ordinal position is below base %d", r.base)
	}
	want := r.base
	for _, pos := range positions {
		if pos != want {
			return loom.NewParameterError("?"+strconv.Itoa(want), "gap in ordinal parameters: position %d is missing", want)
		}
		want++
	}
	return nil
}
