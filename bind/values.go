package bind

import (
	"maps"
	"reflect"
	"slices"
	"sort"
	"strconv"

	"github.com/syssam/loom"
	"github.com/syssam/loom/metamodel"
)

type value struct {
	items []any
	list  bool
}

// Values holds the values supplied for one execution.
type Values struct {
	named   map[string]value
	ordinal map[int]value
}

// NewValues returns an empty value set.
func NewValues() *Values {
	return &Values{named: make(map[string]value), ordinal: make(map[int]value)}
}

// Set binds a single value to the named parameter.
func (v *Values) Set(name string, val any) *Values {
	v.named[name] = value{items: []any{val}}
	return v
}

// SetOrdinal binds a single value to the ordinal or positional parameter at pos.
func (v *Values) SetOrdinal(pos int, val any) *Values {
	v.ordinal[pos] = value{items: []any{val}}
	return v
}

// SetList binds a list to the named parameter. list may be a []any or any
// other slice; each element becomes one binding.
func (v *Values) SetList(name string, list any) *Values {
	v.named[name] = value{items: flatten(list), list: true}
	return v
}

// SetOrdinalList binds a list to the ordinal or positional parameter at pos.
func (v *Values) SetOrdinalList(pos int, list any) *Values {
	v.ordinal[pos] = value{items: flatten(list), list: true}
	return v
}

// Clone returns an independent copy of the value set.
func (v *Values) Clone() *Values {
	return &Values{named: maps.Clone(v.named), ordinal: maps.Clone(v.ordinal)}
}

// Names returns the bound parameter names in sorted order.
func (v *Values) Names() []string {
	return slices.Sorted(maps.Keys(v.named))
}

func flatten(list any) []any {
	if items, ok := list.([]any); ok {
		return slices.Clone(items)
	}
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{list}
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items
}

// Binding is one driver binding.
type Binding struct {
	Param *Parameter
	Value any
	Type  metamodel.ValueType
}

// Bound is a registry matched with its values.
type Bound struct {
	values map[*Parameter][]any
}

// Resolve matches the declared parameters of reg with vals. Every declared
// parameter must have a value and every value must belong to a declared
// parameter. Values are normalized to the declared parameter type.
func Resolve(reg *Registry, vals *Values) (*Bound, error) {
	if vals == nil {
		vals = NewValues()
	}
	b := &Bound{values: make(map[*Parameter][]any, len(reg.params))}
	usedNamed := make(map[string]bool)
	usedOrdinal := make(map[int]bool)
	for _, p := range reg.params {
		var (
			v  value
			ok bool
		)
		if p.Style == Named {
			v, ok = vals.named[p.Name]
			usedNamed[p.Name] = true
		} else {
			v, ok = vals.ordinal[p.Position]
			usedOrdinal[p.Position] = true
		}
		if !ok {
			return nil, loom.NewParameterError(p.String(), "no value bound")
		}
		if v.list && !p.Multi {
			return nil, loom.NewParameterError(p.String(), "list bound to a single-valued parameter")
		}
		items := make([]any, len(v.items))
		for i, item := range v.items {
			n, err := p.Type.Normalize(item)
			if err != nil {
				return nil, loom.NewParameterError(p.String(), "cannot bind %T as %s", item, p.Type)
			}
			items[i] = n
		}
		b.values[p] = items
	}
	for _, name := range vals.Names() {
		if !usedNamed[name] {
			return nil, loom.NewParameterError(":"+name, "unknown parameter")
		}
	}
	positions := slices.Collect(maps.Keys(vals.ordinal))
	sort.Ints(positions)
	for _, pos := range positions {
		if !usedOrdinal[pos] {
			return nil, loom.NewParameterError("?"+strconv.Itoa(pos), "unknown parameter")
		}
	}
	return b, nil
}

// Len returns the number of values bound to p.
func (b *Bound) Len(p *Parameter) int { return len(b.values[p]) }

// Expand returns the bindings of one occurrence of p. A list value yields
// one binding per element in input order.
func (b *Bound) Expand(p *Parameter) []Binding {
	items := b.values[p]
	out := make([]Binding, len(items))
	for i, v := range items {
		out[i] = Binding{Param: p, Value: v, Type: p.Type}
	}
	return out
}

// Args returns the driver arguments of the given bindings.
func Args(bindings []Binding) []any {
	args := make([]any, len(bindings))
	for i, b := range bindings {
		args[i] = b.Value
	}
	return args
}
