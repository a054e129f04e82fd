package compiler

import (
	"database/sql"
	"reflect"
	"strconv"
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/query"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	listType    = reflect.TypeOf([]any(nil))
	mapType     = reflect.TypeOf(map[string]any(nil))
)

// instantiate compiles a dynamic instantiation. Targets are built with the
// first registered constructor accepting the arguments, or else by setting
// the exported fields matching the argument aliases.
func (s *state) instantiate(x *query.InstantiateExpr) (item, error) {
	key, _ := query.KeyOf(x)
	args := make([]item, len(x.Args))
	aliases := make([]string, len(x.Args))
	plan := &assemble.InstantiationPlan{Args: make([]assemble.Plan, len(x.Args))}
	for i, arg := range x.Args {
		inner, alias := query.Unalias(arg)
		it, err := s.selection(inner)
		if err != nil {
			return item{}, err
		}
		args[i], aliases[i], plan.Args[i] = it, alias, it.plan
	}
	switch x.Kind {
	case query.InstantiateList:
		plan.Build = func(vals []any) (any, error) { return vals, nil }
		return item{plan: plan, typ: listType}, nil
	case query.InstantiateMap:
		keys := make([]string, len(aliases))
		for i, a := range aliases {
			keys[i] = a
			if a == "" {
				keys[i] = strconv.Itoa(i)
			}
		}
		plan.Build = func(vals []any) (any, error) {
			m := make(map[string]any, len(vals))
			for i, v := range vals {
				m[keys[i]] = v
			}
			return m, nil
		}
		return item{plan: plan, typ: mapType}, nil
	}
	t, ok := s.c.model.Target(x.Target)
	if !ok {
		return item{}, loom.NewCompileError(key, "unknown instantiation target %q", x.Target)
	}
	if build, out, ok := constructor(t, args); ok {
		plan.Build = build
		return item{plan: plan, typ: out}, nil
	}
	if build, ok := bean(t, args, aliases); ok {
		plan.Build = build
		return item{plan: plan, typ: reflect.PointerTo(t.Type)}, nil
	}
	return item{}, loom.NewCompileError(key, "no constructor of %s accepts the arguments and they do not match its fields", x.Target)
}

// constructor returns the first constructor of t accepting args.
func constructor(t *metamodel.Target, args []item) (func([]any) (any, error), reflect.Type, bool) {
	for _, ctor := range t.Constructors {
		fv := reflect.ValueOf(ctor)
		ft := fv.Type()
		if ft.Kind() != reflect.Func || ft.IsVariadic() || ft.NumIn() != len(args) || !returns(ft, t.Type) {
			continue
		}
		match := true
		for i, a := range args {
			if !accepts(a, ft.In(i)) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		for i, a := range args {
			if a.basic != nil {
				a.basic.GoType = ft.In(i)
			}
		}
		withErr := ft.NumOut() == 2
		return func(vals []any) (any, error) {
			in := make([]reflect.Value, len(vals))
			for i, v := range vals {
				if v == nil {
					in[i] = reflect.Zero(ft.In(i))
				} else {
					in[i] = reflect.ValueOf(v)
				}
			}
			out := fv.Call(in)
			if withErr && !out[1].IsNil() {
				return nil, out[1].Interface().(error)
			}
			return out[0].Interface(), nil
		}, ft.Out(0), true
	}
	return nil, nil, false
}

func returns(ft, target reflect.Type) bool {
	switch ft.NumOut() {
	case 1:
	case 2:
		if ft.Out(1) != errorType {
			return false
		}
	default:
		return false
	}
	out := ft.Out(0)
	return out == target || out == reflect.PointerTo(target)
}

// bean returns a builder setting the fields of a new *T from aliased args.
func bean(t *metamodel.Target, args []item, aliases []string) (func([]any) (any, error), bool) {
	if t.Type.Kind() != reflect.Struct {
		return nil, false
	}
	fields := make([][]int, len(args))
	for i, alias := range aliases {
		if alias == "" {
			return nil, false
		}
		f, ok := t.Type.FieldByNameFunc(func(name string) bool { return strings.EqualFold(name, alias) })
		if !ok || !f.IsExported() || !accepts(args[i], f.Type) {
			return nil, false
		}
		fields[i] = f.Index
	}
	for i, a := range args {
		if a.basic != nil {
			a.basic.GoType = t.Type.FieldByIndex(fields[i]).Type
		}
	}
	return func(vals []any) (any, error) {
		v := reflect.New(t.Type)
		for i, val := range vals {
			if val != nil {
				v.Elem().FieldByIndex(fields[i]).Set(reflect.ValueOf(val))
			}
		}
		return v.Interface(), nil
	}, true
}

// accepts reports whether values of a can be passed as in.
func accepts(a item, in reflect.Type) bool {
	if a.basic == nil {
		return a.typ != nil && a.typ.AssignableTo(in)
	}
	if in.Kind() == reflect.Interface {
		return a.typ.AssignableTo(in)
	}
	if in.Kind() == reflect.Pointer {
		in = in.Elem()
	}
	if reflect.PointerTo(in).Implements(scannerType) {
		return true
	}
	if a.basic.Type == metamodel.TypeInvalid {
		return false
	}
	gt := a.typ
	switch {
	case gt.AssignableTo(in):
		return true
	case in.Kind() == reflect.String:
		return gt.Kind() == reflect.String || a.basic.Type == metamodel.TypeUUID
	case gt.Kind() == reflect.String:
		return false
	}
	return gt.ConvertibleTo(in) && gt.Kind() == in.Kind() || numeric(gt.Kind()) && numeric(in.Kind())
}

func numeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}
