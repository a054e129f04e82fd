package metamodel

import (
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValueType is the relational value type of a basic attribute.
type ValueType uint8

// Value types.
const (
	TypeInvalid ValueType = iota
	TypeBool
	TypeInt
	TypeInt64
	TypeFloat64
	TypeString
	TypeBytes
	TypeTime
	TypeUUID
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeInt:     "int",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
	TypeString:  "string",
	TypeBytes:   "[]byte",
	TypeTime:    "time.Time",
	TypeUUID:    "uuid.UUID",
}

// String returns the type name.
func (t ValueType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	bytesType   = reflect.TypeOf([]byte(nil))
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

// GoType returns the Go type values of this type are converted to by default.
func (t ValueType) GoType() reflect.Type {
	switch t {
	case TypeBool:
		return reflect.TypeOf(false)
	case TypeInt:
		return reflect.TypeOf(0)
	case TypeInt64:
		return reflect.TypeOf(int64(0))
	case TypeFloat64:
		return reflect.TypeOf(float64(0))
	case TypeString:
		return reflect.TypeOf("")
	case TypeBytes:
		return bytesType
	case TypeTime:
		return timeType
	case TypeUUID:
		return uuidType
	}
	return reflect.TypeOf((*any)(nil)).Elem()
}

// Normalize converts a raw driver or cached value into the canonical
// representation of the type: int64, float64, bool, string, []byte,
// time.Time or uuid.UUID. Nil stays nil.
func (t ValueType) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		return t.Normalize(rv.Elem().Interface())
	}
	switch t {
	case TypeBool:
		return toBool(v)
	case TypeInt, TypeInt64:
		return toInt64(v)
	case TypeFloat64:
		return toFloat64(v)
	case TypeString:
		return toString(v)
	case TypeBytes:
		switch v := v.(type) {
		case []byte:
			return append([]byte(nil), v...), nil
		case string:
			return []byte(v), nil
		}
	case TypeTime:
		return toTime(v)
	case TypeUUID:
		return toUUID(v)
	case TypeInvalid:
		return v, nil
	}
	return nil, fmt.Errorf("metamodel: cannot use %T as %s", v, t)
}

// Key normalizes v into a comparable value usable in identity keys.
func (t ValueType) Key(v any) (any, error) {
	n, err := t.Normalize(v)
	if err != nil {
		return nil, err
	}
	if b, ok := n.([]byte); ok {
		return string(b), nil
	}
	return n, nil
}

// Disassemble converts v into a cache-safe primitive that Convert accepts back.
func (t ValueType) Disassemble(v any) (any, error) {
	n, err := t.Normalize(v)
	if err != nil {
		return nil, err
	}
	if u, ok := n.(uuid.UUID); ok {
		return u.String(), nil
	}
	return n, nil
}

// Convert converts a raw driver or cached value into a value assignable to
// the Go type to. Nil converts to the zero value of to; pointer targets
// receive a newly allocated value.
func (t ValueType) Convert(v any, to reflect.Type) (reflect.Value, error) {
	if to.Kind() == reflect.Pointer {
		if v == nil {
			return reflect.Zero(to), nil
		}
		elem, err := t.Convert(v, to.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(to.Elem())
		p.Elem().Set(elem)
		return p, nil
	}
	if to != uuidType && reflect.PointerTo(to).Implements(scannerType) {
		out := reflect.New(to)
		if err := out.Interface().(sql.Scanner).Scan(v); err != nil {
			return reflect.Value{}, fmt.Errorf("metamodel: scan %T into %s: %w", v, to, err)
		}
		return out.Elem(), nil
	}
	n, err := t.Normalize(v)
	if err != nil {
		return reflect.Value{}, err
	}
	if n == nil {
		return reflect.Zero(to), nil
	}
	rv := reflect.ValueOf(n)
	switch {
	case rv.Type() == to:
		return rv, nil
	case rv.Type().AssignableTo(to):
		out := reflect.New(to).Elem()
		out.Set(rv)
		return out, nil
	case compatibleKinds(rv.Type(), to) && rv.Type().ConvertibleTo(to):
		out := rv.Convert(to)
		if isInt(to.Kind()) && rv.Kind() == reflect.Int64 && out.Int() != rv.Int() {
			return reflect.Value{}, fmt.Errorf("metamodel: value %v overflows %s", n, to)
		}
		return out, nil
	case to.Kind() == reflect.String && rv.Type() == uuidType:
		return reflect.ValueOf(n.(uuid.UUID).String()).Convert(to), nil
	}
	return reflect.Value{}, fmt.Errorf("metamodel: cannot convert %T to %s", v, to)
}

func compatibleKinds(from, to reflect.Type) bool {
	fk, tk := from.Kind(), to.Kind()
	switch {
	case isNumeric(fk) && isNumeric(tk):
		return true
	case fk == tk && (fk == reflect.String || fk == reflect.Bool || fk == reflect.Struct || fk == reflect.Array):
		return true
	case fk == reflect.Slice && tk == reflect.Slice:
		return from.Elem().Kind() == reflect.Uint8 && to.Elem().Kind() == reflect.Uint8
	}
	return false
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isNumeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

func toBool(v any) (any, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case []byte:
		return strconv.ParseBool(string(v))
	case string:
		return strconv.ParseBool(v)
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	return n.(int64) != 0, nil
}

func toInt64(v any) (any, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, fmt.Errorf("metamodel: %d overflows int64", v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("metamodel: %d overflows int64", v)
		}
		return int64(v), nil
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return nil, fmt.Errorf("metamodel: cannot use %T as int64", v)
}

func floatToInt(f float64) (any, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("metamodel: %v is not an integer", f)
	}
	return int64(f), nil
}

func toFloat64(v any) (any, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	case string:
		return strconv.ParseFloat(v, 64)
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, fmt.Errorf("metamodel: cannot use %T as float64", v)
	}
	return float64(n.(int64)), nil
}

func toString(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case uuid.UUID:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return nil, fmt.Errorf("metamodel: cannot use %T as string", v)
}

// timeLayouts are the text forms drivers return for temporal columns.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toTime(v any) (any, error) {
	var s string
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return nil, fmt.Errorf("metamodel: cannot use %T as time.Time", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("metamodel: cannot parse %q as time.Time", s)
}

func toUUID(v any) (any, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case string:
		return uuid.Parse(v)
	case []byte:
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
		return uuid.ParseBytes(v)
	}
	return nil, fmt.Errorf("metamodel: cannot use %T as uuid.UUID", v)
}

type unfetchedValue struct{}

func (unfetchedValue) String() string { return "<unfetched>" }

// Unfetched marks attribute state that was never loaded. It is distinct from
// a real nil and is never written to an entity instance.
var Unfetched any = unfetchedValue{}

// IsUnfetched reports whether v is the Unfetched marker.
func IsUnfetched(v any) bool {
	_, ok := v.(unfetchedValue)
	return ok
}
