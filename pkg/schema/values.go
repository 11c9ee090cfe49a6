package schema

import (
	"database/sql/driver"
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var equalOpts = []cmp.Option{
	cmpopts.EquateEmpty(),
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

// Equal reports whether two member values are equal. Time values compare
// with their Equal method, nil and empty slices are equal, and pointers
// compare by the values they point to.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return IsNull(a) && IsNull(b)
	}
	return cmp.Equal(a, b, equalOpts...)
}

// IsNull reports whether v represents SQL NULL: a nil interface, a nil
// pointer, map, slice or interface, or a driver.Valuer yielding nil.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		if rv.IsNil() {
			return true
		}
	}
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		return err == nil && dv == nil
	}
	return false
}

// IsZero reports whether v is nil or the zero value of its type.
func IsZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

// convert coerces a value read from a backend or another entity to V.
func convert[V any](v any) V {
	x, ok := tryConvert[V](v)
	if !ok {
		panic(fmt.Sprintf("schema: cannot convert %T to %s", v, reflect.TypeFor[V]()))
	}
	return x
}

func tryConvert[V any](v any) (V, bool) {
	var zero V
	if v == nil {
		return zero, true
	}
	if x, ok := v.(V); ok {
		return x, true
	}
	target := reflect.TypeFor[V]()
	rv := reflect.ValueOf(v)
	if convertible(rv.Type(), target) {
		return rv.Convert(target).Interface().(V), true
	}
	if target.Kind() == reflect.Pointer {
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return zero, true
			}
			rv = rv.Elem()
		}
		if convertible(rv.Type(), target.Elem()) {
			p := reflect.New(target.Elem())
			p.Elem().Set(rv.Convert(target.Elem()))
			return p.Interface().(V), true
		}
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return zero, true
		}
		if convertible(rv.Elem().Type(), target) {
			return rv.Elem().Convert(target).Interface().(V), true
		}
	}
	return zero, false
}

// convertible reports whether reflect can convert between the types without
// turning integers into strings.
func convertible(from, to reflect.Type) bool {
	if to.Kind() == reflect.String && from.Kind() != reflect.String {
		return false
	}
	return from.ConvertibleTo(to)
}

// comparableKey reports whether values of V can serve as identity keys.
func comparableKey[V any]() bool {
	t := reflect.TypeFor[V]()
	return t.Comparable() && t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface
}
