package memory

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
)

// normalize reduces a value to the representation rows store: integers as
// int64, floats as float64, pointers dereferenced and driver.Valuer values
// converted.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		if _, ok := v.(driver.Valuer); !ok {
			return normalize(rv.Elem().Interface())
		}
	}
	if dv, ok := v.(driver.Valuer); ok {
		x, err := dv.Value()
		if err != nil {
			return v
		}
		if x == nil {
			return nil
		}
		if reflect.TypeOf(x) == reflect.TypeOf(v) {
			return x
		}
		return normalize(x)
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if b, ok := v.([]byte); ok {
			return bytes.Clone(b)
		}
	}
	return v
}

func equalValues(a, b any) bool {
	return schema.Equal(normalize(a), normalize(b))
}

// assign stores v in the scan destination dest.
func assign(dest, v any) error {
	if s, ok := dest.(sql.Scanner); ok {
		return s.Scan(v)
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("memory: scan destination %T is not a pointer", dest)
	}
	target := dv.Elem()
	if v == nil {
		target.SetZero()
		return nil
	}
	return setValue(target, reflect.ValueOf(v))
}

func setValue(target, rv reflect.Value) error {
	if rv.Type().AssignableTo(target.Type()) {
		target.Set(rv)
		return nil
	}
	if target.Kind() == reflect.Pointer {
		p := reflect.New(target.Type().Elem())
		if err := setValue(p.Elem(), rv); err != nil {
			return err
		}
		target.Set(p)
		return nil
	}
	if target.Kind() == reflect.String && rv.Kind() != reflect.String {
		return fmt.Errorf("memory: cannot assign %s to %s", rv.Type(), target.Type())
	}
	if rv.Type().ConvertibleTo(target.Type()) {
		target.Set(rv.Convert(target.Type()))
		return nil
	}
	if s, ok := target.Addr().Interface().(sql.Scanner); ok {
		return s.Scan(rv.Interface())
	}
	return fmt.Errorf("memory: cannot assign %s to %s", rv.Type(), target.Type())
}
