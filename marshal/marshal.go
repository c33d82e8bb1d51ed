// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package marshal converts values between Go and the embedded Lua host.
//
// Host numbers are float64, so integers are only exchanged while they are exactly
// representable: encoding an integer beyond ±2^53 fails, and decoding a number into
// an integer type fails unless it is integral and within the target range. Nothing
// is ever truncated silently.
package marshal

import (
	"cmp"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// maxExactInt is the largest integer magnitude a host number holds without loss.
const maxExactInt = 1 << 53

// Encoder is implemented by Go values with their own host representation.
type Encoder interface {
	EncodeLua(L *lua.LState) (lua.LValue, error)
}

// Decoder is implemented by pointers to Go values that decode themselves from a host value.
type Decoder interface {
	DecodeLua(L *lua.LState, v lua.LValue) error
}

var (
	decoderType  = reflect.TypeFor[Decoder]()
	lvalueType   = reflect.TypeFor[lua.LValue]()
	tableType    = reflect.TypeFor[*lua.LTable]()
	functionType = reflect.TypeFor[*lua.LFunction]()
)

// Encode converts v into a host value.
func Encode(L *lua.LState, v any) (lua.LValue, error) {
	if v == nil {
		return lua.LNil, nil
	}
	return encode(L, reflect.ValueOf(v), nil)
}

// EncodeAll encodes each argument in order, as used for positional call arguments.
func EncodeAll(L *lua.LState, args ...any) ([]lua.LValue, error) {
	out := make([]lua.LValue, len(args))
	for i, a := range args {
		v, err := Encode(L, a)
		if err != nil {
			return nil, fmt.Errorf("argument #%d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// Decode converts the host value v into a T.
func Decode[T any](L *lua.LState, v lua.LValue) (T, error) {
	var out T
	err := DecodeInto(L, v, &out)
	return out, err
}

// DecodeInto converts the host value v into the value ptr points to.
func DecodeInto(L *lua.LState, v lua.LValue, ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &DecodeError{Kind: KindUnsupported, GoType: fmt.Sprintf("%T", ptr), Detail: "destination must be a non-nil pointer"}
	}
	if v == nil {
		v = lua.LNil
	}
	return decode(L, v, rv.Elem(), nil)
}

func encode(L *lua.LState, rv reflect.Value, path []string) (lua.LValue, error) {
	if !rv.IsValid() {
		return lua.LNil, nil
	}
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return lua.LNil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return lua.LNil, nil
	}
	if rv.CanInterface() {
		switch x := rv.Interface().(type) {
		case lua.LValue:
			return x, nil
		case Encoder:
			return x.EncodeLua(L)
		case lua.LGFunction:
			return L.NewFunction(x), nil
		case func(*lua.LState) int:
			return L.NewFunction(x), nil
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		return lua.LBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n > maxExactInt || n < -maxExactInt {
			return nil, overflow(path, rv.Type().String(), "%d is not exactly representable by a host number", n)
		}
		return lua.LNumber(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		if n > maxExactInt {
			return nil, overflow(path, rv.Type().String(), "%d is not exactly representable by a host number", n)
		}
		return lua.LNumber(n), nil
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float()), nil
	case reflect.String:
		return lua.LString(rv.String()), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return lua.LString(rv.Bytes()), nil
		}
		fallthrough
	case reflect.Array:
		tbl := L.CreateTable(rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			ev, err := encode(L, rv.Index(i), append(path, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, err
			}
			tbl.RawSetInt(i+1, ev)
		}
		return tbl, nil
	case reflect.Map:
		tbl := L.CreateTable(0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			kp := append(path, fmt.Sprintf("[%v]", iter.Key().Interface()))
			switch iter.Key().Kind() {
			case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
				reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			default:
				return nil, &DecodeError{Kind: KindInvalidKey, Path: clonePath(kp), GoType: iter.Key().Type().String()}
			}
			k, err := encode(L, iter.Key(), kp)
			if err != nil {
				return nil, err
			}
			ev, err := encode(L, iter.Value(), kp)
			if err != nil {
				return nil, err
			}
			tbl.RawSet(k, ev)
		}
		return tbl, nil
	case reflect.Struct:
		tbl := L.NewTable()
		for _, f := range structFields(rv.Type()) {
			fv := rv.Field(f.index)
			if f.omitEmpty && fv.IsZero() {
				continue
			}
			ev, err := encode(L, fv, append(path, "."+f.name))
			if err != nil {
				return nil, err
			}
			tbl.RawSetString(f.name, ev)
		}
		return tbl, nil
	case reflect.Pointer:
		return encode(L, rv.Elem(), path)
	}
	return nil, unsupported(path, rv.Type().String())
}

func decode(L *lua.LState, v lua.LValue, rv reflect.Value, path []string) error {
	t := rv.Type()
	if reflect.PointerTo(t).Implements(decoderType) {
		return withPath(rv.Addr().Interface().(Decoder).DecodeLua(L, v), path)
	}
	switch t {
	case lvalueType:
		rv.Set(reflect.ValueOf(&v).Elem())
		return nil
	case tableType:
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return typeMismatch(path, t.String(), v.Type().String())
		}
		rv.Set(reflect.ValueOf(tbl))
		return nil
	case functionType:
		fn, ok := v.(*lua.LFunction)
		if !ok {
			return typeMismatch(path, t.String(), v.Type().String())
		}
		rv.Set(reflect.ValueOf(fn))
		return nil
	}

	switch t.Kind() {
	case reflect.Bool:
		b, ok := v.(lua.LBool)
		if !ok {
			return typeMismatch(path, t.String(), v.Type().String())
		}
		rv.SetBool(bool(b))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, err := integral(v, t, path)
		if err != nil {
			return err
		}
		limit := math.Ldexp(1, t.Bits()-1)
		if f < -limit || f >= limit {
			return overflow(path, t.String(), "%v is out of range", f)
		}
		rv.SetInt(int64(f))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		f, err := integral(v, t, path)
		if err != nil {
			return err
		}
		if f < 0 || f >= math.Ldexp(1, t.Bits()) {
			return overflow(path, t.String(), "%v is out of range", f)
		}
		rv.SetUint(uint64(f))
	case reflect.Float32, reflect.Float64:
		n, ok := v.(lua.LNumber)
		if !ok {
			return typeMismatch(path, t.String(), v.Type().String())
		}
		f := float64(n)
		if t.Kind() == reflect.Float32 && !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
			return overflow(path, t.String(), "%v is out of range", f)
		}
		rv.SetFloat(f)
	case reflect.String:
		switch s := v.(type) {
		case lua.LString:
			rv.SetString(string(s))
		case lua.LNumber:
			// Lua coerces numbers to strings, never the other way around.
			rv.SetString(s.String())
		default:
			return typeMismatch(path, t.String(), v.Type().String())
		}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			if s, ok := v.(lua.LString); ok {
				rv.SetBytes([]byte(s))
				return nil
			}
		}
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return typeMismatch(path, t.String(), v.Type().String())
		}
		n := tbl.Len()
		out := reflect.MakeSlice(t, n, n)
		for i := 1; i <= n; i++ {
			if err := decode(L, tbl.RawGetInt(i), out.Index(i-1), append(path, "["+strconv.Itoa(i)+"]")); err != nil {
				return err
			}
		}
		rv.Set(out)
	case reflect.Map:
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return typeMismatch(path, t.String(), v.Type().String())
		}
		switch t.Key().Kind() {
		case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return &DecodeError{Kind: KindInvalidKey, Path: clonePath(path), GoType: t.String()}
		}
		out := reflect.MakeMap(t)
		for k, ev := tbl.Next(lua.LNil); k != lua.LNil; k, ev = tbl.Next(k) {
			kp := append(path, "["+k.String()+"]")
			key := reflect.New(t.Key()).Elem()
			if err := decode(L, k, key, kp); err != nil {
				if de, ok := err.(*DecodeError); ok && de.Kind == KindTypeMismatch {
					de.Kind = KindInvalidKey
				}
				return err
			}
			val := reflect.New(t.Elem()).Elem()
			if err := decode(L, ev, val, kp); err != nil {
				return err
			}
			out.SetMapIndex(key, val)
		}
		rv.Set(out)
	case reflect.Pointer:
		if v == lua.LNil {
			rv.Set(reflect.Zero(t))
			return nil
		}
		elem := reflect.New(t.Elem())
		if err := decode(L, v, elem.Elem(), path); err != nil {
			return err
		}
		rv.Set(elem)
	case reflect.Struct:
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return typeMismatch(path, t.String(), v.Type().String())
		}
		for _, f := range structFields(t) {
			fv := tbl.RawGetString(f.name)
			if fv == lua.LNil && f.omitEmpty {
				rv.Field(f.index).SetZero()
				continue
			}
			if err := decode(L, fv, rv.Field(f.index), append(path, "."+f.name)); err != nil {
				return err
			}
		}
	case reflect.Interface:
		if t.NumMethod() != 0 {
			return unsupported(path, t.String())
		}
		if g := ToGo(v); g != nil {
			rv.Set(reflect.ValueOf(g))
		} else {
			rv.Set(reflect.Zero(t))
		}
	default:
		return unsupported(path, t.String())
	}
	return nil
}

type structField struct {
	index     int
	name      string
	omitEmpty bool
}

// structFields lists the exported fields of t with their host names. The name comes
// from the "lua" tag and defaults to the field name. "-" skips the field. With the
// "omitempty" option zero values are left out when encoding and nil decodes to zero.
func structFields(t reflect.Type) []structField {
	var fields []structField
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("lua")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fields = append(fields, structField{
			index:     i,
			name:      cmp.Or(name, sf.Name),
			omitEmpty: opts == "omitempty",
		})
	}
	return fields
}

func integral(v lua.LValue, t reflect.Type, path []string) (float64, error) {
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0, typeMismatch(path, t.String(), v.Type().String())
	}
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, overflow(path, t.String(), "%v is not an integer", f)
	}
	return f, nil
}

// withPath prefixes the location of a nested Decoder failure with the walker's position.
func withPath(err error, path []string) error {
	if err == nil || len(path) == 0 {
		return err
	}
	if de, ok := err.(*DecodeError); ok {
		de.Path = append(clonePath(path), de.Path...)
	}
	return err
}

// ToGo converts a host value into plain Go values: nil, bool, float64, string,
// []any for sequences and map[string]any for other tables. Functions and userdata
// are returned as their lua.LValue.
func ToGo(v lua.LValue) any {
	switch x := v.(type) {
	case nil:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		n := x.Len()
		count := 0
		x.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if n > 0 && count == n {
			out := make([]any, n)
			for i := 1; i <= n; i++ {
				out[i-1] = ToGo(x.RawGetInt(i))
			}
			return out
		}
		out := make(map[string]any, count)
		x.ForEach(func(k, ev lua.LValue) {
			out[k.String()] = ToGo(ev)
		})
		return out
	}
	if v == lua.LNil {
		return nil
	}
	return v
}
