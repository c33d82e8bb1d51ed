// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package marshal

import lua "github.com/yuin/gopher-lua"

// Option is a value that may be absent. Absence is represented on the host side by nil.
type Option[T any] struct {
	value T
	ok    bool
}

// Some returns a present Option holding v.
func Some[T any](v T) Option[T] { return Option[T]{value: v, ok: true} }

// None returns an absent Option.
func None[T any]() Option[T] { return Option[T]{} }

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) { return o.value, o.ok }

// IsSome reports whether the value is present.
func (o Option[T]) IsSome() bool { return o.ok }

// OrZero returns the value, or the zero value of T when absent.
func (o Option[T]) OrZero() T { return o.value }

// Or returns the value, or def when absent.
func (o Option[T]) Or(def T) T {
	if o.ok {
		return o.value
	}
	return def
}

// EncodeLua implements [Encoder].
func (o Option[T]) EncodeLua(L *lua.LState) (lua.LValue, error) {
	if !o.ok {
		return lua.LNil, nil
	}
	return Encode(L, o.value)
}

// DecodeLua implements [Decoder].
func (o *Option[T]) DecodeLua(L *lua.LState, v lua.LValue) error {
	if v == lua.LNil {
		*o = Option[T]{}
		return nil
	}
	var value T
	if err := DecodeInto(L, v, &value); err != nil {
		return err
	}
	*o = Option[T]{value: value, ok: true}
	return nil
}
