// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/hapgo/hapi/marshal"
)

// ErrNoSuchMember is wrapped by HostCallError when the handle has no member of the requested name.
var ErrNoSuchMember = errors.New("no such member")

// HostCallError is returned when calling a member of a handle fails on the host side.
type HostCallError struct {
	// Member is the name of the member that was called.
	Member string
	// Err is the underlying cause: ErrNoSuchMember, an argument encoding error, or the error raised by the host.
	Err error
}

// Error implements the error interface.
func (e *HostCallError) Error() string {
	return fmt.Sprintf("host call %q failed: %v", e.Member, e.Err)
}

// Unwrap returns the underlying cause.
func (e *HostCallError) Unwrap() error { return e.Err }

// Handle is a reference to a host object: a table whose members are called by name.
//
// A Handle does not own the object. It must not be used after the hook or call that
// produced it has returned, and it must only be used on the goroutine running the
// state it belongs to. Copying a Handle copies the reference, never the object.
type Handle struct {
	L     *lua.LState
	table *lua.LTable
}

// NewHandle wraps v, which must be a table.
func NewHandle(L *lua.LState, v lua.LValue) (Handle, error) {
	tbl, err := marshal.Decode[*lua.LTable](L, v)
	if err != nil {
		return Handle{}, err
	}
	return Handle{L: L, table: tbl}, nil
}

// Table returns the underlying host table.
func (h Handle) Table() *lua.LTable { return h.table }

// EncodeLua implements [marshal.Encoder].
func (h Handle) EncodeLua(*lua.LState) (lua.LValue, error) {
	if h.table == nil {
		return lua.LNil, nil
	}
	return h.table, nil
}

// DecodeLua implements [marshal.Decoder].
func (h *Handle) DecodeLua(L *lua.LState, v lua.LValue) error {
	nh, err := NewHandle(L, v)
	if err != nil {
		return err
	}
	*h = nh
	return nil
}

// Invoke calls the method on the handle and discards its results.
func (h Handle) Invoke(method string, args ...any) error {
	_, err := h.call(method, true, args)
	return err
}

// Call calls the method on the handle, passing the handle as the receiver, and decodes its result into R.
func Call[R any](h Handle, method string, args ...any) (R, error) {
	ret, err := h.call(method, true, args)
	if err != nil {
		var zero R
		return zero, err
	}
	return marshal.Decode[R](h.L, ret)
}

// CallFunction calls the function stored under name without passing the handle as the receiver.
func CallFunction[R any](h Handle, name string, args ...any) (R, error) {
	ret, err := h.call(name, false, args)
	if err != nil {
		var zero R
		return zero, err
	}
	return marshal.Decode[R](h.L, ret)
}

// CallString calls the method and returns its string result. A nil result yields the empty string.
func CallString(h Handle, method string, args ...any) (string, error) {
	s, err := Call[marshal.Option[string]](h, method, args...)
	if err != nil {
		return "", err
	}
	return s.OrZero(), nil
}

// Field decodes the named field of the handle into R.
func Field[R any](h Handle, name string) (R, error) {
	return marshal.Decode[R](h.L, h.L.GetField(h.table, name))
}

func (h Handle) call(member string, method bool, args []any) (lua.LValue, error) {
	if h.table == nil {
		return nil, &HostCallError{Member: member, Err: ErrNoSuchMember}
	}
	fn := h.L.GetField(h.table, member)
	if fn == lua.LNil {
		return nil, &HostCallError{Member: member, Err: ErrNoSuchMember}
	}
	params, err := marshal.EncodeAll(h.L, args...)
	if err != nil {
		return nil, &HostCallError{Member: member, Err: err}
	}
	if method {
		params = append([]lua.LValue{h.table}, params...)
	}
	if err = h.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, params...); err != nil {
		return nil, &HostCallError{Member: member, Err: err}
	}
	ret := h.L.Get(-1)
	h.L.Pop(1)
	return ret, nil
}
