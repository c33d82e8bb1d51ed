// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package txnstate passes typed values from the request phase of a transaction to its
// response phase through the transaction variables of the host.
//
// The two phases run as separate hook invocations with nothing in common but the
// transaction. The request phase writes each value once under a [Key] and the response
// phase reads it back. The host runs the request phase to completion before the
// response phase starts, so a key has at most one writer followed by one reader.
package txnstate

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/hapgo/hapi/marshal"
)

// Store is the variable store of a transaction. [haproxy.Txn] implements it.
type Store interface {
	// LState returns the state values are decoded with.
	LState() *lua.LState
	// Var returns the value of the variable name, lua.LNil when it is not set.
	Var(name string) (lua.LValue, error)
	// SetVar stores v in the variable name.
	SetVar(name string, v any) error
	// SetVarIfExists stores v in the variable name only if it is already set.
	SetVarIfExists(name string, v any) error
	// UnsetVar removes the variable name.
	UnsetVar(name string) error
}

// scopes are the variable scopes of HAProxy, from the widest to the narrowest.
var scopes = []string{"proc", "sess", "txn", "req", "res"}

// Key names a transaction variable holding a T.
type Key[T any] struct {
	name string
}

// NewKey validates name, which must be "<scope>.<name>" with a HAProxy scope such as "txn".
func NewKey[T any](name string) (Key[T], error) {
	scope, rest, ok := strings.Cut(name, ".")
	if !ok || rest == "" {
		return Key[T]{}, fmt.Errorf("invalid variable name %q: expected <scope>.<name>", name)
	}
	for _, s := range scopes {
		if s == scope {
			return Key[T]{name: name}, nil
		}
	}
	return Key[T]{}, fmt.Errorf("invalid variable name %q: unknown scope %q", name, scope)
}

// MustKey is NewKey for names known at compile time. It panics if name is invalid.
func MustKey[T any](name string) Key[T] {
	k, err := NewKey[T](name)
	if err != nil {
		panic(err)
	}
	return k
}

// String returns the variable name.
func (k Key[T]) String() string { return k.name }

// MissingStateError is returned when a variable that should have been written by an
// earlier phase of the transaction is not set.
type MissingStateError struct {
	Key string
}

// Error implements the error interface.
func (e *MissingStateError) Error() string {
	return fmt.Sprintf("transaction variable %q is not set", e.Key)
}

// Put stores v under k.
func Put[T any](s Store, k Key[T], v T) error {
	if err := s.SetVar(k.name, v); err != nil {
		return fmt.Errorf("failed to set %s: %w", k.name, err)
	}
	return nil
}

// Replace stores v under k only if k is already set.
func Replace[T any](s Store, k Key[T], v T) error {
	if err := s.SetVarIfExists(k.name, v); err != nil {
		return fmt.Errorf("failed to replace %s: %w", k.name, err)
	}
	return nil
}

// Get returns the value stored under k. It fails with a *MissingStateError if k is not set.
func Get[T any](s Store, k Key[T]) (T, error) {
	v, err := Lookup(s, k)
	if err != nil {
		var zero T
		return zero, err
	}
	out, ok := v.Get()
	if !ok {
		return out, &MissingStateError{Key: k.name}
	}
	return out, nil
}

// Lookup returns the value stored under k, if any.
func Lookup[T any](s Store, k Key[T]) (marshal.Option[T], error) {
	raw, err := s.Var(k.name)
	if err != nil {
		return marshal.None[T](), fmt.Errorf("failed to get %s: %w", k.name, err)
	}
	if raw == nil || raw == lua.LNil {
		return marshal.None[T](), nil
	}
	v, err := marshal.Decode[T](s.LState(), raw)
	if err != nil {
		return marshal.None[T](), fmt.Errorf("failed to decode %s: %w", k.name, err)
	}
	return marshal.Some(v), nil
}

// Clear removes the value stored under k.
func Clear[T any](s Store, k Key[T]) error {
	if err := s.UnsetVar(k.name); err != nil {
		return fmt.Errorf("failed to unset %s: %w", k.name, err)
	}
	return nil
}
