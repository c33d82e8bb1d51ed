// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	"cmp"
	"iter"
	"slices"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/hapgo/hapi/marshal"
)

// firstHeaderIndex is the position of the first value of a header. HAProxy starts at 0, not 1.
const firstHeaderIndex = 0

// Headers is a view over a header table as returned by HAProxy: lower-cased header names
// mapped to tables of values keyed by their position.
//
//	{ ["host"] = { [0] = "www.example.com" }, ["accept"] = { [0] = "text/html", [1] = "*/*" } }
type Headers struct {
	Handle
}

// HeaderField is a header name with all its values in order.
type HeaderField[V any] struct {
	Name   string
	Values []V
}

// HeaderValues returns all values of the header name, ordered by position.
// The lookup is case-insensitive.
func HeaderValues[V any](hs Headers, name string) ([]V, error) {
	inner, err := Field[marshal.Option[*lua.LTable]](hs.Handle, strings.ToLower(name))
	if err != nil {
		return nil, err
	}
	tbl, ok := inner.Get()
	if !ok {
		return nil, nil
	}
	return orderedValues[V](hs.L, tbl)
}

// FirstHeader returns the first value of the header name if there is one.
// The lookup is case-insensitive.
func FirstHeader[V any](hs Headers, name string) (marshal.Option[V], error) {
	inner, err := Field[marshal.Option[*lua.LTable]](hs.Handle, strings.ToLower(name))
	if err != nil {
		return marshal.None[V](), err
	}
	tbl, ok := inner.Get()
	if !ok {
		return marshal.None[V](), nil
	}
	return marshal.Decode[marshal.Option[V]](hs.L, hs.L.GetTable(tbl, lua.LNumber(firstHeaderIndex)))
}

// AllHeaders iterates over every header. Names are yielded as stored by the host and
// values are ordered by position. The sequence reads the table lazily and can be
// consumed once; iteration stops after the first error.
func AllHeaders[V any](hs Headers) iter.Seq2[HeaderField[V], error] {
	return func(yield func(HeaderField[V], error) bool) {
		tbl := hs.Table()
		if tbl == nil {
			return
		}
		for k, v := tbl.Next(lua.LNil); k != lua.LNil; k, v = tbl.Next(k) {
			name, err := marshal.Decode[string](hs.L, k)
			if err != nil {
				yield(HeaderField[V]{}, err)
				return
			}
			inner, err := marshal.Decode[*lua.LTable](hs.L, v)
			if err != nil {
				yield(HeaderField[V]{Name: name}, err)
				return
			}
			values, err := orderedValues[V](hs.L, inner)
			if err != nil {
				yield(HeaderField[V]{Name: name}, err)
				return
			}
			if !yield(HeaderField[V]{Name: name, Values: values}, nil) {
				return
			}
		}
	}
}

// Values returns all string values of the header name.
func (hs Headers) Values(name string) ([]string, error) {
	return HeaderValues[string](hs, name)
}

// First returns the first string value of the header name, or false if there is none.
func (hs Headers) First(name string) (string, bool, error) {
	v, err := FirstHeader[string](hs, name)
	if err != nil {
		return "", false, err
	}
	s, ok := v.Get()
	return s, ok, nil
}

type positioned[V any] struct {
	pos   int
	value V
}

// orderedValues decodes the values of tbl sorted by their integer position key,
// regardless of the order the host enumerates them in.
func orderedValues[V any](L *lua.LState, tbl *lua.LTable) ([]V, error) {
	var items []positioned[V]
	for k, v := tbl.Next(lua.LNil); k != lua.LNil; k, v = tbl.Next(k) {
		pos, err := marshal.Decode[int](L, k)
		if err != nil {
			return nil, err
		}
		value, err := marshal.Decode[V](L, v)
		if err != nil {
			return nil, err
		}
		items = append(items, positioned[V]{pos: pos, value: value})
	}
	slices.SortFunc(items, func(a, b positioned[V]) int { return cmp.Compare(a.pos, b.pos) })
	values := make([]V, len(items))
	for i := range items {
		values[i] = items[i].value
	}
	return values, nil
}
