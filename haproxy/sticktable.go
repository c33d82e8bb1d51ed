// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/hapgo/hapi/marshal"
)

// StickTable gives access to a stick table.
type StickTable struct {
	Handle
}

// StickTableInfo holds the attributes of a stick table.
type StickTableInfo struct {
	// Type is the key type, such as "ip" or "string".
	Type string `lua:"type"`
	// Length is the key length, for string and binary keys.
	Length int `lua:"length"`
	Size   int `lua:"size"`
	Used   int `lua:"used"`
	// Expire is in milliseconds.
	Expire int `lua:"expire"`
	// Data maps stored data types, such as "http_req_rate", to their period in milliseconds or 0.
	Data map[string]int `lua:"data"`
}

// DumpFilter keeps the entries whose data value compares to Value with Op.
// Op is one of "eq", "ne", "le", "lt", "ge" or "gt".
type DumpFilter struct {
	Data  string
	Op    string
	Value int64
}

// EncodeLua implements [marshal.Encoder]. The host expects { data, op, value }.
func (f DumpFilter) EncodeLua(L *lua.LState) (lua.LValue, error) {
	return marshal.Encode(L, []any{f.Data, f.Op, f.Value})
}

// Info returns the attributes of the table.
func (t StickTable) Info() (StickTableInfo, error) {
	return Call[StickTableInfo](t.Handle, "info")
}

// Lookup returns the data of the entry key, or nil if there is no such entry.
func (t StickTable) Lookup(key string) (map[string]any, error) {
	entry, err := Call[marshal.Option[map[string]any]](t.Handle, "lookup", key)
	if err != nil {
		return nil, err
	}
	return entry.OrZero(), nil
}

// Dump returns every entry of the table, indexed by key. With filters, only the
// entries matching all of them are returned.
func (t StickTable) Dump(filters ...DumpFilter) (map[string]map[string]any, error) {
	if len(filters) == 0 {
		return Call[map[string]map[string]any](t.Handle, "dump")
	}
	return Call[map[string]map[string]any](t.Handle, "dump", filters)
}
