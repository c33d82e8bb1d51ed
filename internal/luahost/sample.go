// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package luahost

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"
)

// newFetches builds the f object of the transaction. Fetch methods take the object as
// their first argument, then the fetch arguments.
func (t *Txn) newFetches() *lua.LTable {
	str := func(fn func() string) lua.LGFunction {
		return func(L *lua.LState) int {
			L.Push(lua.LString(fn()))
			return 1
		}
	}
	return newObject(t.host.L, map[string]lua.LGFunction{
		"method": str(func() string { return t.req.method }),
		"path":   str(func() string { return t.req.path }),
		"query":  str(func() string { return t.req.query }),
		"url":    str(t.req.uri),
		"req_ver": str(func() string {
			return t.req.version
		}),
		"unique_id": str(func() string {
			if t.uniqueID == "" {
				t.uniqueID = t.host.uniqueID()
			}
			return t.uniqueID
		}),
		"status": func(L *lua.LState) int {
			if t.res == nil {
				L.Push(lua.LNil)
			} else {
				L.Push(lua.LNumber(t.res.status))
			}
			return 1
		},
		"hdr": func(L *lua.LState) int {
			values := headerValues(t.req.headers, L.CheckString(2))
			occ := L.OptInt(3, -1)
			if occ < 0 {
				occ += len(values) + 1
			}
			if occ < 1 || occ > len(values) {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(values[occ-1]))
			return 1
		},
		"hdr_cnt": func(L *lua.LState) int {
			L.Push(lua.LNumber(len(headerValues(t.req.headers, L.CheckString(2)))))
			return 1
		},
		"var": func(L *lua.LState) int {
			L.Push(t.Var(L.CheckString(2)))
			return 1
		},
	})
}

func headerValues(headers []Header, name string) []string {
	var values []string
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

// newConverters builds the c object. Converter methods take the object, the input
// sample, then the converter arguments.
func (h *Host) newConverters() *lua.LTable {
	conv := func(fn func(L *lua.LState, in string) lua.LValue) lua.LGFunction {
		return func(L *lua.LState) int {
			L.Push(fn(L, lua.LVAsString(L.Get(2))))
			return 1
		}
	}
	return newObject(h.L, map[string]lua.LGFunction{
		"lower": conv(func(_ *lua.LState, in string) lua.LValue { return lua.LString(strings.ToLower(in)) }),
		"upper": conv(func(_ *lua.LState, in string) lua.LValue { return lua.LString(strings.ToUpper(in)) }),
		"url_dec": conv(func(_ *lua.LState, in string) lua.LValue {
			out, err := url.QueryUnescape(in)
			if err != nil {
				return lua.LNil
			}
			return lua.LString(out)
		}),
		"base64": conv(func(_ *lua.LState, in string) lua.LValue {
			return lua.LString(base64.StdEncoding.EncodeToString([]byte(in)))
		}),
		"json_query": conv(func(L *lua.LState, in string) lua.LValue {
			return jsonQuery(in, L.CheckString(3))
		}),
	})
}

var jsonIndex = regexp.MustCompile(`\[(\d+)\]`)

// jsonQuery evaluates a JSONPath such as "$.user.roles[0]" on doc.
func jsonQuery(doc, path string) lua.LValue {
	path = strings.TrimPrefix(strings.TrimPrefix(path, "$"), ".")
	path = jsonIndex.ReplaceAllString(path, ".$1")
	res := gjson.Get(doc, strings.TrimPrefix(path, "."))
	switch res.Type {
	case gjson.Number:
		return lua.LNumber(res.Num)
	case gjson.String:
		return lua.LString(res.Str)
	case gjson.True:
		return lua.LTrue
	case gjson.False:
		return lua.LFalse
	case gjson.JSON:
		return lua.LString(res.Raw)
	}
	return lua.LNil
}
