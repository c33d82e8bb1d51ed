// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package luahost

import (
	"net/http"
	"regexp"
	"slices"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// message is one side of a transaction as the HTTP objects see it.
type message struct {
	resp    bool
	method  string
	path    string
	query   string
	version string
	status  int
	reason  string
	headers []Header
	body    string
}

func newRequestMessage(r Request) *message {
	return &message{
		method:  strings.ToUpper(orDefault(r.Method, http.MethodGet)),
		path:    orDefault(r.Path, "/"),
		query:   r.Query,
		version: orDefault(r.Version, "1.1"),
		headers: slices.Clone(r.Headers),
		body:    r.Body,
	}
}

func newResponseMessage(r Response) *message {
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &message{
		resp:    true,
		status:  status,
		reason:  orDefault(r.Reason, http.StatusText(status)),
		version: orDefault(r.Version, "1.1"),
		headers: slices.Clone(r.Headers),
		body:    r.Body,
	}
}

func (m *message) request() Request {
	return Request{Method: m.method, Path: m.path, Query: m.query, Version: m.version, Headers: slices.Clone(m.headers), Body: m.body}
}

func (m *message) response() Response {
	return Response{Status: m.status, Reason: m.reason, Version: m.version, Headers: slices.Clone(m.headers), Body: m.body}
}

// headerTable builds the table HAProxy returns for headers: lower-cased names mapped
// to their values keyed from 0.
func headerTable(L *lua.LState, headers []Header) *lua.LTable {
	tbl := L.NewTable()
	for _, hdr := range headers {
		name := strings.ToLower(hdr.Name)
		inner, ok := tbl.RawGetString(name).(*lua.LTable)
		if !ok {
			inner = L.NewTable()
			tbl.RawSetString(name, inner)
		}
		pos := 0
		inner.ForEach(func(lua.LValue, lua.LValue) { pos++ })
		inner.RawSet(lua.LNumber(pos), lua.LString(hdr.Value))
	}
	return tbl
}

func (m *message) addHeader(name, value string) {
	m.headers = append(m.headers, Header{Name: name, Value: value})
}

func (m *message) delHeader(name string) {
	m.headers = slices.DeleteFunc(m.headers, func(h Header) bool { return strings.EqualFold(h.Name, name) })
}

func (m *message) setHeader(name, value string) {
	m.delHeader(name)
	m.addHeader(name, value)
}

var backReference = regexp.MustCompile(`\\([0-9])`)

// repHeader replaces the matches of expr in every value of name. The replacement uses
// HAProxy back references, \1 to \9.
func (m *message) repHeader(name, expr, replace string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return err
	}
	replace = backReference.ReplaceAllString(replace, "$${$1}")
	for i := range m.headers {
		if strings.EqualFold(m.headers[i].Name, name) {
			m.headers[i].Value = re.ReplaceAllString(m.headers[i].Value, replace)
		}
	}
	return nil
}

func (m *message) setStatus(status int, reason string) error {
	if status < 100 || status > 999 {
		return errInvalidStatus
	}
	m.status = status
	m.reason = orDefault(reason, http.StatusText(status))
	return nil
}

func (m *message) setURI(uri string) {
	path, query, _ := strings.Cut(uri, "?")
	m.path, m.query = path, query
}

func (m *message) uri() string {
	if m.query == "" {
		return m.path
	}
	return m.path + "?" + m.query
}

func (m *message) startLine(L *lua.LState) *lua.LTable {
	tbl := L.NewTable()
	if m.resp {
		tbl.RawSetString("version", lua.LString(m.version))
		tbl.RawSetString("code", lua.LString(itoa(m.status)))
		tbl.RawSetString("reason", lua.LString(m.reason))
	} else {
		tbl.RawSetString("method", lua.LString(m.method))
		tbl.RawSetString("uri", lua.LString(m.uri()))
		tbl.RawSetString("version", lua.LString(m.version))
	}
	return tbl
}

// bodySlice returns length bytes from offset, everything after offset when length is negative.
func (m *message) bodySlice(offset, length int) string {
	if offset < 0 || offset >= len(m.body) {
		return ""
	}
	rest := m.body[offset:]
	if length < 0 || length >= len(rest) {
		return rest
	}
	return rest[:length]
}

// messageMethods are the methods of an HTTPMessage object. get returns the message or
// raises when it is not available in the current phase.
func messageMethods(get func(L *lua.LState) *message) map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"get_headers": func(L *lua.LState) int {
			L.Push(headerTable(L, get(L).headers))
			return 1
		},
		"add_header": func(L *lua.LState) int {
			get(L).addHeader(L.CheckString(2), checkText(L, 3))
			return 0
		},
		"del_header": func(L *lua.LState) int {
			get(L).delHeader(L.CheckString(2))
			return 0
		},
		"set_header": func(L *lua.LState) int {
			get(L).setHeader(L.CheckString(2), checkText(L, 3))
			return 0
		},
		"rep_header": func(L *lua.LState) int {
			if err := get(L).repHeader(L.CheckString(2), L.CheckString(3), L.CheckString(4)); err != nil {
				L.ArgError(3, err.Error())
			}
			return 0
		},
		"get_stline": func(L *lua.LState) int {
			L.Push(get(L).startLine(L))
			return 1
		},
		"body": func(L *lua.LState) int {
			L.Push(lua.LString(get(L).bodySlice(L.OptInt(2, 0), L.OptInt(3, -1))))
			return 1
		},
		"is_resp": func(L *lua.LState) int {
			L.Push(lua.LBool(get(L).resp))
			return 1
		},
		"set_status": func(L *lua.LState) int {
			m := get(L)
			if !m.resp {
				L.RaiseError("set_status: not a response")
			}
			if err := m.setStatus(L.CheckInt(2), L.OptString(3, "")); err != nil {
				L.ArgError(2, err.Error())
			}
			return 0
		},
		"set_method": func(L *lua.LState) int {
			get(L).method = L.CheckString(2)
			return 0
		},
		"set_path": func(L *lua.LState) int {
			get(L).path = L.CheckString(2)
			return 0
		},
		"set_query": func(L *lua.LState) int {
			get(L).query = strings.TrimPrefix(L.CheckString(2), "?")
			return 0
		},
		"set_uri": func(L *lua.LState) int {
			get(L).setURI(L.CheckString(2))
			return 0
		},
	}
}

// checkText accepts strings and numbers, as HAProxy does for header values.
func checkText(L *lua.LState, n int) string {
	switch v := L.Get(n).(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return v.String()
	}
	L.TypeError(n, lua.LTString)
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
