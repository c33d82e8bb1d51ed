// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package luahost

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Serve runs the HTTP service name for req and returns the response it produced.
// A service that fails still returns what it produced before failing.
func (h *Host) Serve(name string, req Request) (Response, error) {
	svc, ok := h.services[name]
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	if svc.mode != "http" {
		return Response{}, fmt.Errorf("service %q is a %s service", name, svc.mode)
	}
	a := &applet{req: newRequestMessage(req), res: newResponseMessage(Response{})}
	_, err := h.call(svc.fn, 0, a.table(h.L))
	return a.res.response(), err
}

type applet struct {
	req     *message
	res     *message
	started bool
	read    int
	body    strings.Builder
}

func (a *applet) table(L *lua.LState) *lua.LTable {
	obj := newObject(L, map[string]lua.LGFunction{
		"set_status": func(L *lua.LState) int {
			if err := a.res.setStatus(L.CheckInt(2), L.OptString(3, "")); err != nil {
				L.ArgError(2, err.Error())
			}
			return 0
		},
		"add_header": func(L *lua.LState) int {
			if a.started {
				L.RaiseError("add_header: response already started")
			}
			a.res.addHeader(L.CheckString(2), checkText(L, 3))
			return 0
		},
		"start_response": func(L *lua.LState) int {
			a.started = true
			return 0
		},
		"send": func(L *lua.LState) int {
			if !a.started {
				L.RaiseError("send: start_response was not called")
			}
			a.body.WriteString(checkText(L, 2))
			a.res.body = a.body.String()
			return 0
		},
		"receive": func(L *lua.LState) int {
			rest := a.req.bodySlice(a.read, L.OptInt(2, -1))
			a.read += len(rest)
			L.Push(lua.LString(rest))
			return 1
		},
		"getline": func(L *lua.LState) int {
			rest := a.req.bodySlice(a.read, -1)
			if i := strings.IndexByte(rest, '\n'); i >= 0 {
				rest = rest[:i+1]
			}
			a.read += len(rest)
			L.Push(lua.LString(rest))
			return 1
		},
	})
	obj.RawSetString("method", lua.LString(a.req.method))
	obj.RawSetString("path", lua.LString(a.req.path))
	obj.RawSetString("qs", lua.LString(a.req.query))
	obj.RawSetString("version", lua.LString(a.req.version))
	obj.RawSetString("length", lua.LNumber(len(a.req.body)))
	obj.RawSetString("headers", headerTable(L, a.req.headers))
	return obj
}
