// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package luahost

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

var (
	errInvalidStatus = errors.New("invalid status code")
	// errDone is raised by txn:done() to unwind the running action.
	errDone = errors.New("transaction done")
)

// ActionError reports a failed action. HAProxy logs such failures and carries on with
// the transaction, and so does Txn.Run.
type ActionError struct {
	Action string
	Err    error
}

// Error implements the error interface.
func (e *ActionError) Error() string { return fmt.Sprintf("action %q failed: %v", e.Action, e.Err) }

// Unwrap returns the underlying cause.
func (e *ActionError) Unwrap() error { return e.Err }

// Txn is an emulated transaction.
type Txn struct {
	host     *Host
	req      *message
	res      *message
	vars     map[string]lua.LValue
	priv     lua.LValue
	logLevel int
	done     bool
	uniqueID string
	table    *lua.LTable
}

// NewTxn starts a transaction for req. The response is not available until SetResponse.
func (h *Host) NewTxn(req Request) *Txn {
	t := &Txn{
		host:     h,
		req:      newRequestMessage(req),
		vars:     make(map[string]lua.LValue),
		priv:     lua.LNil,
		logLevel: -1,
	}
	t.table = t.newTable()
	return t
}

// Transact runs the request actions on req, then the response and after-response
// actions on res. Failed actions are reported but do not stop the transaction.
func (h *Host) Transact(req Request, res Response) (*Txn, error) {
	t := h.NewTxn(req)
	errReq := t.Run(ActionHTTPReq)
	t.SetResponse(res)
	errRes := t.Run(ActionHTTPRes)
	errAfter := t.Run(ActionHTTPAfterRes)
	return t, errors.Join(errReq, errRes, errAfter)
}

// Table returns the txn object given to actions.
func (t *Txn) Table() *lua.LTable { return t.table }

// SetResponse makes res available to the transaction.
func (t *Txn) SetResponse(res Response) { t.res = newResponseMessage(res) }

// Run runs the actions registered for point in registration order, passing args to
// each of them. It stops early once txn:done() has been called.
func (t *Txn) Run(point string, args ...string) error {
	var errs []error
	for _, a := range t.host.actions {
		if t.done {
			break
		}
		if !slices.Contains(a.points, point) {
			continue
		}
		callArgs := append([]lua.LValue{t.table}, stringValues(args)...)
		if _, err := t.host.call(a.fn, 0, callArgs...); err != nil && !t.done {
			errs = append(errs, &ActionError{Action: a.name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Fetch runs the sample fetch registered as name for this transaction.
func (t *Txn) Fetch(name string, args ...string) (lua.LValue, error) {
	fn, ok := t.host.fetches[name]
	if !ok {
		return lua.LNil, fmt.Errorf("unknown fetch %q", name)
	}
	rets, err := t.host.call(fn, 1, append([]lua.LValue{t.table}, stringValues(args)...)...)
	if err != nil {
		return lua.LNil, err
	}
	return rets[0], nil
}

// Request returns the request, with the changes made by the actions.
func (t *Txn) Request() Request { return t.req.request() }

// Response returns the response, with the changes made by the actions.
func (t *Txn) Response() Response {
	if t.res == nil {
		return Response{}
	}
	return t.res.response()
}

// Var returns the variable name, lua.LNil if it is not set.
func (t *Txn) Var(name string) lua.LValue {
	store, err := t.scope(name)
	if err != nil {
		return lua.LNil
	}
	if v, ok := store[name]; ok {
		return v
	}
	return lua.LNil
}

// Vars returns the variables of the transaction, without the proc scope.
func (t *Txn) Vars() map[string]lua.LValue { return maps.Clone(t.vars) }

// Priv returns the value stored with txn:set_priv.
func (t *Txn) Priv() lua.LValue { return t.priv }

// LogLevel returns the level set with txn:set_loglevel, -1 if none was set.
func (t *Txn) LogLevel() int { return t.logLevel }

// Done reports whether txn:done() was called.
func (t *Txn) Done() bool { return t.done }

// scope returns the store of the variable name.
func (t *Txn) scope(name string) (map[string]lua.LValue, error) {
	scope, rest, ok := strings.Cut(name, ".")
	if !ok || rest == "" {
		return nil, fmt.Errorf("invalid variable name %q", name)
	}
	switch scope {
	case "proc":
		return t.host.procVars, nil
	case "sess", "txn", "req", "res":
		return t.vars, nil
	}
	return nil, fmt.Errorf("invalid variable name %q: unknown scope %q", name, scope)
}

// toSample converts v the way HAProxy stores a Lua value into a variable: numbers
// become integers, strings and booleans are kept.
func toSample(v lua.LValue) (lua.LValue, error) {
	switch x := v.(type) {
	case lua.LNumber:
		return lua.LNumber(math.Trunc(float64(x))), nil
	case lua.LString, lua.LBool:
		return x, nil
	}
	return lua.LNil, fmt.Errorf("unsupported variable type %s", v.Type())
}

func (t *Txn) request(*lua.LState) *message { return t.req }

func (t *Txn) response(L *lua.LState) *message {
	if t.res == nil {
		L.RaiseError("the response is not available yet")
	}
	return t.res
}

func (t *Txn) newTable() *lua.LTable {
	L := t.host.L
	obj := newObject(L, map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			t.host.log("txn", checkLevel(L, 2), L.CheckString(3))
			return 0
		},
		"deflog": func(L *lua.LState) int {
			t.host.log("txn", 6, L.CheckString(2))
			return 0
		},
		"get_priv": func(L *lua.LState) int {
			L.Push(t.priv)
			return 1
		},
		"set_priv": func(L *lua.LState) int {
			t.priv = L.Get(2)
			return 0
		},
		"get_var": func(L *lua.LState) int {
			name := L.CheckString(2)
			store, err := t.scope(name)
			if err != nil {
				L.Push(lua.LNil)
				return 1
			}
			if v, ok := store[name]; ok {
				L.Push(v)
			} else {
				L.Push(lua.LNil)
			}
			return 1
		},
		"set_var": func(L *lua.LState) int {
			name := L.CheckString(2)
			store, err := t.scope(name)
			if err != nil {
				L.ArgError(2, err.Error())
			}
			onlyIfExists := lua.LVAsBool(L.Get(4))
			if _, ok := store[name]; onlyIfExists && !ok {
				return 0
			}
			v, err := toSample(L.Get(3))
			if err != nil {
				L.ArgError(3, err.Error())
			}
			store[name] = v
			return 0
		},
		"unset_var": func(L *lua.LState) int {
			name := L.CheckString(2)
			store, err := t.scope(name)
			if err != nil {
				L.ArgError(2, err.Error())
			}
			delete(store, name)
			return 0
		},
		"set_loglevel": func(L *lua.LState) int {
			t.logLevel = checkLevel(L, 2)
			return 0
		},
		"done": func(L *lua.LState) int {
			t.done = true
			L.RaiseError("%s", errDone.Error())
			return 0
		},
	})
	obj.RawSetString("f", t.newFetches())
	obj.RawSetString("c", t.host.newConverters())
	obj.RawSetString("http", t.newHTTP())
	obj.RawSetString("http_req", newObject(L, messageMethods(t.request)))
	obj.RawSetString("http_res", newObject(L, messageMethods(t.response)))
	return obj
}

// newHTTP builds the HTTP object, which reaches both messages through prefixed methods.
func (t *Txn) newHTTP() *lua.LTable {
	methods := map[string]lua.LGFunction{
		"req_set_method": func(L *lua.LState) int { t.req.method = L.CheckString(2); return 0 },
		"req_set_path":   func(L *lua.LState) int { t.req.path = L.CheckString(2); return 0 },
		"req_set_query": func(L *lua.LState) int {
			t.req.query = strings.TrimPrefix(L.CheckString(2), "?")
			return 0
		},
		"req_set_uri": func(L *lua.LState) int { t.req.setURI(L.CheckString(2)); return 0 },
		"res_set_status": func(L *lua.LState) int {
			if err := t.response(L).setStatus(L.CheckInt(2), L.OptString(3, "")); err != nil {
				L.ArgError(2, err.Error())
			}
			return 0
		},
	}
	for prefix, get := range map[string]func(*lua.LState) *message{"req_": t.request, "res_": t.response} {
		shared := messageMethods(get)
		for _, name := range []string{"add_header", "del_header", "set_header", "rep_header"} {
			methods[prefix+name] = shared[name]
		}
		methods[prefix+"get_headers"] = shared["get_headers"]
	}
	return newObject(t.host.L, methods)
}

func itoa(i int) string { return strconv.Itoa(i) }
