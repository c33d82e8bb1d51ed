// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	"log/slog"

	lua "github.com/yuin/gopher-lua"

	"github.com/hapgo/hapi/marshal"
)

// ActionFunc is run by an action registered with [Core.RegisterAction]. args are the
// arguments given to the action in the configuration.
type ActionFunc func(txn Txn, args []string) error

// FetchFunc computes the value of a sample fetch registered with [Core.RegisterFetch].
type FetchFunc func(txn Txn, args []string) (any, error)

// ConverterFunc transforms input in a converter registered with [Core.RegisterConverter].
type ConverterFunc func(input lua.LValue, args []string) (any, error)

// Core is the "core" global: registration of Lua extensions, logging and access to the proxies.
//
// Callbacks registered through Core run on the state that calls them. An error returned by
// a callback is raised as a host error, which aborts the current hook only.
type Core struct {
	Handle
}

// GetCore returns the core object of L.
func GetCore(L *lua.LState) (Core, error) {
	h, err := NewHandle(L, L.GetGlobal("core"))
	if err != nil {
		return Core{}, &HostCallError{Member: "core", Err: err}
	}
	return Core{Handle: h}, nil
}

// RegisterAction registers fn as the action name for the given processing points.
// nbArgs is the number of arguments the action takes in the configuration.
func (c Core) RegisterAction(name string, actions []Action, nbArgs int, fn ActionFunc) error {
	cb := func(L *lua.LState) int {
		txn, err := NewTxn(L, L.Get(1))
		if err == nil {
			err = fn(txn, stringArgs(L, 2))
		}
		raiseIfErr(L, err)
		return 0
	}
	return c.invokeFunction("register_action", name, actions, lua.LGFunction(cb), nbArgs)
}

// RegisterService registers fn as the service name. fn receives the applet object,
// use [RegisterHTTPService] to get a typed HTTP applet.
func (c Core) RegisterService(name string, mode ServiceMode, fn func(applet Handle) error) error {
	cb := func(L *lua.LState) int {
		applet, err := NewHandle(L, L.Get(1))
		if err == nil {
			err = fn(applet)
		}
		raiseIfErr(L, err)
		return 0
	}
	return c.invokeFunction("register_service", name, mode, lua.LGFunction(cb))
}

// RegisterHTTPService registers fn as the HTTP service name.
func (c Core) RegisterHTTPService(name string, fn func(AppletHTTP) error) error {
	return c.RegisterService(name, ServiceModeHTTP, func(h Handle) error {
		return fn(AppletHTTP{Handle: h})
	})
}

// RegisterFetch registers fn as the sample fetch name. It is available as "lua.<name>" in the configuration.
func (c Core) RegisterFetch(name string, fn FetchFunc) error {
	cb := func(L *lua.LState) int {
		txn, err := NewTxn(L, L.Get(1))
		var ret lua.LValue = lua.LNil
		if err == nil {
			v, ferr := fn(txn, stringArgs(L, 2))
			ret, err = encodeResult(L, v, ferr)
		}
		raiseIfErr(L, err)
		L.Push(ret)
		return 1
	}
	return c.invokeFunction("register_fetches", name, lua.LGFunction(cb))
}

// RegisterConverter registers fn as the converter name. It is available as "lua.<name>" in the configuration.
func (c Core) RegisterConverter(name string, fn ConverterFunc) error {
	cb := func(L *lua.LState) int {
		v, err := fn(L.Get(1), stringArgs(L, 2))
		ret, err := encodeResult(L, v, err)
		raiseIfErr(L, err)
		L.Push(ret)
		return 1
	}
	return c.invokeFunction("register_converters", name, lua.LGFunction(cb))
}

// RegisterInit registers fn to run once the configuration is parsed.
func (c Core) RegisterInit(fn func() error) error {
	cb := func(L *lua.LState) int {
		raiseIfErr(L, fn())
		return 0
	}
	return c.invokeFunction("register_init", lua.LGFunction(cb))
}

// Log sends msg to the global log servers at level.
func (c Core) Log(level LogLevel, msg string) error {
	return c.invokeFunction("log", level, msg)
}

// Logger returns a slog.Logger writing through [Core.Log], dropping records below minLevel.
func (c Core) Logger(minLevel slog.Level) *slog.Logger {
	return NewLogger(c.Log, minLevel)
}

// Proxies returns every proxy, indexed by name.
func (c Core) Proxies() (map[string]Proxy, error) {
	return Field[map[string]Proxy](c.Handle, "proxies")
}

// Backends returns the proxies with the backend capability, indexed by name.
func (c Core) Backends() (map[string]Proxy, error) {
	return Field[map[string]Proxy](c.Handle, "backends")
}

// Frontends returns the proxies with the frontend capability, indexed by name.
func (c Core) Frontends() (map[string]Proxy, error) {
	return Field[map[string]Proxy](c.Handle, "frontends")
}

func (c Core) invokeFunction(name string, args ...any) error {
	_, err := c.call(name, false, args)
	return err
}

func stringArgs(L *lua.LState, from int) []string {
	var args []string
	for i := from; i <= L.GetTop(); i++ {
		args = append(args, lua.LVAsString(L.Get(i)))
	}
	return args
}

func encodeResult(L *lua.LState, v any, err error) (lua.LValue, error) {
	if err != nil {
		return lua.LNil, err
	}
	return marshal.Encode(L, v)
}

func raiseIfErr(L *lua.LState, err error) {
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
}
