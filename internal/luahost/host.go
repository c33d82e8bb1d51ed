// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package luahost emulates the Lua API of HAProxy on a gopher-lua state: the core
// object, transactions with their HTTP objects, fetches and converters, HTTP applets,
// and a topology of proxies, servers, listeners and stick tables.
//
// It runs the hooks a Lua module registers the way HAProxy would, but it is not an
// HTTP engine: requests and responses are values given by the caller and nothing is
// ever forwarded.
//
// A Host is not safe for concurrent use. Use one Host per goroutine, like HAProxy
// uses one Lua state per thread with lua-load-per-thread.
package luahost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
)

// Processing points of actions, as given to core.register_action.
const (
	ActionTCPReq       = "tcp-req"
	ActionTCPRes       = "tcp-res"
	ActionHTTPReq      = "http-req"
	ActionHTTPRes      = "http-res"
	ActionHTTPAfterRes = "http-after-res"
)

var (
	actionPoints = []string{ActionTCPReq, ActionTCPRes, ActionHTTPReq, ActionHTTPRes, ActionHTTPAfterRes}
	levelNames   = []string{"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}
)

// ErrUnknownService is returned by Serve for a service that is not registered.
var ErrUnknownService = errors.New("unknown service")

type action struct {
	name   string
	points []string
	fn     *lua.LFunction
	nbArgs int
}

type service struct {
	mode string
	fn   *lua.LFunction
}

// Host is an emulated HAProxy Lua runtime.
type Host struct {
	// L is the state scripts and modules run in.
	L *lua.LState

	logger     *slog.Logger
	uniqueID   func() string
	proxyCfgs  []ProxyConfig
	core       *lua.LTable
	actions    []*action
	services   map[string]*service
	fetches    map[string]*lua.LFunction
	converters map[string]*lua.LFunction
	inits      []*lua.LFunction
	procVars   map[string]lua.LValue
	logs       []LogEntry
	proxies    []*proxy
	subs       []*subscription
}

// Option configures a Host.
type Option func(*Host)

// WithLogger forwards every log line of the scripts to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithProxies sets the topology exposed through core.proxies.
func WithProxies(proxies ...ProxyConfig) Option {
	return func(h *Host) { h.proxyCfgs = append(h.proxyCfgs, proxies...) }
}

// WithUniqueID replaces the generator of the unique_id fetch.
func WithUniqueID(fn func() string) Option {
	return func(h *Host) { h.uniqueID = fn }
}

// New creates a Host with a fresh state. It fails if the topology is inconsistent.
func New(opts ...Option) (*Host, error) {
	h := &Host{
		L:          lua.NewState(),
		logger:     slog.New(slog.DiscardHandler),
		uniqueID:   uuid.NewString,
		services:   make(map[string]*service),
		fetches:    make(map[string]*lua.LFunction),
		converters: make(map[string]*lua.LFunction),
		procVars:   make(map[string]lua.LValue),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.core = h.newCore()
	if err := h.buildTopology(); err != nil {
		h.L.Close()
		return nil, err
	}
	h.L.SetGlobal("core", h.core)
	return h, nil
}

// Close releases the state.
func (h *Host) Close() { h.L.Close() }

// DoString runs src in the state.
func (h *Host) DoString(src string) error { return h.L.DoString(src) }

// Require loads the module name, which must have been preloaded.
func (h *Host) Require(name string) error {
	return h.L.CallByParam(lua.P{Fn: h.L.GetGlobal("require"), NRet: 0, Protect: true}, lua.LString(name))
}

// Init runs the functions registered with core.register_init, in order.
func (h *Host) Init() error {
	var errs []error
	for _, fn := range h.inits {
		if _, err := h.call(fn, 0); err != nil {
			errs = append(errs, fmt.Errorf("init: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Logs returns the lines logged so far.
func (h *Host) Logs() []LogEntry { return slices.Clone(h.logs) }

// Actions returns the names of the actions registered for point, in registration order.
func (h *Host) Actions(point string) []string {
	var names []string
	for _, a := range h.actions {
		if slices.Contains(a.points, point) {
			names = append(names, a.name)
		}
	}
	return names
}

// Services returns the names of the registered services.
func (h *Host) Services() []string {
	names := make([]string, 0, len(h.services))
	for name := range h.services {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Convert runs the converter registered as name on input.
func (h *Host) Convert(name string, input lua.LValue, args ...string) (lua.LValue, error) {
	fn, ok := h.converters[name]
	if !ok {
		return lua.LNil, fmt.Errorf("unknown converter %q", name)
	}
	rets, err := h.call(fn, 1, append([]lua.LValue{input}, stringValues(args)...)...)
	if err != nil {
		return lua.LNil, err
	}
	return rets[0], nil
}

func (h *Host) log(source string, level int, msg string) {
	h.logs = append(h.logs, LogEntry{Level: level, Source: source, Message: msg})
	var sl slog.Level
	switch {
	case level <= 3:
		sl = slog.LevelError
	case level == 4:
		sl = slog.LevelWarn
	case level <= 6:
		sl = slog.LevelInfo
	default:
		sl = slog.LevelDebug
	}
	h.logger.Log(context.Background(), sl, msg, "source", source, "level", levelNames[level])
}

// call runs fn with args and returns exactly nret results.
func (h *Host) call(fn lua.LValue, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	L := h.L
	top := L.GetTop()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		L.SetTop(top)
		return nil, err
	}
	rets := make([]lua.LValue, nret)
	for i := range rets {
		rets[i] = L.Get(top + i + 1)
	}
	L.SetTop(top)
	return rets, nil
}

func (h *Host) newCore() *lua.LTable {
	L := h.L
	core := L.NewTable()
	for i, name := range levelNames {
		core.RawSetString(name, lua.LNumber(i))
	}
	fns := map[string]lua.LGFunction{
		"register_action":     h.registerAction,
		"register_service":    h.registerService,
		"register_fetches":    h.registerFetches,
		"register_converters": h.registerConverters,
		"register_init":       h.registerInit,
		"log":                 h.coreLog,
		"event_sub":           h.coreEventSub,
		"Alert":               h.coreLogAt(1),
		"Warning":             h.coreLogAt(4),
		"Info":                h.coreLogAt(6),
		"Debug":               h.coreLogAt(7),
	}
	for name, fn := range fns {
		core.RawSetString(name, L.NewFunction(fn))
	}
	return core
}

func (h *Host) registerAction(L *lua.LState) int {
	name := L.CheckString(1)
	points := L.CheckTable(2)
	fn := L.CheckFunction(3)
	nbArgs := L.OptInt(4, 0)

	a := &action{name: name, fn: fn, nbArgs: nbArgs}
	for i := 1; i <= points.Len(); i++ {
		p := lua.LVAsString(points.RawGetInt(i))
		if !slices.Contains(actionPoints, p) {
			L.RaiseError("register_action: unknown action type %q", p)
		}
		a.points = append(a.points, p)
	}
	h.actions = slices.DeleteFunc(h.actions, func(old *action) bool { return old.name == name })
	h.actions = append(h.actions, a)
	return 0
}

func (h *Host) registerService(L *lua.LState) int {
	name := L.CheckString(1)
	mode := L.CheckString(2)
	fn := L.CheckFunction(3)
	if mode != "tcp" && mode != "http" {
		L.RaiseError("register_service: unknown mode %q, expected 'tcp' or 'http'", mode)
	}
	h.services[name] = &service{mode: mode, fn: fn}
	return 0
}

func (h *Host) registerFetches(L *lua.LState) int {
	h.fetches[L.CheckString(1)] = L.CheckFunction(2)
	return 0
}

func (h *Host) registerConverters(L *lua.LState) int {
	h.converters[L.CheckString(1)] = L.CheckFunction(2)
	return 0
}

func (h *Host) registerInit(L *lua.LState) int {
	h.inits = append(h.inits, L.CheckFunction(1))
	return 0
}

func (h *Host) coreLog(L *lua.LState) int {
	level := checkLevel(L, 1)
	h.log("core", level, L.CheckString(2))
	return 0
}

func (h *Host) coreLogAt(level int) lua.LGFunction {
	return func(L *lua.LState) int {
		h.log("core", level, L.CheckString(1))
		return 0
	}
}

func checkLevel(L *lua.LState, n int) int {
	level := L.CheckInt(n)
	if level < 0 || level >= len(levelNames) {
		L.ArgError(n, "Invalid loglevel.")
	}
	return level
}

func stringValues(args []string) []lua.LValue {
	out := make([]lua.LValue, len(args))
	for i, a := range args {
		out[i] = lua.LString(a)
	}
	return out
}

// newObject creates a class instance: a table whose metatable resolves methods.
func newObject(L *lua.LState, methods map[string]lua.LGFunction) *lua.LTable {
	class := L.NewTable()
	for name, fn := range methods {
		class.RawSetString(name, L.NewFunction(fn))
	}
	mt := L.NewTable()
	mt.RawSetString("__index", class)
	obj := L.NewTable()
	L.SetMetatable(obj, mt)
	return obj
}
