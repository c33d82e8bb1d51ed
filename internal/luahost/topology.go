// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package luahost

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Server events, as given to event_sub.
const (
	EventServerUp   = "SERVER_UP"
	EventServerDown = "SERVER_DOWN"
	EventServerAdd  = "SERVER_ADD"
	EventServerDel  = "SERVER_DEL"
	// EventServer subscribes to every server event.
	EventServer = "SERVER"
)

var serverEvents = []string{EventServer, EventServerAdd, EventServerDel, EventServerUp, EventServerDown}

type proxy struct {
	cfg       ProxyConfig
	id        int
	state     string
	servers   []*server
	listeners []*lua.LTable
	obj       *lua.LTable
}

type server struct {
	proxy         *proxy
	name          string
	puid          int
	rid           int
	addr          string
	port          int
	weight        int
	initialWeight int
	maxconn       int
	backup        bool
	dynamic       bool
	// admin is "ready", "maint" or "drain".
	admin string
	// check is "up", "down" or "nolb".
	check        string
	checkEnabled bool
	agent        string
	agentEnabled bool
	curSess      int
	pendConn     int
	tracking     *server
	trackers     []*server
	subs         []*subscription
	obj          *lua.LTable
}

type subscription struct {
	types  []string
	fn     *lua.LFunction
	active bool
}

func (s *subscription) wants(event string) bool {
	return s.active && (slices.Contains(s.types, event) || slices.Contains(s.types, EventServer))
}

func (h *Host) buildTopology() error {
	L := h.L
	all, backends, frontends := L.NewTable(), L.NewTable(), L.NewTable()
	byName := make(map[string]*proxy)
	for i, cfg := range h.proxyCfgs {
		if cfg.Name == "" {
			return fmt.Errorf("proxy #%d has no name", i+1)
		}
		if _, dup := byName[cfg.Name]; dup {
			return fmt.Errorf("duplicate proxy %q", cfg.Name)
		}
		cfg.Capability = orDefault(cfg.Capability, "proxy")
		cfg.Mode = orDefault(cfg.Mode, "http")
		p := &proxy{cfg: cfg, id: cfg.ID, state: "OPEN"}
		if p.id == 0 {
			p.id = i + 1
		}
		for j, scfg := range cfg.Servers {
			weight := 1
			if scfg.Weight != nil {
				weight = *scfg.Weight
			}
			p.servers = append(p.servers, &server{
				proxy: p, name: scfg.Name, puid: j + 1, addr: scfg.Addr, port: scfg.Port,
				weight: weight, initialWeight: weight, maxconn: scfg.MaxConn,
				backup: scfg.Backup, dynamic: scfg.Dynamic,
				admin: "ready", check: "up", agent: "up",
				curSess: scfg.Sessions, pendConn: scfg.Pending,
			})
		}
		byName[cfg.Name] = p
		h.proxies = append(h.proxies, p)
	}

	// Tracking can point at any proxy, so it is resolved once every server exists.
	for _, p := range h.proxies {
		for i, scfg := range p.cfg.Servers {
			if scfg.Track == "" {
				continue
			}
			pxName, srvName, ok := strings.Cut(scfg.Track, "/")
			if !ok {
				pxName, srvName = p.cfg.Name, scfg.Track
			}
			target := findServer(byName[pxName], srvName)
			if target == nil {
				return fmt.Errorf("server %s/%s tracks unknown server %q", p.cfg.Name, scfg.Name, scfg.Track)
			}
			p.servers[i].tracking = target
			target.trackers = append(target.trackers, p.servers[i])
		}
	}

	for _, p := range h.proxies {
		p.obj = h.proxyObject(p)
		all.RawSetString(p.cfg.Name, p.obj)
		if p.cfg.Capability == "backend" || p.cfg.Capability == "proxy" {
			backends.RawSetString(p.cfg.Name, p.obj)
		}
		if p.cfg.Capability == "frontend" || p.cfg.Capability == "proxy" {
			frontends.RawSetString(p.cfg.Name, p.obj)
		}
	}
	h.core.RawSetString("proxies", all)
	h.core.RawSetString("backends", backends)
	h.core.RawSetString("frontends", frontends)
	return nil
}

func findServer(p *proxy, name string) *server {
	if p == nil {
		return nil
	}
	for _, s := range p.servers {
		if s.name == name {
			return s
		}
	}
	return nil
}

// ServerStatus returns the state of a server as "UP", "DOWN", "NOLB", "DRAIN" or "MAINT".
// It returns "" for an unknown server.
func (h *Host) ServerStatus(proxyName, serverName string) string {
	for _, p := range h.proxies {
		if p.cfg.Name == proxyName {
			if s := findServer(p, serverName); s != nil {
				return s.status()
			}
		}
	}
	return ""
}

// ProxyState returns "OPEN", "PAUSED" or "STOP", or "" for an unknown proxy.
func (h *Host) ProxyState(name string) string {
	for _, p := range h.proxies {
		if p.cfg.Name == name {
			return p.state
		}
	}
	return ""
}

func (s *server) status() string {
	if s.admin == "maint" {
		return "MAINT"
	}
	check := s.check
	if s.tracking != nil {
		check = s.tracking.check
	}
	switch {
	case check == "down" || (s.agentEnabled && s.agent == "down"):
		return "DOWN"
	case s.admin == "drain":
		return "DRAIN"
	case check == "nolb":
		return "NOLB"
	}
	return "UP"
}

func (s *server) up() bool {
	st := s.status()
	return st == "UP" || st == "NOLB" || st == "DRAIN"
}

// eligible reports whether the server takes new traffic from load balancing.
func (s *server) eligible() bool { return s.status() == "UP" && s.weight > 0 }

// change applies fn and publishes the transitions it caused on s and its trackers.
func (h *Host) change(s *server, fn func()) {
	affected := append([]*server{s}, s.trackers...)
	before := make([]bool, len(affected))
	for i, a := range affected {
		before[i] = a.up()
	}
	fn()
	for i, a := range affected {
		if now := a.up(); now != before[i] {
			event := EventServerDown
			if now {
				event = EventServerUp
			}
			h.publish(a, event)
		}
	}
}

func (h *Host) publish(s *server, event string) {
	data := h.L.NewTable()
	data.RawSetString("name", lua.LString(s.name))
	data.RawSetString("puid", lua.LNumber(s.puid))
	data.RawSetString("rid", lua.LNumber(s.rid))
	data.RawSetString("proxy_name", lua.LString(s.proxy.cfg.Name))
	data.RawSetString("proxy_uuid", lua.LNumber(s.proxy.id))
	for _, sub := range slices.Concat(s.subs, h.subs) {
		if !sub.wants(event) {
			continue
		}
		if _, err := h.call(sub.fn, 0, lua.LString(event), data); err != nil {
			h.log("event", 3, fmt.Sprintf("event handler for %s failed: %v", event, err))
		}
	}
}

// eventSub implements event_sub. The subscription list is the server's when s is not nil.
func (h *Host) eventSub(L *lua.LState, s *server) int {
	arg := 1
	if s != nil && L.Get(1) == s.obj {
		arg = 2
	}
	types := L.CheckTable(arg)
	fn := L.CheckFunction(arg + 1)
	sub := &subscription{fn: fn, active: true}
	for i := 1; i <= types.Len(); i++ {
		name := lua.LVAsString(types.RawGetInt(i))
		if !slices.Contains(serverEvents, name) {
			L.ArgError(arg, fmt.Sprintf("unknown event type %q", name))
		}
		sub.types = append(sub.types, name)
	}
	if s != nil {
		s.subs = append(s.subs, sub)
	} else {
		h.subs = append(h.subs, sub)
	}
	L.Push(newObject(L, map[string]lua.LGFunction{
		"unsub": func(*lua.LState) int {
			sub.active = false
			return 0
		},
	}))
	return 1
}

func (h *Host) coreEventSub(L *lua.LState) int { return h.eventSub(L, nil) }

func (h *Host) proxyObject(p *proxy) *lua.LTable {
	L := h.L
	str := func(fn func() string) lua.LGFunction {
		return func(L *lua.LState) int { L.Push(lua.LString(fn())); return 1 }
	}
	countServers := func(backup bool) lua.LGFunction {
		return func(L *lua.LState) int {
			n := 0
			for _, s := range p.servers {
				if s.backup == backup && s.eligible() {
					n++
				}
			}
			L.Push(lua.LNumber(n))
			return 1
		}
	}
	obj := newObject(L, map[string]lua.LGFunction{
		"get_name":    str(func() string { return p.cfg.Name }),
		"get_uuid":    str(func() string { return strconv.Itoa(p.id) }),
		"get_cap":     str(func() string { return p.cfg.Capability }),
		"get_mode":    str(func() string { return p.cfg.Mode }),
		"get_srv_act": countServers(false),
		"get_srv_bck": countServers(true),
		"pause": func(*lua.LState) int {
			if p.state == "OPEN" {
				p.state = "PAUSED"
			}
			return 0
		},
		"resume": func(*lua.LState) int {
			if p.state == "PAUSED" {
				p.state = "OPEN"
			}
			return 0
		},
		"stop": func(*lua.LState) int {
			p.state = "STOP"
			return 0
		},
		"shut_bcksess": func(*lua.LState) int {
			for _, s := range p.servers {
				if s.backup {
					s.curSess = 0
				}
			}
			return 0
		},
		"get_stats": func(L *lua.LState) int {
			stats := L.NewTable()
			stats.RawSetString("pxname", lua.LString(p.cfg.Name))
			stats.RawSetString("iid", lua.LNumber(p.id))
			stats.RawSetString("status", lua.LString(p.state))
			scur, qcur := 0, 0
			for _, s := range p.servers {
				scur += s.curSess
				qcur += s.pendConn
			}
			stats.RawSetString("scur", lua.LNumber(scur))
			if p.cfg.Capability == "frontend" {
				stats.RawSetString("svname", lua.LString("FRONTEND"))
			} else {
				stats.RawSetString("svname", lua.LString("BACKEND"))
				stats.RawSetString("qcur", lua.LNumber(qcur))
				act, bck := 0, 0
				for _, s := range p.servers {
					if s.eligible() && s.backup {
						bck++
					} else if s.eligible() {
						act++
					}
				}
				stats.RawSetString("act", lua.LNumber(act))
				stats.RawSetString("bck", lua.LNumber(bck))
			}
			L.Push(stats)
			return 1
		},
	})

	servers := L.NewTable()
	for _, s := range p.servers {
		s.obj = h.serverObject(s)
		servers.RawSetString(s.name, s.obj)
	}
	obj.RawSetString("servers", servers)

	listeners := L.NewTable()
	for _, lc := range p.cfg.Listeners {
		listeners.RawSetString(lc.Name, listenerObject(L, p, lc))
	}
	obj.RawSetString("listeners", listeners)

	if p.cfg.StickTable != nil {
		obj.RawSetString("stktable", stickTableObject(L, p.cfg.StickTable))
	}
	return obj
}

func listenerObject(L *lua.LState, p *proxy, lc ListenerConfig) *lua.LTable {
	return newObject(L, map[string]lua.LGFunction{
		"get_stats": func(L *lua.LState) int {
			stats := L.NewTable()
			stats.RawSetString("pxname", lua.LString(p.cfg.Name))
			stats.RawSetString("svname", lua.LString(lc.Name))
			stats.RawSetString("addr", lua.LString(lc.Addr))
			stats.RawSetString("status", lua.LString(p.state))
			L.Push(stats)
			return 1
		},
	})
}

func (h *Host) serverObject(s *server) *lua.LTable {
	L := h.L
	set := func(fn func()) lua.LGFunction {
		return func(*lua.LState) int {
			h.change(s, fn)
			return 0
		}
	}
	num := func(fn func() int) lua.LGFunction {
		return func(L *lua.LState) int { L.Push(lua.LNumber(fn())); return 1 }
	}
	boolean := func(fn func() bool) lua.LGFunction {
		return func(L *lua.LState) int { L.Push(lua.LBool(fn())); return 1 }
	}
	return newObject(L, map[string]lua.LGFunction{
		"get_name": func(L *lua.LState) int { L.Push(lua.LString(s.name)); return 1 },
		"get_puid": func(L *lua.LState) int { L.Push(lua.LString(strconv.Itoa(s.puid))); return 1 },
		"get_rid":  num(func() int { return s.rid }),
		"get_addr": func(L *lua.LState) int {
			addr := s.addr
			if s.port != 0 {
				addr += ":" + strconv.Itoa(s.port)
			}
			L.Push(lua.LString(addr))
			return 1
		},
		"set_addr": func(L *lua.LState) int {
			s.addr = L.CheckString(2)
			if port := L.Get(3); port != lua.LNil {
				s.port = L.CheckInt(3)
			}
			return 0
		},
		"is_draining":   boolean(func() bool { return s.admin == "drain" }),
		"is_backup":     boolean(func() bool { return s.backup }),
		"is_dynamic":    boolean(func() bool { return s.dynamic }),
		"get_cur_sess":  num(func() int { return s.curSess }),
		"get_pend_conn": num(func() int { return s.pendConn }),
		"get_maxconn":   num(func() int { return s.maxconn }),
		"set_maxconn": func(L *lua.LState) int {
			n, err := strconv.Atoi(lua.LVAsString(L.CheckAny(2)))
			if err != nil || n < 0 {
				L.ArgError(2, "invalid maxconn")
			}
			s.maxconn = n
			return 0
		},
		"get_weight": num(func() int { return s.weight }),
		"set_weight": func(L *lua.LState) int {
			w, err := parseWeight(L.CheckString(2), s.initialWeight)
			if err != nil {
				L.ArgError(2, err.Error())
			}
			s.weight = w
			return 0
		},
		"get_stats": func(L *lua.LState) int {
			stats := L.NewTable()
			stats.RawSetString("pxname", lua.LString(s.proxy.cfg.Name))
			stats.RawSetString("svname", lua.LString(s.name))
			stats.RawSetString("status", lua.LString(s.status()))
			stats.RawSetString("weight", lua.LNumber(s.weight))
			stats.RawSetString("scur", lua.LNumber(s.curSess))
			stats.RawSetString("qcur", lua.LNumber(s.pendConn))
			stats.RawSetString("slim", lua.LNumber(s.maxconn))
			stats.RawSetString("addr", lua.LString(s.addr))
			L.Push(stats)
			return 1
		},
		"get_proxy": func(L *lua.LState) int { L.Push(s.proxy.obj); return 1 },
		"shut_sess": func(*lua.LState) int { s.curSess = 0; return 0 },
		"set_drain": set(func() { s.admin = "drain" }),
		"set_maint": set(func() { s.admin = "maint" }),
		"set_ready": set(func() { s.admin = "ready" }),
		"check_enable": set(func() {
			s.checkEnabled = true
		}),
		"check_disable":    set(func() { s.checkEnabled = false }),
		"check_force_up":   set(func() { s.check = "up" }),
		"check_force_nolb": set(func() { s.check = "nolb" }),
		"check_force_down": set(func() { s.check = "down" }),
		"agent_enable":     set(func() { s.agentEnabled = true }),
		"agent_disable":    set(func() { s.agentEnabled = false }),
		"agent_force_up":   set(func() { s.agent = "up" }),
		"agent_force_down": set(func() { s.agent = "down" }),
		"tracking": func(L *lua.LState) int {
			if s.tracking == nil {
				L.Push(lua.LNil)
			} else {
				L.Push(s.tracking.obj)
			}
			return 1
		},
		"get_trackers": func(L *lua.LState) int {
			tbl := L.CreateTable(len(s.trackers), 0)
			for _, t := range s.trackers {
				tbl.Append(t.obj)
			}
			L.Push(tbl)
			return 1
		},
		"event_sub": func(L *lua.LState) int { return h.eventSub(L, s) },
	})
}

// parseWeight parses an absolute weight or a percentage of the initial weight.
func parseWeight(s string, initial int) (int, error) {
	pct := strings.HasSuffix(s, "%")
	n, err := strconv.Atoi(strings.TrimSuffix(s, "%"))
	if err != nil {
		return 0, fmt.Errorf("invalid weight %q", s)
	}
	if pct {
		n = initial * n / 100
	}
	if n < 0 || n > 256 {
		return 0, fmt.Errorf("weight %q out of range [0, 256]", s)
	}
	return n, nil
}

var filterOps = []string{"eq", "ne", "le", "lt", "ge", "gt"}

func stickTableObject(L *lua.LState, cfg *StickTableConfig) *lua.LTable {
	entry := func(L *lua.LState, data map[string]int64) *lua.LTable {
		tbl := L.NewTable()
		tbl.RawSetString("expire", lua.LNumber(cfg.Expire))
		for k, v := range data {
			tbl.RawSetString(k, lua.LNumber(v))
		}
		return tbl
	}
	return newObject(L, map[string]lua.LGFunction{
		"info": func(L *lua.LState) int {
			info := L.NewTable()
			info.RawSetString("type", lua.LString(cfg.Type))
			info.RawSetString("length", lua.LNumber(cfg.Length))
			info.RawSetString("size", lua.LNumber(cfg.Size))
			info.RawSetString("used", lua.LNumber(len(cfg.Entries)))
			info.RawSetString("expire", lua.LNumber(cfg.Expire))
			data := L.NewTable()
			for k, v := range cfg.Data {
				data.RawSetString(k, lua.LNumber(v))
			}
			info.RawSetString("data", data)
			L.Push(info)
			return 1
		},
		"lookup": func(L *lua.LState) int {
			data, ok := cfg.Entries[L.CheckString(2)]
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(entry(L, data))
			return 1
		},
		"dump": func(L *lua.LState) int {
			filters := parseFilters(L, cfg)
			out := L.NewTable()
			for key, data := range cfg.Entries {
				if matchFilters(filters, data) {
					out.RawSetString(key, entry(L, data))
				}
			}
			L.Push(out)
			return 1
		},
	})
}

type stickFilter struct {
	data  string
	op    string
	value int64
}

func parseFilters(L *lua.LState, cfg *StickTableConfig) []stickFilter {
	tbl, ok := L.Get(2).(*lua.LTable)
	if !ok {
		if L.Get(2) != lua.LNil {
			L.TypeError(2, lua.LTTable)
		}
		return nil
	}
	if tbl.Len() > 4 {
		L.ArgError(2, "filter table cannot have more than 4 entries")
	}
	var filters []stickFilter
	for i := 1; i <= tbl.Len(); i++ {
		f, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			L.ArgError(2, "filter entries must be tables")
		}
		flt := stickFilter{
			data:  lua.LVAsString(f.RawGetInt(1)),
			op:    lua.LVAsString(f.RawGetInt(2)),
			value: int64(lua.LVAsNumber(f.RawGetInt(3))),
		}
		if _, ok := cfg.Data[flt.data]; !ok {
			L.ArgError(2, fmt.Sprintf("unknown data type %q", flt.data))
		}
		if !slices.Contains(filterOps, flt.op) {
			L.ArgError(2, fmt.Sprintf("unknown operator %q", flt.op))
		}
		filters = append(filters, flt)
	}
	return filters
}

func matchFilters(filters []stickFilter, data map[string]int64) bool {
	for _, f := range filters {
		v := data[f.data]
		var ok bool
		switch f.op {
		case "eq":
			ok = v == f.value
		case "ne":
			ok = v != f.value
		case "le":
			ok = v <= f.value
		case "lt":
			ok = v < f.value
		case "ge":
			ok = v >= f.value
		case "gt":
			ok = v > f.value
		}
		if !ok {
			return false
		}
	}
	return true
}
