// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"k8s.io/utils/ptr"

	"github.com/hapgo/hapi/internal/luahost"
	"github.com/hapgo/hapi/marshal"
)

func newTopology(t *testing.T) (*luahost.Host, Core) {
	host := newHost(t, luahost.WithProxies(
		luahost.ProxyConfig{
			Name:       "fe",
			Capability: "frontend",
			Listeners:  []luahost.ListenerConfig{{Name: "http", Addr: "0.0.0.0:80"}},
		},
		luahost.ProxyConfig{
			Name:       "be",
			Capability: "backend",
			Mode:       "http",
			Servers: []luahost.ServerConfig{
				{Name: "s1", Addr: "10.0.0.1", Port: 8080, Weight: ptr.To(10), MaxConn: 100, Sessions: 3, Pending: 4},
				{Name: "s2", Addr: "10.0.0.2", Track: "s1"},
				{Name: "bk", Addr: "10.0.0.3", Backup: true, Dynamic: true, Sessions: 2},
			},
			StickTable: &luahost.StickTableConfig{
				Type:   "ip",
				Size:   1024,
				Expire: 30000,
				Data:   map[string]int{"gpc0": 0, "http_req_rate": 10000},
				Entries: map[string]map[string]int64{
					"10.0.0.9": {"gpc0": 5, "http_req_rate": 40},
					"10.0.0.8": {"gpc0": 1, "http_req_rate": 2},
				},
			},
		},
	))
	core, err := GetCore(host.L)
	require.NoError(t, err)
	return host, core
}

func backend(t *testing.T, core Core) (Proxy, map[string]Server) {
	backends, err := core.Backends()
	require.NoError(t, err)
	be, ok := backends["be"]
	require.True(t, ok)
	servers, err := be.Servers()
	require.NoError(t, err)
	return be, servers
}

func TestProxies(t *testing.T) {
	host, core := newTopology(t)

	proxies, err := core.Proxies()
	require.NoError(t, err)
	require.Len(t, proxies, 2)
	frontends, err := core.Frontends()
	require.NoError(t, err)
	require.Contains(t, frontends, "fe")
	require.NotContains(t, frontends, "be")
	backends, err := core.Backends()
	require.NoError(t, err)
	require.NotContains(t, backends, "fe")

	be := proxies["be"]
	name, err := be.Name()
	require.NoError(t, err)
	require.Equal(t, "be", name)
	uuid, err := be.UUID()
	require.NoError(t, err)
	require.Equal(t, "2", uuid)
	capability, err := be.Capability()
	require.NoError(t, err)
	require.Equal(t, ProxyCapabilityBackend, capability)
	mode, err := be.Mode()
	require.NoError(t, err)
	require.Equal(t, ProxyModeHTTP, mode)

	act, err := be.ActiveServers()
	require.NoError(t, err)
	require.Equal(t, 2, act)
	bck, err := be.BackupServers()
	require.NoError(t, err)
	require.Equal(t, 1, bck)

	stats, err := be.Stats()
	require.NoError(t, err)
	require.Equal(t, "be", stats["pxname"])
	require.Equal(t, "BACKEND", stats["svname"])
	require.Equal(t, float64(2), stats["act"])
	require.Equal(t, float64(5), stats["scur"])

	t.Run("state", func(t *testing.T) {
		require.NoError(t, be.Pause())
		require.Equal(t, "PAUSED", host.ProxyState("be"))
		require.NoError(t, be.Resume())
		require.Equal(t, "OPEN", host.ProxyState("be"))
		require.NoError(t, be.Stop())
		require.Equal(t, "STOP", host.ProxyState("be"))
	})
	t.Run("backup sessions", func(t *testing.T) {
		servers, err := be.Servers()
		require.NoError(t, err)
		require.NoError(t, be.ShutBackupSessions())
		n, err := servers["bk"].CurrentSessions()
		require.NoError(t, err)
		require.Zero(t, n)
		n, err = servers["s1"].CurrentSessions()
		require.NoError(t, err)
		require.Equal(t, uint64(3), n)
	})
	t.Run("listeners", func(t *testing.T) {
		listeners, err := proxies["fe"].Listeners()
		require.NoError(t, err)
		require.Len(t, listeners, 1)
		ls, err := listeners["http"].Stats()
		require.NoError(t, err)
		require.Equal(t, "0.0.0.0:80", ls["addr"])

		none, err := be.Listeners()
		require.NoError(t, err)
		require.Empty(t, none)
	})
}

func TestStickTable(t *testing.T) {
	_, core := newTopology(t)
	proxies, err := core.Proxies()
	require.NoError(t, err)

	absent, err := proxies["fe"].StickTable()
	require.NoError(t, err)
	require.False(t, absent.IsSome())

	opt, err := proxies["be"].StickTable()
	require.NoError(t, err)
	st, ok := opt.Get()
	require.True(t, ok)

	t.Run("info", func(t *testing.T) {
		info, err := st.Info()
		require.NoError(t, err)
		require.Equal(t, StickTableInfo{
			Type:   "ip",
			Size:   1024,
			Used:   2,
			Expire: 30000,
			Data:   map[string]int{"gpc0": 0, "http_req_rate": 10000},
		}, info)
	})
	t.Run("info decode errors", func(t *testing.T) {
		L := newState(t, "")
		for _, tc := range []struct {
			name    string
			info    string
			expKind marshal.Kind
			expPath []string
		}{
			{
				name:    "mistyped",
				info:    `{type = "ip", length = 0, size = "1024", used = 2, expire = 0, data = {}}`,
				expKind: marshal.KindTypeMismatch, expPath: []string{".size"},
			},
			{
				name:    "non-integral",
				info:    `{type = "ip", length = 0, size = 1024, used = 2.7, expire = 0, data = {}}`,
				expKind: marshal.KindOverflow, expPath: []string{".used"},
			},
			{
				name:    "out of range",
				info:    `{type = "ip", length = 0, size = 1024, used = 2, expire = 1e300, data = {}}`,
				expKind: marshal.KindOverflow, expPath: []string{".expire"},
			},
			{
				name:    "mistyped data period",
				info:    `{type = "ip", length = 0, size = 1024, used = 2, expire = 0, data = {gpc0 = true}}`,
				expKind: marshal.KindTypeMismatch, expPath: []string{".data", "[gpc0]"},
			},
		} {
			t.Run(tc.name, func(t *testing.T) {
				require.NoError(t, L.DoString("st = {}\nfunction st:info() return "+tc.info+" end"))
				h, err := NewHandle(L, L.GetGlobal("st"))
				require.NoError(t, err)
				_, err = StickTable{Handle: h}.Info()
				var de *marshal.DecodeError
				require.ErrorAs(t, err, &de)
				require.Equal(t, tc.expKind, de.Kind)
				require.Equal(t, tc.expPath, de.Path)
			})
		}
	})
	t.Run("lookup", func(t *testing.T) {
		entry, err := st.Lookup("10.0.0.9")
		require.NoError(t, err)
		require.Equal(t, float64(5), entry["gpc0"])
		require.Equal(t, float64(30000), entry["expire"])

		missing, err := st.Lookup("192.168.0.1")
		require.NoError(t, err)
		require.Nil(t, missing)
	})
	t.Run("dump", func(t *testing.T) {
		all, err := st.Dump()
		require.NoError(t, err)
		require.Len(t, all, 2)

		filtered, err := st.Dump(DumpFilter{Data: "gpc0", Op: "gt", Value: 2})
		require.NoError(t, err)
		require.Len(t, filtered, 1)
		require.Contains(t, filtered, "10.0.0.9")

		both, err := st.Dump(
			DumpFilter{Data: "gpc0", Op: "ge", Value: 1},
			DumpFilter{Data: "http_req_rate", Op: "lt", Value: 10},
		)
		require.NoError(t, err)
		require.Len(t, both, 1)
		require.Contains(t, both, "10.0.0.8")
	})
	t.Run("invalid filters", func(t *testing.T) {
		var hce *HostCallError
		_, err := st.Dump(DumpFilter{Data: "gpc0", Op: "between", Value: 1})
		require.ErrorAs(t, err, &hce)
		_, err = st.Dump(DumpFilter{Data: "conn_cnt", Op: "eq", Value: 1})
		require.ErrorAs(t, err, &hce)

		f := DumpFilter{Data: "gpc0", Op: "eq", Value: 1}
		_, err = st.Dump(f, f, f, f, f)
		require.ErrorAs(t, err, &hce)
	})
}

func TestServer(t *testing.T) {
	host, core := newTopology(t)
	_, servers := backend(t, core)
	s1, s2, bk := servers["s1"], servers["s2"], servers["bk"]

	t.Run("identity", func(t *testing.T) {
		name, err := s1.Name()
		require.NoError(t, err)
		require.Equal(t, "s1", name)
		puid, err := bk.PUID()
		require.NoError(t, err)
		require.Equal(t, "3", puid)
		rid, err := s1.RID()
		require.NoError(t, err)
		require.Zero(t, rid)

		backup, err := bk.IsBackup()
		require.NoError(t, err)
		require.True(t, backup)
		dynamic, err := s1.IsDynamic()
		require.NoError(t, err)
		require.False(t, dynamic)

		px, err := s1.Proxy()
		require.NoError(t, err)
		pxName, err := px.Name()
		require.NoError(t, err)
		require.Equal(t, "be", pxName)
	})
	t.Run("address", func(t *testing.T) {
		addr, err := s1.Addr()
		require.NoError(t, err)
		require.Equal(t, "10.0.0.1:8080", addr)

		require.NoError(t, s1.SetAddr("10.1.1.1", marshal.Some[uint16](9090)))
		addr, err = s1.Addr()
		require.NoError(t, err)
		require.Equal(t, "10.1.1.1:9090", addr)

		require.NoError(t, s1.SetAddr("backend.local", marshal.None[uint16]()))
		addr, err = s1.Addr()
		require.NoError(t, err)
		require.Equal(t, "backend.local:9090", addr)
	})
	t.Run("limits", func(t *testing.T) {
		maxconn, err := s1.MaxConn()
		require.NoError(t, err)
		require.Equal(t, uint64(100), maxconn)
		require.NoError(t, s1.SetMaxConn(50))
		maxconn, err = s1.MaxConn()
		require.NoError(t, err)
		require.Equal(t, uint64(50), maxconn)

		pending, err := s1.PendingConnections()
		require.NoError(t, err)
		require.Equal(t, uint64(4), pending)
		require.NoError(t, s1.ShutSessions())
		cur, err := s1.CurrentSessions()
		require.NoError(t, err)
		require.Zero(t, cur)
	})
	t.Run("weight", func(t *testing.T) {
		w, err := s1.Weight()
		require.NoError(t, err)
		require.Equal(t, uint32(10), w)

		require.NoError(t, s1.SetWeight("50%"))
		w, err = s1.Weight()
		require.NoError(t, err)
		require.Equal(t, uint32(5), w)

		require.NoError(t, s1.SetWeight("200"))
		w, err = s1.Weight()
		require.NoError(t, err)
		require.Equal(t, uint32(200), w)

		var hce *HostCallError
		require.ErrorAs(t, s1.SetWeight("300"), &hce)
		require.ErrorAs(t, s1.SetWeight("heavy"), &hce)
	})
	t.Run("administrative state", func(t *testing.T) {
		require.NoError(t, s2.SetDrain())
		draining, err := s2.IsDraining()
		require.NoError(t, err)
		require.True(t, draining)
		require.Equal(t, "DRAIN", host.ServerStatus("be", "s2"))

		require.NoError(t, s2.SetMaint())
		stats, err := s2.Stats()
		require.NoError(t, err)
		require.Equal(t, "MAINT", stats["status"])

		require.NoError(t, s2.SetReady())
		require.Equal(t, "UP", host.ServerStatus("be", "s2"))
	})
	t.Run("checks follow the tracked server", func(t *testing.T) {
		require.NoError(t, s1.CheckEnable())
		require.NoError(t, s1.CheckForceNoLB())
		require.Equal(t, "NOLB", host.ServerStatus("be", "s2"))
		require.NoError(t, s1.CheckForceDown())
		require.Equal(t, "DOWN", host.ServerStatus("be", "s1"))
		require.Equal(t, "DOWN", host.ServerStatus("be", "s2"))
		require.NoError(t, s1.CheckForceUp())
		require.NoError(t, s1.CheckDisable())
		require.Equal(t, "UP", host.ServerStatus("be", "s2"))
	})
	t.Run("agent", func(t *testing.T) {
		require.NoError(t, bk.AgentForceDown())
		require.Equal(t, "UP", host.ServerStatus("be", "bk"))
		require.NoError(t, bk.AgentEnable())
		require.Equal(t, "DOWN", host.ServerStatus("be", "bk"))
		require.NoError(t, bk.AgentForceUp())
		require.NoError(t, bk.AgentDisable())
		require.Equal(t, "UP", host.ServerStatus("be", "bk"))
	})
	t.Run("tracking", func(t *testing.T) {
		tracked, err := s2.Tracking()
		require.NoError(t, err)
		target, ok := tracked.Get()
		require.True(t, ok)
		name, err := target.Name()
		require.NoError(t, err)
		require.Equal(t, "s1", name)

		none, err := s1.Tracking()
		require.NoError(t, err)
		require.False(t, none.IsSome())

		trackers, err := s1.Trackers()
		require.NoError(t, err)
		require.Len(t, trackers, 1)
		name, err = trackers[0].Name()
		require.NoError(t, err)
		require.Equal(t, "s2", name)

		trackers, err = s2.Trackers()
		require.NoError(t, err)
		require.Empty(t, trackers)
	})
}

func TestServer_EventSub(t *testing.T) {
	host, core := newTopology(t)
	_, servers := backend(t, core)
	s1, bk := servers["s1"], servers["bk"]

	type event struct{ kind, server string }
	var events []event
	sub, err := s1.EventSub([]string{"SERVER_DOWN", "SERVER_UP"}, func(kind string, data lua.LValue) error {
		fields, err := marshal.Decode[map[string]any](host.L, data)
		if err != nil {
			return err
		}
		events = append(events, event{kind: kind, server: fields["name"].(string)})
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s1.SetMaint())
	require.NoError(t, s1.SetReady())
	require.NoError(t, s1.SetDrain())
	require.NoError(t, s1.CheckForceDown())
	require.Equal(t, []event{
		{kind: "SERVER_DOWN", server: "s1"},
		{kind: "SERVER_UP", server: "s1"},
		{kind: "SERVER_DOWN", server: "s1"},
	}, events)

	require.NoError(t, sub.Unsub())
	require.NoError(t, s1.CheckForceUp())
	require.Len(t, events, 3)

	t.Run("handler errors are logged", func(t *testing.T) {
		_, err := bk.EventSub([]string{"SERVER"}, func(string, lua.LValue) error {
			return errors.New("boom")
		})
		require.NoError(t, err)
		require.NoError(t, bk.SetMaint())

		logs := host.Logs()
		require.NotEmpty(t, logs)
		last := logs[len(logs)-1]
		require.Equal(t, "event", last.Source)
		require.Contains(t, last.Message, "boom")
	})
	t.Run("unknown event", func(t *testing.T) {
		_, err := bk.EventSub([]string{"SERVER_RELOAD"}, func(string, lua.LValue) error { return nil })
		var hce *HostCallError
		require.ErrorAs(t, err, &hce)
		require.Equal(t, "event_sub", hce.Member)
	})
}
