// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/hapgo/hapi/marshal"
)

func TestParseEnums(t *testing.T) {
	t.Run("proxy capability", func(t *testing.T) {
		for tag, exp := range map[string]ProxyCapability{
			"frontend": ProxyCapabilityFrontend,
			"backend":  ProxyCapabilityBackend,
			"proxy":    ProxyCapabilityProxy,
			"ruleset":  ProxyCapabilityRuleset,
			"Backend":  ProxyCapabilityUnknown,
			"":         ProxyCapabilityUnknown,
			"listener": ProxyCapabilityUnknown,
		} {
			require.Equal(t, exp, ParseProxyCapability(tag), tag)
		}
	})
	t.Run("proxy mode", func(t *testing.T) {
		for tag, exp := range map[string]ProxyMode{
			"tcp":    ProxyModeTCP,
			"http":   ProxyModeHTTP,
			"health": ProxyModeHealth,
			"HTTP":   ProxyModeUnknown,
			"":       ProxyModeUnknown,
		} {
			require.Equal(t, exp, ParseProxyMode(tag), tag)
		}
	})
	t.Run("log level", func(t *testing.T) {
		for tag, exp := range map[string]LogLevel{
			"emerg":   LogLevelEmerg,
			"alert":   LogLevelAlert,
			"crit":    LogLevelCrit,
			"err":     LogLevelErr,
			"warning": LogLevelWarning,
			"notice":  LogLevelNotice,
			"info":    LogLevelInfo,
			"debug":   LogLevelDebug,
			"error":   LogLevelUnknown,
			"":        LogLevelUnknown,
		} {
			require.Equal(t, exp, ParseLogLevel(tag), tag)
		}
	})
	t.Run("action", func(t *testing.T) {
		for tag, exp := range map[string]Action{
			"tcp-req":        ActionTCPReq,
			"tcp-res":        ActionTCPRes,
			"http-req":       ActionHTTPReq,
			"http-res":       ActionHTTPRes,
			"http-after-res": ActionHTTPAfterRes,
			"http_req":       ActionUnknown,
			"":               ActionUnknown,
		} {
			require.Equal(t, exp, ParseAction(tag), tag)
		}
	})
	t.Run("service mode", func(t *testing.T) {
		for tag, exp := range map[string]ServiceMode{
			"tcp":  ServiceModeTCP,
			"http": ServiceModeHTTP,
			"udp":  ServiceModeUnknown,
			"":     ServiceModeUnknown,
		} {
			require.Equal(t, exp, ParseServiceMode(tag), tag)
		}
	})
}

func TestEnumString(t *testing.T) {
	require.Equal(t, "backend", ProxyCapabilityBackend.String())
	require.Equal(t, "unknown", ProxyCapabilityUnknown.String())
	require.Equal(t, "health", ProxyModeHealth.String())
	require.Equal(t, "warning", LogLevelWarning.String())
	require.Equal(t, "unknown", LogLevel(-1).String())
	require.Equal(t, "http-after-res", ActionHTTPAfterRes.String())
	require.Equal(t, "unknown", Action(42).String())
	require.Equal(t, "http", ServiceModeHTTP.String())

	for _, a := range []Action{ActionTCPReq, ActionTCPRes, ActionHTTPReq, ActionHTTPRes, ActionHTTPAfterRes} {
		require.Equal(t, a, ParseAction(a.String()))
	}
}

func TestEnumLua(t *testing.T) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	t.Cleanup(L.Close)

	t.Run("encode as tag", func(t *testing.T) {
		v, err := marshal.Encode(L, ActionHTTPReq)
		require.NoError(t, err)
		require.Equal(t, lua.LString("http-req"), v)

		v, err = marshal.Encode(L, []Action{ActionTCPReq, ActionHTTPRes})
		require.NoError(t, err)
		require.Equal(t, lua.LString("http-res"), L.GetTable(v, lua.LNumber(2)))
	})
	t.Run("decode tag", func(t *testing.T) {
		m, err := marshal.Decode[ProxyMode](L, lua.LString("http"))
		require.NoError(t, err)
		require.Equal(t, ProxyModeHTTP, m)

		c, err := marshal.Decode[ProxyCapability](L, lua.LString("peers"))
		require.NoError(t, err)
		require.Equal(t, ProxyCapabilityUnknown, c)
	})
	t.Run("decode wrong type", func(t *testing.T) {
		_, err := marshal.Decode[ServiceMode](L, lua.LTrue)
		require.ErrorIs(t, err, marshal.ErrTypeMismatch)
	})
	t.Run("log level as number", func(t *testing.T) {
		v, err := marshal.Encode(L, LogLevelNotice)
		require.NoError(t, err)
		require.Equal(t, lua.LNumber(5), v)

		v, err = marshal.Encode(L, LogLevelUnknown)
		require.NoError(t, err)
		require.Equal(t, lua.LNumber(LogLevelInfo), v)

		for in, exp := range map[lua.LValue]LogLevel{
			lua.LNumber(0):     LogLevelEmerg,
			lua.LNumber(7):     LogLevelDebug,
			lua.LNumber(8):     LogLevelUnknown,
			lua.LNumber(-1):    LogLevelUnknown,
			lua.LNumber(2.5):   LogLevelUnknown,
			lua.LString("err"): LogLevelErr,
		} {
			l, err := marshal.Decode[LogLevel](L, in)
			require.NoError(t, err)
			require.Equal(t, exp, l, in.String())
		}
	})
	t.Run("optional", func(t *testing.T) {
		o, err := marshal.Decode[marshal.Option[Action]](L, lua.LNil)
		require.NoError(t, err)
		require.False(t, o.IsSome())
	})
}
