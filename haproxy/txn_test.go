// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/hapgo/hapi/internal/luahost"
	"github.com/hapgo/hapi/marshal"
)

var testRequest = luahost.Request{
	Method: "GET",
	Path:   "/search",
	Query:  "foo=1&bar=2",
	Headers: []luahost.Header{
		{Name: "Host", Value: "www.example.com"},
		{Name: "Accept", Value: "text/html"},
		{Name: "Accept", Value: "*/*"},
		{Name: "X-Forwarded-For", Value: "10.0.0.1"},
	},
	Body: "hello world",
}

func TestNewTxn(t *testing.T) {
	L := newState(t, `
notxn = "txn"
noconv = { f = {} }
nofetch = { c = {} }
`)
	_, err := NewTxn(L, L.GetGlobal("notxn"))
	require.ErrorIs(t, err, marshal.ErrTypeMismatch)

	_, err = NewTxn(L, L.GetGlobal("noconv"))
	require.ErrorContains(t, err, "txn converters")
	require.ErrorIs(t, err, marshal.ErrTypeMismatch)

	_, err = NewTxn(L, L.GetGlobal("nofetch"))
	require.ErrorContains(t, err, "txn fetches")

	host := newHost(t)
	_, txn := newTxn(t, host, testRequest)
	require.Same(t, host.L, txn.LState())
	require.NotNil(t, txn.C.Table())
	require.NotNil(t, txn.F.Table())
}

func TestTxn_Vars(t *testing.T) {
	host := newHost(t)
	lt, txn := newTxn(t, host, testRequest)

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, txn.SetVar("txn.count", 42))
		n, err := GetVar[int](txn, "txn.count")
		require.NoError(t, err)
		require.Equal(t, 42, n)
		require.Equal(t, lua.LNumber(42), lt.Var("txn.count"))
	})
	t.Run("numbers become integers", func(t *testing.T) {
		require.NoError(t, txn.SetVar("req.ratio", 2.7))
		n, err := GetVar[int](txn, "req.ratio")
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})
	t.Run("unset is nil", func(t *testing.T) {
		v, err := txn.Var("txn.missing")
		require.NoError(t, err)
		require.Equal(t, lua.LNil, v)

		o, err := GetVar[marshal.Option[string]](txn, "txn.missing")
		require.NoError(t, err)
		require.False(t, o.IsSome())
	})
	t.Run("set if exists", func(t *testing.T) {
		require.NoError(t, txn.SetVarIfExists("txn.absent", "x"))
		require.Equal(t, lua.LNil, lt.Var("txn.absent"))

		require.NoError(t, txn.SetVarIfExists("txn.count", 43))
		require.Equal(t, lua.LNumber(43), lt.Var("txn.count"))
	})
	t.Run("unset", func(t *testing.T) {
		require.NoError(t, txn.SetVar("sess.user", "alice"))
		require.NoError(t, txn.UnsetVar("sess.user"))
		require.Equal(t, lua.LNil, lt.Var("sess.user"))
	})
	t.Run("proc scope is shared", func(t *testing.T) {
		require.NoError(t, txn.SetVar("proc.hits", 1))
		_, other := newTxn(t, host, testRequest)
		n, err := GetVar[int](other, "proc.hits")
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.NotContains(t, lt.Vars(), "proc.hits")
	})
	t.Run("invalid name", func(t *testing.T) {
		var hce *HostCallError
		require.ErrorAs(t, txn.SetVar("count", 1), &hce)
		require.Equal(t, "set_var", hce.Member)
		require.ErrorAs(t, txn.SetVar("global.count", 1), &hce)
	})
	t.Run("unsupported value", func(t *testing.T) {
		var hce *HostCallError
		require.ErrorAs(t, txn.SetVar("txn.list", []int{1, 2}), &hce)
	})
}

func TestTxn_Priv(t *testing.T) {
	host := newHost(t)
	_, txn := newTxn(t, host, testRequest)

	o, err := GetPriv[marshal.Option[string]](txn)
	require.NoError(t, err)
	require.False(t, o.IsSome())

	require.NoError(t, txn.SetPriv(map[string]int{"a": 1, "b": 2}))
	m, err := GetPriv[map[string]int](txn)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 1, "b": 2}, m)

	_, err = GetPriv[string](txn)
	require.ErrorIs(t, err, marshal.ErrTypeMismatch)
}

func TestTxn_Log(t *testing.T) {
	host := newHost(t)
	lt, txn := newTxn(t, host, testRequest)

	require.NoError(t, txn.Log(LogLevelAlert, "alert"))
	require.NoError(t, txn.Deflog("default"))
	txn.Logger().Warn("slow", "ms", 12)
	txn.Logger().Debug("details")
	require.Equal(t, []luahost.LogEntry{
		{Level: 1, Source: "txn", Message: "alert"},
		{Level: 6, Source: "txn", Message: "default"},
		{Level: 4, Source: "txn", Message: "slow ms=12"},
		{Level: 7, Source: "txn", Message: "details"},
	}, host.Logs())

	require.NoError(t, txn.SetLogLevel(LogLevelNotice))
	require.Equal(t, 5, lt.LogLevel())

	// Unknown levels are sent as info.
	require.NoError(t, txn.SetLogLevel(LogLevelUnknown))
	require.Equal(t, 6, lt.LogLevel())
}

func TestTxn_HTTP(t *testing.T) {
	host := newHost(t)
	lt, txn := newTxn(t, host, testRequest)
	h, err := txn.HTTP()
	require.NoError(t, err)

	t.Run("request headers", func(t *testing.T) {
		hs, err := h.ReqGetHeaders()
		require.NoError(t, err)
		values, err := hs.Values("accept")
		require.NoError(t, err)
		require.Equal(t, []string{"text/html", "*/*"}, values)
	})
	t.Run("edit request headers", func(t *testing.T) {
		require.NoError(t, h.ReqAddHeader("X-Count", 5))
		require.NoError(t, h.ReqSetHeader("Accept", "application/json"))
		require.NoError(t, h.ReqDelHeader("host"))
		require.NoError(t, h.ReqRepHeader("x-forwarded-for", `^(\d+)\.(\d+)\..*$`, `\2.\1`))

		hs, err := h.ReqGetHeaders()
		require.NoError(t, err)
		got := map[string][]string{}
		for field, err := range AllHeaders[string](hs) {
			require.NoError(t, err)
			got[field.Name] = field.Values
		}
		require.Equal(t, map[string][]string{
			"accept":          {"application/json"},
			"x-forwarded-for": {"0.10"},
			"x-count":         {"5"},
		}, got)
	})
	t.Run("invalid regex", func(t *testing.T) {
		var hce *HostCallError
		require.ErrorAs(t, h.ReqRepHeader("accept", "(", ""), &hce)
	})
	t.Run("rewrite request line", func(t *testing.T) {
		require.NoError(t, h.ReqSetMethod("POST"))
		require.NoError(t, h.ReqSetPath("/api"))
		require.NoError(t, h.ReqSetQuery("?q=go"))
		req := lt.Request()
		require.Equal(t, "POST", req.Method)
		require.Equal(t, "/api?q=go", req.URI())

		require.NoError(t, h.ReqSetURI("/other?x=1"))
		require.Equal(t, "/other?x=1", lt.Request().URI())
	})
	t.Run("response before it exists", func(t *testing.T) {
		_, err := h.ResGetHeaders()
		var hce *HostCallError
		require.ErrorAs(t, err, &hce)
		require.Equal(t, "res_get_headers", hce.Member)
	})
	t.Run("response", func(t *testing.T) {
		lt.SetResponse(luahost.Response{Status: 200, Headers: []luahost.Header{{Name: "Server", Value: "test"}}})
		require.NoError(t, h.ResAddHeader("Cache-Control", "no-cache"))
		require.NoError(t, h.ResSetStatus(404, marshal.None[string]()))

		hs, err := h.ResGetHeaders()
		require.NoError(t, err)
		server, ok, err := hs.First("server")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "test", server)

		res := lt.Response()
		require.Equal(t, 404, res.Status)
		require.Equal(t, "Not Found", res.Reason)
		cc, ok := res.Header("cache-control")
		require.True(t, ok)
		require.Equal(t, "no-cache", cc)

		require.NoError(t, h.ResSetStatus(299, marshal.Some("Custom")))
		require.Equal(t, "Custom", lt.Response().Reason)

		var hce *HostCallError
		require.ErrorAs(t, h.ResSetStatus(42, marshal.None[string]()), &hce)
	})
}

func TestTxn_HTTPMessage(t *testing.T) {
	host := newHost(t)
	lt, txn := newTxn(t, host, testRequest)

	req, err := txn.HTTPReq()
	require.NoError(t, err)
	res, err := txn.HTTPRes()
	require.NoError(t, err)

	t.Run("request", func(t *testing.T) {
		line, err := req.GetStline()
		require.NoError(t, err)
		require.Equal(t, StartLine{Method: "GET", URI: "/search?foo=1&bar=2", Version: "1.1"}, line)

		isResp, err := req.IsResp()
		require.NoError(t, err)
		require.False(t, isResp)

		body, err := req.Body(0, -1)
		require.NoError(t, err)
		require.Equal(t, "hello world", body)
		body, err = req.Body(6, 3)
		require.NoError(t, err)
		require.Equal(t, "wor", body)
		body, err = req.Body(100, 1)
		require.NoError(t, err)
		require.Empty(t, body)

		var hce *HostCallError
		require.ErrorAs(t, req.SetStatus(200, marshal.None[string]()), &hce)
	})
	t.Run("edit request", func(t *testing.T) {
		require.NoError(t, req.SetMethod("PUT"))
		require.NoError(t, req.SetPath("/items"))
		require.NoError(t, req.SetQuery("id=3"))
		require.NoError(t, req.AddHeader("X-Id", 3))
		require.NoError(t, req.SetHeader("Host", "api.example.com"))
		require.NoError(t, req.DelHeader("accept"))
		require.NoError(t, req.RepHeader("host", `^api\.`, "www."))

		hs, err := req.GetHeaders()
		require.NoError(t, err)
		hostHdr, ok, err := hs.First("Host")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "www.example.com", hostHdr)
		accept, err := hs.Values("accept")
		require.NoError(t, err)
		require.Nil(t, accept)

		r := lt.Request()
		require.Equal(t, "PUT", r.Method)
		require.Equal(t, "/items?id=3", r.URI())

		require.NoError(t, req.SetURI("/a?b=c"))
		line, err := req.GetStline()
		require.NoError(t, err)
		require.Equal(t, "/a?b=c", line.URI)
	})
	t.Run("response not available", func(t *testing.T) {
		_, err := res.GetStline()
		var hce *HostCallError
		require.ErrorAs(t, err, &hce)
	})
	t.Run("response", func(t *testing.T) {
		lt.SetResponse(luahost.Response{Status: 503, Body: "unavailable"})
		line, err := res.GetStline()
		require.NoError(t, err)
		require.Equal(t, StartLine{Version: "1.1", Code: "503", Reason: "Service Unavailable"}, line)

		isResp, err := res.IsResp()
		require.NoError(t, err)
		require.True(t, isResp)

		require.NoError(t, res.SetStatus(502, marshal.Some("Upstream Broken")))
		line, err = res.GetStline()
		require.NoError(t, err)
		require.Equal(t, "502", line.Code)
		require.Equal(t, "Upstream Broken", line.Reason)

		body, err := res.Body(0, 5)
		require.NoError(t, err)
		require.Equal(t, "unava", body)
	})
}

func TestTxn_Fetches(t *testing.T) {
	host := newHost(t, luahost.WithUniqueID(func() string { return "id-1" }))
	lt, txn := newTxn(t, host, testRequest)

	for _, tc := range []struct {
		name string
		args []any
		exp  string
	}{
		{name: "method", exp: "GET"},
		{name: "path", exp: "/search"},
		{name: "query", exp: "foo=1&bar=2"},
		{name: "url", exp: "/search?foo=1&bar=2"},
		{name: "req_ver", exp: "1.1"},
		{name: "unique_id", exp: "id-1"},
		{name: "hdr", args: []any{"accept"}, exp: "*/*"},
		{name: "hdr", args: []any{"accept", 1}, exp: "text/html"},
		{name: "hdr", args: []any{"missing"}, exp: ""},
		{name: "status", exp: ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := txn.F.String(tc.name, tc.args...)
			require.NoError(t, err)
			require.Equal(t, tc.exp, got)
		})
	}

	t.Run("typed", func(t *testing.T) {
		n, err := Fetch[int](txn.F, "hdr_cnt", "Accept")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		lt.SetResponse(luahost.Response{Status: 201})
		status, err := Fetch[uint16](txn.F, "status")
		require.NoError(t, err)
		require.Equal(t, uint16(201), status)
	})
	t.Run("var", func(t *testing.T) {
		require.NoError(t, txn.SetVar("txn.user", "bob"))
		got, err := txn.F.String("var", "txn.user")
		require.NoError(t, err)
		require.Equal(t, "bob", got)
	})
	t.Run("unknown", func(t *testing.T) {
		_, err := txn.F.String("nope")
		require.ErrorIs(t, err, ErrNoSuchMember)
	})
}

func TestTxn_Converters(t *testing.T) {
	host := newHost(t)
	_, txn := newTxn(t, host, testRequest)

	for _, tc := range []struct {
		name  string
		input any
		args  []any
		exp   string
	}{
		{name: "lower", input: "ABC", exp: "abc"},
		{name: "upper", input: "abc", exp: "ABC"},
		{name: "url_dec", input: "a%20b%2Bc", exp: "a b+c"},
		{name: "base64", input: "hi", exp: "aGk="},
		{name: "json_query", input: `{"user":{"name":"ann"}}`, args: []any{"$.user.name"}, exp: "ann"},
		{name: "json_query", input: `{"user":{}}`, args: []any{"$.user.name"}, exp: ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := txn.C.String(tc.name, tc.input, tc.args...)
			require.NoError(t, err)
			require.Equal(t, tc.exp, got)
		})
	}

	n, err := Convert[int](txn.C, "json_query", `{"a":{"b":[1,2]}}`, "$.a.b[1]")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = txn.C.String("nope", "x")
	require.ErrorIs(t, err, ErrNoSuchMember)
}
