// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package txnstate

import (
	"testing"

	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/hapgo/hapi/haproxy"
	"github.com/hapgo/hapi/internal/luahost"
	"github.com/hapgo/hapi/marshal"
)

func newTxn(t *testing.T, req luahost.Request) (*luahost.Txn, haproxy.Txn) {
	host, err := luahost.New()
	require.NoError(t, err)
	t.Cleanup(host.Close)
	lt := host.NewTxn(req)
	txn, err := haproxy.NewTxn(host.L, lt.Table())
	require.NoError(t, err)
	return lt, txn
}

func TestNewKey(t *testing.T) {
	for _, tc := range []struct {
		name   string
		expErr string
	}{
		{name: "txn.start_time"},
		{name: "proc.counter"},
		{name: "sess.user"},
		{name: "req.x"},
		{name: "res.y"},
		{name: "start_time", expErr: `invalid variable name "start_time": expected <scope>.<name>`},
		{name: "txn.", expErr: `invalid variable name "txn.": expected <scope>.<name>`},
		{name: "global.x", expErr: `invalid variable name "global.x": unknown scope "global"`},
		{name: "", expErr: `invalid variable name "": expected <scope>.<name>`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k, err := NewKey[string](tc.name)
			if tc.expErr != "" {
				require.EqualError(t, err, tc.expErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.name, k.String())
		})
	}

	require.Panics(t, func() { MustKey[int]("nope") })
}

func TestStore(t *testing.T) {
	lt, txn := newTxn(t, luahost.Request{})
	count := MustKey[int]("txn.count")
	label := MustKey[string]("txn.label")

	t.Run("missing", func(t *testing.T) {
		_, err := Get(txn, count)
		var mse *MissingStateError
		require.ErrorAs(t, err, &mse)
		require.Equal(t, "txn.count", mse.Key)
		require.EqualError(t, err, `transaction variable "txn.count" is not set`)

		o, err := Lookup(txn, count)
		require.NoError(t, err)
		require.False(t, o.IsSome())
	})
	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, Put(txn, count, 3))
		n, err := Get(txn, count)
		require.NoError(t, err)
		require.Equal(t, 3, n)
		require.Equal(t, lua.LNumber(3), lt.Var("txn.count"))
	})
	t.Run("replace", func(t *testing.T) {
		require.NoError(t, Replace(txn, label, "ignored"))
		o, err := Lookup(txn, label)
		require.NoError(t, err)
		require.False(t, o.IsSome())

		require.NoError(t, Replace(txn, count, 4))
		n, err := Get(txn, count)
		require.NoError(t, err)
		require.Equal(t, 4, n)
	})
	t.Run("clear", func(t *testing.T) {
		require.NoError(t, Clear(txn, count))
		_, err := Get(txn, count)
		var mse *MissingStateError
		require.ErrorAs(t, err, &mse)
	})
	t.Run("decode error", func(t *testing.T) {
		require.NoError(t, Put(txn, label, "not a number"))
		_, err := Get(txn, MustKey[int]("txn.label"))
		require.ErrorIs(t, err, marshal.ErrTypeMismatch)
		require.ErrorContains(t, err, "failed to decode txn.label")
	})
	t.Run("host error", func(t *testing.T) {
		err := Put(txn, MustKey[[]int]("txn.list"), []int{1})
		var hce *haproxy.HostCallError
		require.ErrorAs(t, err, &hce)
		require.ErrorContains(t, err, "failed to set txn.list")
	})
}
