// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	"fmt"
	"log/slog"

	lua "github.com/yuin/gopher-lua"
)

// Txn is the transaction object handed to actions, fetches and filters. It holds
// everything relative to the HTTP or TCP transaction being processed.
type Txn struct {
	Handle
	// C runs sample converters.
	C Converters
	// F runs sample fetches.
	F Fetches
}

// NewTxn wraps the transaction v. It fails if v is not a table or lacks the
// converter or fetch objects.
func NewTxn(L *lua.LState, v lua.LValue) (Txn, error) {
	var t Txn
	if err := t.DecodeLua(L, v); err != nil {
		return Txn{}, err
	}
	return t, nil
}

// DecodeLua implements [marshal.Decoder].
func (t *Txn) DecodeLua(L *lua.LState, v lua.LValue) error {
	h, err := NewHandle(L, v)
	if err != nil {
		return err
	}
	c, err := Field[Converters](h, "c")
	if err != nil {
		return fmt.Errorf("txn converters: %w", err)
	}
	f, err := Field[Fetches](h, "f")
	if err != nil {
		return fmt.Errorf("txn fetches: %w", err)
	}
	*t = Txn{Handle: h, C: c, F: f}
	return nil
}

// LState returns the state the transaction belongs to.
func (t Txn) LState() *lua.LState { return t.L }

// HTTP returns the HTTP object of the transaction. It is only available in HTTP proxies.
func (t Txn) HTTP() (HTTP, error) {
	return Field[HTTP](t.Handle, "http")
}

// HTTPReq returns the request message of the transaction.
func (t Txn) HTTPReq() (HTTPMessage, error) {
	return Field[HTTPMessage](t.Handle, "http_req")
}

// HTTPRes returns the response message of the transaction.
func (t Txn) HTTPRes() (HTTPMessage, error) {
	return Field[HTTPMessage](t.Handle, "http_res")
}

// Log sends msg to the log servers of the proxy at level.
func (t Txn) Log(level LogLevel, msg string) error {
	return t.Invoke("log", level, msg)
}

// Deflog sends msg at the default log level of the proxy.
func (t Txn) Deflog(msg string) error {
	return t.Invoke("deflog", msg)
}

// Logger returns a slog.Logger writing through [Txn.Log]. The host applies its own level filter.
func (t Txn) Logger() *slog.Logger {
	return NewLogger(t.Log, slog.LevelDebug)
}

// GetPriv returns the private data stored with [Txn.SetPriv].
func GetPriv[R any](t Txn) (R, error) {
	return Call[R](t.Handle, "get_priv")
}

// SetPriv stores v in the transaction, replacing what was stored before.
func (t Txn) SetPriv(v any) error {
	return t.Invoke("set_priv", v)
}

// GetVar decodes the variable name, such as "txn.start_time", into R.
func GetVar[R any](t Txn, name string) (R, error) {
	return Call[R](t.Handle, "get_var", name)
}

// Var returns the raw value of the variable name. An unset variable is lua.LNil.
func (t Txn) Var(name string) (lua.LValue, error) {
	return Call[lua.LValue](t.Handle, "get_var", name)
}

// SetVar stores v in the variable name, creating it if needed.
func (t Txn) SetVar(name string, v any) error {
	return t.Invoke("set_var", name, v)
}

// SetVarIfExists stores v in the variable name only if it already exists.
func (t Txn) SetVarIfExists(name string, v any) error {
	return t.Invoke("set_var", name, v, true)
}

// UnsetVar removes the variable name.
func (t Txn) UnsetVar(name string) error {
	return t.Invoke("unset_var", name)
}

// SetLogLevel changes the log level of the current request.
func (t Txn) SetLogLevel(level LogLevel) error {
	return t.Invoke("set_loglevel", level)
}

// Done ends the transaction immediately. The host stops running the calling hook.
func (t Txn) Done() error {
	return t.Invoke("done")
}
