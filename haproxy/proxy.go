// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import "github.com/hapgo/hapi/marshal"

// Stats is a statistics table as returned by proxies, servers and listeners.
// Values are numbers (float64) or strings.
type Stats map[string]any

// Proxy manipulates a frontend or a backend and retrieves information like statistics.
type Proxy struct {
	Handle
}

// Name returns the name of the proxy.
func (p Proxy) Name() (string, error) {
	return Call[string](p.Handle, "get_name")
}

// UUID returns the unique identifier of the proxy.
func (p Proxy) UUID() (string, error) {
	return Call[string](p.Handle, "get_uuid")
}

// Servers returns the servers attached to the proxy, indexed by name.
func (p Proxy) Servers() (map[string]Server, error) {
	return Field[map[string]Server](p.Handle, "servers")
}

// StickTable returns the stick table attached to the proxy, if any.
func (p Proxy) StickTable() (marshal.Option[StickTable], error) {
	return Field[marshal.Option[StickTable]](p.Handle, "stktable")
}

// Listeners returns the listeners attached to the proxy, indexed by name.
func (p Proxy) Listeners() (map[string]Listener, error) {
	return Field[map[string]Listener](p.Handle, "listeners")
}

// Pause pauses the proxy.
func (p Proxy) Pause() error { return p.Invoke("pause") }

// Resume resumes a paused proxy.
func (p Proxy) Resume() error { return p.Invoke("resume") }

// Stop stops the proxy.
func (p Proxy) Stop() error { return p.Invoke("stop") }

// ShutBackupSessions kills the sessions attached to backup servers.
func (p Proxy) ShutBackupSessions() error { return p.Invoke("shut_bcksess") }

// Capability returns what the proxy can be used as.
func (p Proxy) Capability() (ProxyCapability, error) {
	return Call[ProxyCapability](p.Handle, "get_cap")
}

// Mode returns the mode the proxy runs in.
func (p Proxy) Mode() (ProxyMode, error) {
	return Call[ProxyMode](p.Handle, "get_mode")
}

// ActiveServers returns the number of active servers eligible for load balancing.
func (p Proxy) ActiveServers() (int, error) {
	return Call[int](p.Handle, "get_srv_act")
}

// BackupServers returns the number of backup servers eligible for load balancing.
func (p Proxy) BackupServers() (int, error) {
	return Call[int](p.Handle, "get_srv_bck")
}

// Stats returns the statistics of the proxy. They differ between frontends and backends.
func (p Proxy) Stats() (Stats, error) {
	return Call[Stats](p.Handle, "get_stats")
}

// Listener is a bind line of a frontend.
type Listener struct {
	Handle
}

// Stats returns the statistics of the listener.
func (l Listener) Stats() (Stats, error) {
	return Call[Stats](l.Handle, "get_stats")
}

// EventSubscription is the result of subscribing to host events.
type EventSubscription struct {
	Handle
}

// Unsub cancels the subscription. No event is delivered once it returns.
func (s EventSubscription) Unsub() error {
	return s.Invoke("unsub")
}
