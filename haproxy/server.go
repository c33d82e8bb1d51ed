// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/hapgo/hapi/marshal"
)

// Server manipulates a server of a backend and retrieves information about it.
type Server struct {
	Handle
}

// EventHandler receives a server event such as "SERVER_UP" with its data table.
// A returned error is raised in the host and ends that delivery only.
type EventHandler func(event string, data lua.LValue) error

// Name returns the name of the server.
func (s Server) Name() (string, error) { return Call[string](s.Handle, "get_name") }

// PUID returns the identifier of the server inside its proxy.
func (s Server) PUID() (string, error) { return Call[string](s.Handle, "get_puid") }

// RID returns the revision ID of the server.
func (s Server) RID() (uint64, error) { return Call[uint64](s.Handle, "get_rid") }

// IsDraining reports whether the server is in drain mode.
func (s Server) IsDraining() (bool, error) { return Call[bool](s.Handle, "is_draining") }

// IsBackup reports whether the server is a backup server.
func (s Server) IsBackup() (bool, error) { return Call[bool](s.Handle, "is_backup") }

// IsDynamic reports whether the server was added at runtime, from the CLI for instance.
func (s Server) IsDynamic() (bool, error) { return Call[bool](s.Handle, "is_dynamic") }

// CurrentSessions returns the number of active sessions on the server.
func (s Server) CurrentSessions() (uint64, error) { return Call[uint64](s.Handle, "get_cur_sess") }

// PendingConnections returns the number of connections queued for the server.
func (s Server) PendingConnections() (uint64, error) { return Call[uint64](s.Handle, "get_pend_conn") }

// MaxConn returns the maximum number of concurrent connections of the server.
func (s Server) MaxConn() (uint64, error) { return Call[uint64](s.Handle, "get_maxconn") }

// SetMaxConn changes the maximum number of concurrent connections.
func (s Server) SetMaxConn(maxconn uint64) error { return s.Invoke("set_maxconn", maxconn) }

// Weight returns the current weight of the server.
func (s Server) Weight() (uint32, error) { return Call[uint32](s.Handle, "get_weight") }

// SetWeight changes the weight of the server. weight uses the management socket
// syntax, either an absolute value or a percentage such as "50%".
func (s Server) SetWeight(weight string) error { return s.Invoke("set_weight", weight) }

// Addr returns the address of the server, including the port when one is set.
func (s Server) Addr() (string, error) { return Call[string](s.Handle, "get_addr") }

// SetAddr changes the address of the server and, when given, its port.
func (s Server) SetAddr(addr string, port marshal.Option[uint16]) error {
	return s.Invoke("set_addr", addr, port)
}

// Stats returns the statistics of the server, indexed by stats field name.
func (s Server) Stats() (Stats, error) { return Call[Stats](s.Handle, "get_stats") }

// Proxy returns the backend the server belongs to.
func (s Server) Proxy() (Proxy, error) { return Call[Proxy](s.Handle, "get_proxy") }

// ShutSessions closes every session attached to the server.
func (s Server) ShutSessions() error { return s.Invoke("shut_sess") }

// SetDrain puts the server in drain mode: it stops receiving new connections.
func (s Server) SetDrain() error { return s.Invoke("set_drain") }

// SetMaint puts the server in maintenance mode.
func (s Server) SetMaint() error { return s.Invoke("set_maint") }

// SetReady puts the server back in normal mode.
func (s Server) SetReady() error { return s.Invoke("set_ready") }

// CheckEnable enables health checks on the server.
func (s Server) CheckEnable() error { return s.Invoke("check_enable") }

// CheckDisable disables health checks on the server.
func (s Server) CheckDisable() error { return s.Invoke("check_disable") }

// CheckForceUp forces the health check status to up.
func (s Server) CheckForceUp() error { return s.Invoke("check_force_up") }

// CheckForceNoLB forces the health check status to nolb, keeping the server up without new traffic.
func (s Server) CheckForceNoLB() error { return s.Invoke("check_force_nolb") }

// CheckForceDown forces the health check status to down.
func (s Server) CheckForceDown() error { return s.Invoke("check_force_down") }

// AgentEnable enables agent checks on the server.
func (s Server) AgentEnable() error { return s.Invoke("agent_enable") }

// AgentDisable disables agent checks on the server.
func (s Server) AgentDisable() error { return s.Invoke("agent_disable") }

// AgentForceUp forces the agent check status to up.
func (s Server) AgentForceUp() error { return s.Invoke("agent_force_up") }

// AgentForceDown forces the agent check status to down.
func (s Server) AgentForceDown() error { return s.Invoke("agent_force_down") }

// Tracking returns the server this one tracks for its health, if any.
func (s Server) Tracking() (marshal.Option[Server], error) {
	return Call[marshal.Option[Server]](s.Handle, "tracking")
}

// Trackers returns the servers tracking this one.
func (s Server) Trackers() ([]Server, error) {
	return Call[[]Server](s.Handle, "get_trackers")
}

// EventSub subscribes handler to the events of this server only. It behaves like
// the global core.event_sub with a server-scoped subscription list.
func (s Server) EventSub(eventTypes []string, handler EventHandler) (EventSubscription, error) {
	fn := lua.LGFunction(func(L *lua.LState) int {
		if err := handler(L.CheckString(1), L.Get(2)); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	})
	return CallFunction[EventSubscription](s.Handle, "event_sub", eventTypes, fn)
}
