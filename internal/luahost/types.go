// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package luahost

import "strings"

// Header is one header field. Fields with the same name keep their relative order.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Request is the request side of an emulated transaction.
type Request struct {
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`
	// Query is the query string without the question mark.
	Query   string   `json:"query,omitempty"`
	Version string   `json:"version,omitempty"`
	Headers []Header `json:"headers,omitempty"`
	Body    string   `json:"body,omitempty"`
}

// URI returns the path followed by the query string, if any.
func (r Request) URI() string {
	if r.Query == "" {
		return r.Path
	}
	return r.Path + "?" + r.Query
}

// Response is the response side of an emulated transaction, or what a service produced.
type Response struct {
	Status  int      `json:"status,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Version string   `json:"version,omitempty"`
	Headers []Header `json:"headers,omitempty"`
	Body    string   `json:"body,omitempty"`
}

// Header returns the last value of the header name and whether it is present.
func (r Response) Header(name string) (string, bool) {
	return lastHeader(r.Headers, name)
}

// LogEntry is a line logged through core.log or txn:log.
type LogEntry struct {
	// Level is the syslog severity, from 0 (emerg) to 7 (debug).
	Level   int    `json:"level"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// ProxyConfig describes a proxy of the emulated topology.
type ProxyConfig struct {
	Name string `json:"name"`
	// ID defaults to the position of the proxy, starting at 1.
	ID int `json:"id,omitempty"`
	// Capability is "frontend", "backend" or "proxy" (both). Defaults to "proxy".
	Capability string `json:"capability,omitempty"`
	// Mode is "tcp", "http" or "health". Defaults to "http".
	Mode       string            `json:"mode,omitempty"`
	Servers    []ServerConfig    `json:"servers,omitempty"`
	Listeners  []ListenerConfig  `json:"listeners,omitempty"`
	StickTable *StickTableConfig `json:"stickTable,omitempty"`
}

// ServerConfig describes a server of a proxy.
type ServerConfig struct {
	Name    string `json:"name"`
	Addr    string `json:"addr"`
	Port    int    `json:"port,omitempty"`
	Weight  *int   `json:"weight,omitempty"`
	MaxConn int    `json:"maxconn,omitempty"`
	Backup  bool   `json:"backup,omitempty"`
	Dynamic bool   `json:"dynamic,omitempty"`
	// Track is the tracked server, "server" in the same proxy or "proxy/server".
	Track string `json:"track,omitempty"`
	// Sessions is the initial number of current sessions.
	Sessions int `json:"sessions,omitempty"`
	// Pending is the initial number of queued connections.
	Pending int `json:"pending,omitempty"`
}

// ListenerConfig describes a bind line of a frontend.
type ListenerConfig struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// StickTableConfig describes the stick table of a proxy.
type StickTableConfig struct {
	// Type is the key type, such as "ip" or "string".
	Type   string `json:"type"`
	Size   int    `json:"size"`
	Length int    `json:"length,omitempty"`
	// Expire is in milliseconds.
	Expire int `json:"expire,omitempty"`
	// Data maps the stored data types to their period in milliseconds, 0 for counters.
	Data map[string]int `json:"data,omitempty"`
	// Entries maps keys to their data.
	Entries map[string]map[string]int64 `json:"entries,omitempty"`
}

func lastHeader(headers []Header, name string) (string, bool) {
	for i := len(headers) - 1; i >= 0; i-- {
		if strings.EqualFold(headers[i].Name, name) {
			return headers[i].Value, true
		}
	}
	return "", false
}
