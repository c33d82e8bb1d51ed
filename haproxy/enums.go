// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/hapgo/hapi/marshal"
)

// enumTags maps the host tags of an enum to its variants.
// Unknown tags decode to the fallback variant instead of failing, so adding tags on the
// host side never breaks existing code.
type enumTags[E comparable] struct {
	tags     []string // indexed by variant
	byTag    map[string]E
	fallback E
}

func newEnumTags[E ~int](fallback E, tags ...string) enumTags[E] {
	byTag := make(map[string]E, len(tags))
	for i, tag := range tags {
		byTag[tag] = E(i)
	}
	return enumTags[E]{tags: tags, byTag: byTag, fallback: fallback}
}

// decode matches tag exactly and case-sensitively.
func (t enumTags[E]) decode(tag string) E {
	if e, ok := t.byTag[tag]; ok {
		return e
	}
	return t.fallback
}

func (t enumTags[E]) decodeValue(L *lua.LState, v lua.LValue) (E, error) {
	tag, err := marshal.Decode[string](L, v)
	if err != nil {
		return t.fallback, err
	}
	return t.decode(tag), nil
}

func (t enumTags[E]) tag(i int) string {
	if i < 0 || i >= len(t.tags) {
		return "unknown"
	}
	return t.tags[i]
}

// ProxyCapability describes what a proxy can be used as.
type ProxyCapability int

// Capabilities of a proxy, as returned by get_cap.
const (
	ProxyCapabilityFrontend ProxyCapability = iota
	ProxyCapabilityBackend
	ProxyCapabilityProxy
	ProxyCapabilityRuleset
	// ProxyCapabilityUnknown is the variant of any tag this package does not know.
	ProxyCapabilityUnknown
)

var proxyCapabilityTags = newEnumTags(ProxyCapabilityUnknown, "frontend", "backend", "proxy", "ruleset")

// ParseProxyCapability decodes the host tag. It never fails.
func ParseProxyCapability(tag string) ProxyCapability { return proxyCapabilityTags.decode(tag) }

// String implements fmt.Stringer.
func (c ProxyCapability) String() string { return proxyCapabilityTags.tag(int(c)) }

// EncodeLua implements [marshal.Encoder].
func (c ProxyCapability) EncodeLua(*lua.LState) (lua.LValue, error) { return lua.LString(c.String()), nil }

// DecodeLua implements [marshal.Decoder].
func (c *ProxyCapability) DecodeLua(L *lua.LState, v lua.LValue) (err error) {
	*c, err = proxyCapabilityTags.decodeValue(L, v)
	return
}

// ProxyMode is the mode a proxy runs in.
type ProxyMode int

// Modes of a proxy, as returned by get_mode.
const (
	ProxyModeTCP ProxyMode = iota
	ProxyModeHTTP
	ProxyModeHealth
	// ProxyModeUnknown is the variant of any tag this package does not know.
	ProxyModeUnknown
)

var proxyModeTags = newEnumTags(ProxyModeUnknown, "tcp", "http", "health")

// ParseProxyMode decodes the host tag. It never fails.
func ParseProxyMode(tag string) ProxyMode { return proxyModeTags.decode(tag) }

// String implements fmt.Stringer.
func (m ProxyMode) String() string { return proxyModeTags.tag(int(m)) }

// EncodeLua implements [marshal.Encoder].
func (m ProxyMode) EncodeLua(*lua.LState) (lua.LValue, error) { return lua.LString(m.String()), nil }

// DecodeLua implements [marshal.Decoder].
func (m *ProxyMode) DecodeLua(L *lua.LState, v lua.LValue) (err error) {
	*m, err = proxyModeTags.decodeValue(L, v)
	return
}

// LogLevel is a syslog severity as used by HAProxy. The host represents it as an integer from 0 to 7.
type LogLevel int

// Syslog severities, in the order of their HAProxy numeric value.
const (
	LogLevelEmerg LogLevel = iota
	LogLevelAlert
	LogLevelCrit
	LogLevelErr
	LogLevelWarning
	LogLevelNotice
	LogLevelInfo
	LogLevelDebug
	// LogLevelUnknown is the variant of any tag or number this package does not know.
	LogLevelUnknown
)

var logLevelTags = newEnumTags(LogLevelUnknown, "emerg", "alert", "crit", "err", "warning", "notice", "info", "debug")

// ParseLogLevel decodes the host tag. It never fails.
func ParseLogLevel(tag string) LogLevel { return logLevelTags.decode(tag) }

// String implements fmt.Stringer.
func (l LogLevel) String() string { return logLevelTags.tag(int(l)) }

// EncodeLua implements [marshal.Encoder].
func (l LogLevel) EncodeLua(*lua.LState) (lua.LValue, error) {
	if l < LogLevelEmerg || l >= LogLevelUnknown {
		return lua.LNumber(LogLevelInfo), nil
	}
	return lua.LNumber(l), nil
}

// DecodeLua implements [marshal.Decoder]. It accepts both the tag and the integer form.
func (l *LogLevel) DecodeLua(L *lua.LState, v lua.LValue) error {
	if n, ok := v.(lua.LNumber); ok {
		i := int(n)
		if float64(i) != float64(n) || i < int(LogLevelEmerg) || i >= int(LogLevelUnknown) {
			*l = LogLevelUnknown
			return nil
		}
		*l = LogLevel(i)
		return nil
	}
	var err error
	*l, err = logLevelTags.decodeValue(L, v)
	return err
}

// Action is a point of the processing where an action registered with [Core.RegisterAction] runs.
type Action int

// Processing points an action can be registered at.
const (
	ActionTCPReq Action = iota
	ActionTCPRes
	ActionHTTPReq
	ActionHTTPRes
	ActionHTTPAfterRes
	// ActionUnknown is the variant of any tag this package does not know.
	ActionUnknown
)

var actionTags = newEnumTags(ActionUnknown, "tcp-req", "tcp-res", "http-req", "http-res", "http-after-res")

// ParseAction decodes the host tag. It never fails.
func ParseAction(tag string) Action { return actionTags.decode(tag) }

// String implements fmt.Stringer.
func (a Action) String() string { return actionTags.tag(int(a)) }

// EncodeLua implements [marshal.Encoder].
func (a Action) EncodeLua(*lua.LState) (lua.LValue, error) { return lua.LString(a.String()), nil }

// DecodeLua implements [marshal.Decoder].
func (a *Action) DecodeLua(L *lua.LState, v lua.LValue) (err error) {
	*a, err = actionTags.decodeValue(L, v)
	return
}

// ServiceMode is the protocol a service registered with [Core.RegisterService] speaks.
type ServiceMode int

// Modes a service can be registered with.
const (
	ServiceModeTCP ServiceMode = iota
	ServiceModeHTTP
	// ServiceModeUnknown is the variant of any tag this package does not know.
	ServiceModeUnknown
)

var serviceModeTags = newEnumTags(ServiceModeUnknown, "tcp", "http")

// ParseServiceMode decodes the host tag. It never fails.
func ParseServiceMode(tag string) ServiceMode { return serviceModeTags.decode(tag) }

// String implements fmt.Stringer.
func (m ServiceMode) String() string { return serviceModeTags.tag(int(m)) }

// EncodeLua implements [marshal.Encoder].
func (m ServiceMode) EncodeLua(*lua.LState) (lua.LValue, error) { return lua.LString(m.String()), nil }

// DecodeLua implements [marshal.Decoder].
func (m *ServiceMode) DecodeLua(L *lua.LState, v lua.LValue) (err error) {
	*m, err = serviceModeTags.decodeValue(L, v)
	return
}
