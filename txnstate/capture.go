// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package txnstate

import (
	"cmp"
	"fmt"
	"net/url"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/hapgo/hapi/haproxy"
)

const (
	// DefaultSignalHeader is the request header the query string is copied into by the
	// configuration, with "http-request set-header x-request-uri %[capture.req.uri]" or similar.
	DefaultSignalHeader = "x-request-uri"
	// DefaultTrimPrefix is removed from the start of the captured signal.
	DefaultTrimPrefix = "/?"
)

var (
	// RequestURIKey holds the captured query string between the two phases.
	RequestURIKey = MustKey[string]("txn.req_uri")
	// StartTimeKey holds the request timestamp, in milliseconds since the epoch.
	StartTimeKey = MustKey[int64]("txn.start_time")
)

// Capture records a signal and a timestamp in the request phase and turns them into an
// [Observation] in the response phase.
type Capture struct {
	// Header is the request header holding the signal. Defaults to DefaultSignalHeader.
	Header string
	// TrimPrefix is removed from the signal when present. Defaults to DefaultTrimPrefix.
	TrimPrefix string
	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

// Observation is what the response phase derives from the state of the request phase.
type Observation struct {
	Params  Params
	Elapsed time.Duration
}

// Params are the URL-encoded pairs of the signal.
type Params map[string][]string

// Label returns the last value of the parameter name, or "" when it is absent.
func (p Params) Label(name string) string {
	vs := p[name]
	if len(vs) == 0 {
		return ""
	}
	return vs[len(vs)-1]
}

// Has reports whether the parameter name is present, even with an empty value.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

func (c *Capture) header() string {
	return strings.ToLower(cmp.Or(c.Header, DefaultSignalHeader))
}

func (c *Capture) trimPrefix() string {
	if c.TrimPrefix == "" {
		return DefaultTrimPrefix
	}
	return c.TrimPrefix
}

func (c *Capture) clock() clock.PassiveClock {
	if c.Clock == nil {
		return clock.RealClock{}
	}
	return c.Clock
}

// Request runs in the request phase. It stores the signal, empty when the header is
// absent, and the current time in the transaction.
func (c *Capture) Request(txn haproxy.Txn) error {
	http, err := txn.HTTP()
	if err != nil {
		return fmt.Errorf("failed to get http object: %w", err)
	}
	headers, err := http.ReqGetHeaders()
	if err != nil {
		return fmt.Errorf("failed to get request headers: %w", err)
	}
	signal, _, err := headers.First(c.header())
	if err != nil {
		return fmt.Errorf("failed to read header %s: %w", c.header(), err)
	}
	signal = strings.TrimPrefix(signal, c.trimPrefix())

	if err = Put(txn, RequestURIKey, signal); err != nil {
		return err
	}
	return Put(txn, StartTimeKey, c.clock().Now().UnixMilli())
}

// Response runs in the response phase. Both values stored by Request are read before
// anything else happens: if either is missing, Response fails with a *MissingStateError.
func (c *Capture) Response(txn haproxy.Txn) (Observation, error) {
	signal, err := Get(txn, RequestURIKey)
	if err != nil {
		return Observation{}, err
	}
	start, err := Get(txn, StartTimeKey)
	if err != nil {
		return Observation{}, err
	}
	elapsed := c.clock().Since(time.UnixMilli(start))
	if elapsed < 0 {
		elapsed = 0
	}
	return Observation{Params: ParseParams(signal), Elapsed: elapsed}, nil
}

// ParseParams parses s as application/x-www-form-urlencoded pairs. It never fails:
// malformed escapes are kept verbatim, empty pairs are skipped and invalid UTF-8 is
// replaced with U+FFFD.
func ParseParams(s string) Params {
	params := Params{}
	for pair := range strings.SplitSeq(s, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		params[unescape(k)] = append(params[unescape(k)], unescape(v))
	}
	return params
}

func unescape(s string) string {
	u, err := url.QueryUnescape(s)
	if err != nil {
		u = strings.ReplaceAll(s, "+", " ")
	}
	return strings.ToValidUTF8(u, "\uFFFD")
}
