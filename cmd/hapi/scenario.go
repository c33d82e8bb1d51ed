// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"github.com/hapgo/hapi/internal/luahost"
	"github.com/hapgo/hapi/internal/luamodule"
	"github.com/hapgo/hapi/txnstate"
)

// scenario is the content of a scenario file.
type scenario struct {
	Module  luamodule.Config      `json:"module,omitempty"`
	Proxies []luahost.ProxyConfig `json:"proxies,omitempty"`
	// SignalHeader receives the request URI before the request actions run, like
	// "http-request set-header x-request-uri %[url]" would. Defaults to the signal
	// header of the module.
	SignalHeader *string `json:"signalHeader,omitempty"`
	// Service is the service queried for the metrics once every transaction is done.
	Service      string        `json:"service,omitempty"`
	Transactions []transaction `json:"transactions,omitempty"`
}

type transaction struct {
	Request  luahost.Request  `json:"request"`
	Response luahost.Response `json:"response,omitempty"`
	// Latency is the time between the request and the response phases, such as "150ms".
	Latency string `json:"latency,omitempty"`
	// Repeat replays the transaction this many times. Defaults to 1.
	Repeat *int `json:"repeat,omitempty"`

	latency time.Duration
}

func loadScenario(path string) (*scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading scenario %s: %w", path, err)
	}
	var s scenario
	if err = yaml.UnmarshalStrict(raw, &s); err != nil {
		return nil, fmt.Errorf("error parsing scenario %s: %w", path, err)
	}
	if s.SignalHeader == nil {
		s.SignalHeader = ptr.To(cmp.Or(s.Module.SignalHeader, txnstate.DefaultSignalHeader))
	}
	var errs []error
	for i := range s.Transactions {
		tx := &s.Transactions[i]
		if tx.Latency != "" {
			if tx.latency, err = time.ParseDuration(tx.Latency); err != nil || tx.latency < 0 {
				errs = append(errs, fmt.Errorf("transaction #%d: invalid latency %q", i+1, tx.Latency))
			}
		}
		if ptr.Deref(tx.Repeat, 1) < 0 {
			errs = append(errs, fmt.Errorf("transaction #%d: negative repeat", i+1))
		}
	}
	if err = errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

// expand returns the transactions to replay, repeats included.
func (s *scenario) expand() []transaction {
	var out []transaction
	for _, tx := range s.Transactions {
		for range ptr.Deref(tx.Repeat, 1) {
			out = append(out, tx)
		}
	}
	return out
}

// request returns the request of tx with the signal header set.
func (s *scenario) request(tx transaction) luahost.Request {
	req := tx.Request
	if req.Path == "" {
		req.Path = "/"
	}
	if name := ptr.Deref(s.SignalHeader, ""); name != "" {
		req.Headers = append(append([]luahost.Header(nil), req.Headers...), luahost.Header{Name: name, Value: req.URI()})
	}
	return req
}
