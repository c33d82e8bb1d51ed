// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package metrics

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hapgo/hapi/txnstate"
)

// DefaultHistogramBucketsSeconds are the buckets of the response time histogram.
var DefaultHistogramBucketsSeconds = []float64{0.1, 0.25, 0.5, 0.75, 1.0, 2.5, 5.0, 7.5, 10.0}

// DefaultParams are the query parameters tracked when none are configured.
var DefaultParams = []string{"foo", "bar"}

// Config configures [NewQueryMetrics].
type Config struct {
	// Params are the tracked query parameters. Each one gets a counter and a histogram label.
	Params []string `json:"params,omitempty"`
	// Buckets of the response time histogram, in seconds. Defaults to DefaultHistogramBucketsSeconds.
	Buckets []float64 `json:"buckets,omitempty"`
}

// Validate reports the problems of c. A nil error means NewQueryMetrics will accept it.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(c.Params))
	for _, p := range c.Params {
		if p == "" {
			errs = append(errs, errors.New("empty parameter name"))
			continue
		}
		if _, ok := seen[p]; ok {
			errs = append(errs, fmt.Errorf("duplicate parameter %q", p))
		}
		seen[p] = struct{}{}
	}
	for i := 1; i < len(c.Buckets); i++ {
		if c.Buckets[i] <= c.Buckets[i-1] {
			errs = append(errs, fmt.Errorf("buckets must be strictly increasing, got %v after %v", c.Buckets[i], c.Buckets[i-1]))
			break
		}
	}
	return errors.Join(errs...)
}

// QueryMetrics counts requests per query parameter value and observes the response
// time labeled with the value of every tracked parameter. It is safe for concurrent use.
type QueryMetrics struct {
	params []string
	// requests has one counter per tracked parameter, labeled with the parameter value.
	requests map[string]*prometheus.CounterVec
	// responseTime is the time between the request and the response phases.
	responseTime *prometheus.HistogramVec
}

// NewQueryMetrics validates cfg and registers its metrics on registerer. It panics if a
// metric is already registered: registration happens once per process.
func NewQueryMetrics(registerer prometheus.Registerer, cfg Config) (*QueryMetrics, error) {
	if len(cfg.Params) == 0 {
		cfg.Params = DefaultParams
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = DefaultHistogramBucketsSeconds
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	m := &QueryMetrics{
		params:   slices.Clone(cfg.Params),
		requests: make(map[string]*prometheus.CounterVec, len(cfg.Params)),
		responseTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "total_response_time_seconds",
				Help:    "Response time.",
				Buckets: cfg.Buckets,
			},
			cfg.Params,
		),
	}
	for _, p := range cfg.Params {
		c := prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: p + "_http_requests_total",
				Help: fmt.Sprintf("Number of HTTP requests made with %s query param.", p),
			},
			[]string{"param"},
		)
		registerer.MustRegister(c)
		m.requests[p] = c
	}
	registerer.MustRegister(m.responseTime)
	return m, nil
}

// Params returns the tracked query parameters.
func (m *QueryMetrics) Params() []string { return slices.Clone(m.params) }

// Record increments the counter of every tracked parameter present in params and
// observes elapsed in the histogram. Absent parameters are labeled "". The histogram
// carries every label, so it is resolved first: an invalid label value fails Record
// before any series exists.
func (m *QueryMetrics) Record(params txnstate.Params, elapsed time.Duration) error {
	labels := make([]string, len(m.params))
	for i, p := range m.params {
		labels[i] = params.Label(p)
	}
	h, err := m.responseTime.GetMetricWithLabelValues(labels...)
	if err != nil {
		return fmt.Errorf("failed to record response time: %w", err)
	}
	counters := make([]prometheus.Counter, 0, len(m.params))
	for i, p := range m.params {
		if !params.Has(p) {
			continue
		}
		c, err := m.requests[p].GetMetricWithLabelValues(labels[i])
		if err != nil {
			return fmt.Errorf("failed to count %s: %w", p, err)
		}
		counters = append(counters, c)
	}
	for _, c := range counters {
		c.Inc()
	}
	h.Observe(elapsed.Seconds())
	return nil
}
