// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package metrics holds the prometheus registry of the module and the metrics derived
// from the query parameters of requests.
package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultAppName is the value of the "app" label of the app_name gauge.
const DefaultAppName = "haproxy_prometheus_module"

// NewRegistry creates the registry shared by every state of the process. It registers
// the app_name gauge, labeled with appName and fixed at 1.
func NewRegistry(appName string) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	appGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_name",
			Help: "Metric with a constant '1' value labeled with app name",
		},
		[]string{"app"},
	)
	registry.MustRegister(appGauge)
	appGauge.WithLabelValues(appName).Set(1)
	return registry
}

// Render gathers g and encodes it in the Prometheus text exposition format.
func Render(g prometheus.Gatherer) ([]byte, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err = expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}
