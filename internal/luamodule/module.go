// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package luamodule is the Lua module that exports query parameter metrics from HAProxy.
//
// It registers two actions and one service:
//
//	http-request  lua.metrics_req        records the query string and the start time
//	http-after-response lua.metrics_resp updates the metrics
//	http-request  use-service lua.serve_metrics
//
// The query string must be copied into the x-request-uri header before metrics_req runs.
package luamodule

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	lua "github.com/yuin/gopher-lua"
	"k8s.io/utils/clock"

	"github.com/hapgo/hapi/haproxy"
	"github.com/hapgo/hapi/internal/metrics"
	"github.com/hapgo/hapi/marshal"
	"github.com/hapgo/hapi/txnstate"
)

// ModuleName is the name the module is preloaded under.
const ModuleName = "hapi"

// Config configures the module. The zero value is usable.
type Config struct {
	// AppName labels the app_name gauge. Defaults to metrics.DefaultAppName.
	AppName string `json:"appName,omitempty"`
	// SignalHeader defaults to txnstate.DefaultSignalHeader.
	SignalHeader string `json:"signalHeader,omitempty"`
	// TrimPrefix defaults to txnstate.DefaultTrimPrefix.
	TrimPrefix string `json:"trimPrefix,omitempty"`
	// RequestAction is the name of the http-req action. Defaults to "metrics_req".
	RequestAction string `json:"requestAction,omitempty"`
	// ResponseAction is the name of the http-after-res action. Defaults to "metrics_resp".
	ResponseAction string `json:"responseAction,omitempty"`
	// Service is the name of the metrics service. Defaults to "serve_metrics".
	Service string `json:"service,omitempty"`
	Metrics metrics.Config `json:"metrics,omitempty"`
}

// Module holds the process-wide state: the registry and the metrics are created once
// and shared by every Lua state that loads the module.
type Module struct {
	cfg      Config
	logger   *slog.Logger
	capture  *txnstate.Capture
	registry *prometheus.Registry
	metrics  *metrics.QueryMetrics
}

// New creates the module and registers its metrics. logger receives the debug output
// of the hooks; clk defaults to the real clock.
func New(cfg Config, logger *slog.Logger, clk clock.PassiveClock) (*Module, error) {
	cfg.AppName = cmp.Or(cfg.AppName, metrics.DefaultAppName)
	cfg.RequestAction = cmp.Or(cfg.RequestAction, "metrics_req")
	cfg.ResponseAction = cmp.Or(cfg.ResponseAction, "metrics_resp")
	cfg.Service = cmp.Or(cfg.Service, "serve_metrics")
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	registry := metrics.NewRegistry(cfg.AppName)
	qm, err := metrics.NewQueryMetrics(registry, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	return &Module{
		cfg:    cfg,
		logger: logger,
		capture: &txnstate.Capture{
			Header:     cfg.SignalHeader,
			TrimPrefix: cfg.TrimPrefix,
			Clock:      clk,
		},
		registry: registry,
		metrics:  qm,
	}, nil
}

// Registry returns the registry of the module.
func (m *Module) Registry() *prometheus.Registry { return m.registry }

// Config returns the configuration with defaults applied.
func (m *Module) Config() Config { return m.cfg }

// Loader is a lua.LGFunction for L.PreloadModule. Requiring the module registers its
// actions and service in the state and returns true.
func (m *Module) Loader(L *lua.LState) int {
	if err := m.Register(L); err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(lua.LTrue)
	return 1
}

// Preload makes the module available to require in L.
func (m *Module) Preload(L *lua.LState) {
	L.PreloadModule(ModuleName, m.Loader)
}

// Register registers the actions and the service with the core of L.
func (m *Module) Register(L *lua.LState) error {
	core, err := haproxy.GetCore(L)
	if err != nil {
		return err
	}
	if err = core.RegisterAction(m.cfg.RequestAction, []haproxy.Action{haproxy.ActionHTTPReq}, 0, m.onRequest); err != nil {
		return fmt.Errorf("failed to register %s: %w", m.cfg.RequestAction, err)
	}
	if err = core.RegisterAction(m.cfg.ResponseAction, []haproxy.Action{haproxy.ActionHTTPAfterRes}, 0, m.onResponse); err != nil {
		return fmt.Errorf("failed to register %s: %w", m.cfg.ResponseAction, err)
	}
	if err = core.RegisterHTTPService(m.cfg.Service, m.serveMetrics); err != nil {
		return fmt.Errorf("failed to register %s: %w", m.cfg.Service, err)
	}
	return nil
}

func (m *Module) onRequest(txn haproxy.Txn, _ []string) error {
	if m.logger.Enabled(context.Background(), slog.LevelDebug) {
		http, err := txn.HTTP()
		if err != nil {
			return err
		}
		headers, err := http.ReqGetHeaders()
		if err != nil {
			return err
		}
		if err = m.logHeaders("request header", headers); err != nil {
			return err
		}
	}
	return m.capture.Request(txn)
}

func (m *Module) onResponse(txn haproxy.Txn, _ []string) error {
	if m.logger.Enabled(context.Background(), slog.LevelDebug) {
		http, err := txn.HTTP()
		if err != nil {
			return err
		}
		headers, err := http.ResGetHeaders()
		if err != nil {
			return err
		}
		if err = m.logHeaders("response header", headers); err != nil {
			return err
		}
	}

	obs, err := m.capture.Response(txn)
	if err != nil {
		txn.Logger().Error("metrics skipped", "error", err)
		return err
	}

	method, err := txn.F.String("method")
	if err != nil {
		return err
	}
	status, err := txn.F.String("status")
	if err != nil {
		return err
	}
	m.logger.Debug("transaction done",
		slog.String("method", method),
		slog.String("status", status),
		slog.Duration("elapsed", obs.Elapsed),
		slog.Any("params", obs.Params),
	)
	return m.metrics.Record(obs.Params, obs.Elapsed)
}

func (m *Module) logHeaders(msg string, headers haproxy.Headers) error {
	for field, err := range haproxy.AllHeaders[string](headers) {
		if err != nil {
			return err
		}
		m.logger.Debug(msg, slog.String("name", field.Name), slog.Any("values", field.Values))
	}
	return nil
}

func (m *Module) serveMetrics(applet haproxy.AppletHTTP) error {
	body, err := metrics.Render(m.registry)
	if err != nil {
		return err
	}
	if err = applet.SetStatus(200, marshal.None[string]()); err != nil {
		return err
	}
	if err = applet.AddHeader("content-length", len(body)); err != nil {
		return err
	}
	if err = applet.AddHeader("content-type", "application/octet-stream"); err != nil {
		return err
	}
	if err = applet.StartResponse(); err != nil {
		return err
	}
	return applet.Send(string(body))
}
