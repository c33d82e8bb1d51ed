// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/hapgo/hapi/internal/luahost"
	"github.com/hapgo/hapi/internal/luamodule"
)

// replay runs every transaction of the scenario through the module on c.Concurrency
// Lua states sharing one module, then prints what the metrics service returns.
func replay(ctx context.Context, c cmdReplay, logging loggingOptions, stdout, stderr io.Writer) error {
	logger, err := newLogger(logging, stderr)
	if err != nil {
		return err
	}
	s, err := loadScenario(c.Path)
	if err != nil {
		return err
	}
	mod, err := luamodule.New(s.Module, logger, clock.RealClock{})
	if err != nil {
		return fmt.Errorf("error creating module: %w", err)
	}

	txs := s.expand()
	work := make(chan transaction)
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		for _, tx := range txs {
			select {
			case work <- tx:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for i := range max(c.Concurrency, 1) {
		g.Go(func() error {
			host, err := newHost(s, mod, logger.With("worker", i))
			if err != nil {
				return err
			}
			defer host.Close()
			for tx := range work {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := runTransaction(gctx, host, s.request(tx), tx); err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					failed.Add(1)
					logger.Warn("transaction failed", slog.String("uri", tx.Request.URI()), slog.Any("error", err))
				}
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}
	logger.Info("replay done", slog.Int("transactions", len(txs)), slog.Int64("failed", failed.Load()))

	host, err := newHost(s, mod, logger)
	if err != nil {
		return err
	}
	defer host.Close()
	res, err := host.Serve(cmp.Or(s.Service, mod.Config().Service), luahost.Request{Path: "/metrics"})
	if err != nil {
		return fmt.Errorf("error serving metrics: %w", err)
	}
	_, err = io.WriteString(stdout, res.Body)
	return err
}

// newHost creates a Lua state with the topology of the scenario and the module loaded.
func newHost(s *scenario, mod *luamodule.Module, logger *slog.Logger) (*luahost.Host, error) {
	host, err := luahost.New(luahost.WithProxies(s.Proxies...), luahost.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("error creating host: %w", err)
	}
	mod.Preload(host.L)
	if err = host.Require(luamodule.ModuleName); err != nil {
		host.Close()
		return nil, fmt.Errorf("error loading module: %w", err)
	}
	if err = host.Init(); err != nil {
		host.Close()
		return nil, err
	}
	return host, nil
}

// runTransaction runs the request actions, waits for the latency of tx, then runs the
// response actions.
func runTransaction(ctx context.Context, host *luahost.Host, req luahost.Request, tx transaction) error {
	txn := host.NewTxn(req)
	errReq := txn.Run(luahost.ActionHTTPReq)
	if tx.latency > 0 {
		timer := time.NewTimer(tx.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	txn.SetResponse(tx.Response)
	if err := txn.Run(luahost.ActionHTTPRes); err != nil {
		return err
	}
	if err := txn.Run(luahost.ActionHTTPAfterRes); err != nil {
		return err
	}
	return errReq
}
