// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/tidwall/sjson"

	"github.com/hapgo/hapi/haproxy"
	"github.com/hapgo/hapi/internal/luahost"
)

// inspect loads the topology of a scenario and prints it as read back through the
// typed accessors.
func inspect(ctx context.Context, c cmdInspect, stdout io.Writer) error {
	s, err := loadScenario(c.Path)
	if err != nil {
		return err
	}
	host, err := luahost.New(luahost.WithProxies(s.Proxies...))
	if err != nil {
		return fmt.Errorf("error creating host: %w", err)
	}
	defer host.Close()

	core, err := haproxy.GetCore(host.L)
	if err != nil {
		return err
	}
	proxies, err := core.Proxies()
	if err != nil {
		return fmt.Errorf("error reading proxies: %w", err)
	}
	doc := []byte(`{"proxies":[]}`)
	for i, name := range slices.Sorted(maps.Keys(proxies)) {
		if err = ctx.Err(); err != nil {
			return err
		}
		if doc, err = describeProxy(doc, fmt.Sprintf("proxies.%d", i), proxies[name]); err != nil {
			return fmt.Errorf("error describing proxy %s: %w", name, err)
		}
	}
	_, err = fmt.Fprintln(stdout, string(doc))
	return err
}

// jsonDoc accumulates sjson writes, keeping the first error.
type jsonDoc struct {
	raw []byte
	err error
}

func (d *jsonDoc) set(path string, v any) {
	if d.err != nil {
		return
	}
	d.raw, d.err = sjson.SetBytes(d.raw, path, v)
}

func describeProxy(raw []byte, path string, p haproxy.Proxy) ([]byte, error) {
	d := &jsonDoc{raw: raw}
	name, err := p.Name()
	if err != nil {
		return nil, err
	}
	capability, err := p.Capability()
	if err != nil {
		return nil, err
	}
	mode, err := p.Mode()
	if err != nil {
		return nil, err
	}
	active, err := p.ActiveServers()
	if err != nil {
		return nil, err
	}
	backup, err := p.BackupServers()
	if err != nil {
		return nil, err
	}
	d.set(path+".name", name)
	d.set(path+".capability", capability.String())
	d.set(path+".mode", mode.String())
	d.set(path+".activeServers", active)
	d.set(path+".backupServers", backup)

	servers, err := p.Servers()
	if err != nil {
		return nil, err
	}
	d.set(path+".servers", []any{})
	for i, srvName := range slices.Sorted(maps.Keys(servers)) {
		if err = describeServer(d, fmt.Sprintf("%s.servers.%d", path, i), servers[srvName]); err != nil {
			return nil, fmt.Errorf("server %s: %w", srvName, err)
		}
	}

	listeners, err := p.Listeners()
	if err != nil {
		return nil, err
	}
	d.set(path+".listeners", append([]string{}, slices.Sorted(maps.Keys(listeners))...))

	table, err := p.StickTable()
	if err != nil {
		return nil, err
	}
	if st, ok := table.Get(); ok {
		info, err := st.Info()
		if err != nil {
			return nil, err
		}
		d.set(path+".stickTable.type", info.Type)
		d.set(path+".stickTable.size", info.Size)
		d.set(path+".stickTable.used", info.Used)
	}
	return d.raw, d.err
}

func describeServer(d *jsonDoc, path string, s haproxy.Server) error {
	name, err := s.Name()
	if err != nil {
		return err
	}
	addr, err := s.Addr()
	if err != nil {
		return err
	}
	weight, err := s.Weight()
	if err != nil {
		return err
	}
	backup, err := s.IsBackup()
	if err != nil {
		return err
	}
	stats, err := s.Stats()
	if err != nil {
		return err
	}
	tracking, err := s.Tracking()
	if err != nil {
		return err
	}
	d.set(path+".name", name)
	d.set(path+".addr", addr)
	d.set(path+".weight", weight)
	d.set(path+".backup", backup)
	d.set(path+".status", stats["status"])
	if tracked, ok := tracking.Get(); ok {
		trackedName, err := tracked.Name()
		if err != nil {
			return err
		}
		d.set(path+".tracking", trackedName)
	}
	return nil
}
