// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/hapgo/hapi/internal/version"
)

type (
	cmd struct {
		LogLevel  string     `help:"Log level. One of 'debug', 'info', 'warn' or 'error'." default:"info" enum:"debug,info,warn,error"`
		LogFormat string     `help:"Log format. One of 'console' or 'json'." default:"console" enum:"console,json"`
		Version   struct{}   `cmd:"" help:"Show version."`
		Replay    cmdReplay  `cmd:"" help:"Replay the transactions of a scenario through the metrics module and print the metrics it serves."`
		Inspect   cmdInspect `cmd:"" help:"Print the topology of a scenario as seen through the Lua API, as JSON."`
	}
	cmdReplay struct {
		Path        string `arg:"" name:"scenario" help:"Path to the scenario file." type:"path"`
		Concurrency int    `help:"Number of Lua states replaying transactions in parallel." default:"1"`
	}
	cmdInspect struct {
		Path string `arg:"" name:"scenario" help:"Path to the scenario file." type:"path"`
	}
)

type (
	replayFn  func(ctx context.Context, c cmdReplay, logging loggingOptions, stdout, stderr io.Writer) error
	inspectFn func(ctx context.Context, c cmdInspect, stdout io.Writer) error
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	doMain(ctx, os.Stdout, os.Stderr, os.Args[1:], replay, inspect)
}

func doMain(ctx context.Context, stdout, stderr io.Writer, args []string, rf replayFn, inf inspectFn) {
	var c cmd
	parser, err := kong.New(&c,
		kong.Name("hapi"),
		kong.Description("HAProxy Lua API toolkit"),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		log.Fatalf("Error creating parser: %v", err)
	}
	kctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)
	logging := loggingOptions{level: c.LogLevel, format: c.LogFormat}
	switch kctx.Command() {
	case "version":
		_, _ = fmt.Fprintf(stdout, "HAProxy Lua API toolkit: %s\n", version.Version)
	case "replay <scenario>":
		if err = rf(ctx, c.Replay, logging, stdout, stderr); err != nil {
			log.Fatalf("Error replaying: %v", err)
		}
	case "inspect <scenario>":
		if err = inf(ctx, c.Inspect, stdout); err != nil {
			log.Fatalf("Error inspecting: %v", err)
		}
	default:
		panic("unreachable")
	}
}
