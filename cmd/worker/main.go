// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

/*
Starts a worker that connects to a coordinator declaring a fixed media
kind, serves heartbeats, and on promotion to principal accepts client
links and runs the file-transfer-and-distortion state machine.

For usage details, run worker with the command line flag -h or --help.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mediadistort/cluster/clog"
	"github.com/mediadistort/cluster/components"
	"github.com/mediadistort/cluster/config"
)

func main() {
	var configPath string
	var help bool
	var log bool

	flag.Usage = usage
	flag.StringVar(&configPath, "c", "worker.cfg", "path to the worker config file")
	flag.BoolVar(&help, "h", false, "Show usage information")
	flag.BoolVar(&log, "l", false, "Show logging output (for debugging)")
	flag.Parse()

	if help {
		usage()
		os.Exit(0)
	}

	if log {
		clog.Enable()
	}

	cfg, err := config.ReadWorker(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}

	kind := components.ParseKind(cfg.Kind)
	if kind == components.KindUnknown {
		fmt.Fprintf(os.Stderr, "worker: unrecognized kind %q in config\n", cfg.Kind)
		os.Exit(1)
	}

	coordEP := components.Endpoint{Host: cfg.CoordIP, Port: cfg.CoordPort}
	serveEP := components.Endpoint{Host: cfg.ServeIP, Port: cfg.ServePort}
	worker := components.NewWorker(kind, serveEP, cfg.WorkerDir)

	// Handle SIGINT/SIGTERM.
	signaled := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer close(signaled)
		fmt.Printf("Terminating worker on signal %v...\n", <-sigCh)
	}()

	fmt.Printf("Starting %s worker, connecting to coordinator at %s...\n", kind, coordEP)

	ctx, cancel := context.WithCancel(context.Background())
	completed := make(chan struct{})
	go func() {
		defer close(completed)
		if err := worker.Start(ctx, coordEP); err != nil {
			fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		}
	}()

	for {
		select {
		case <-signaled:
			signaled = nil
			cancel()
		case <-completed:
			return
		}
	}
}

func usage() {
	fmt.Printf(`usage: worker [-h|--help] [-l] [-c configPath]

Starts a worker process for the media-distortion cluster.

Flags:
`)
	flag.PrintDefaults()
}
