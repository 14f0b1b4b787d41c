// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

/*
Starts a coordinator that brokers workers to clients, elects one principal
worker per media kind, keeps heartbeat liveness on each worker, and logs
every registry transition to a sidecar process over a pipe.

For usage details, run coordinator with the command line flag -h or --help.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/mediadistort/cluster/clog"
	"github.com/mediadistort/cluster/components"
	"github.com/mediadistort/cluster/config"
)

func main() {
	var configPath string
	var sidecarPath string
	var help bool
	var log bool

	flag.Usage = usage
	flag.StringVar(&configPath, "c", "coordinator.cfg", "path to the coordinator config file")
	flag.StringVar(&sidecarPath, "s", "", "path to the log sidecar binary (empty disables logging to a sidecar)")
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

	cfg, err := config.ReadCoordinator(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}

	logSink, cleanup := openSidecar(sidecarPath)
	defer cleanup()

	fleckEP := components.Endpoint{Host: cfg.ClientIP, Port: cfg.ClientPort}
	workerEP := components.Endpoint{Host: cfg.WorkerIP, Port: cfg.WorkerPort}
	coordinator := components.NewCoordinator(fleckEP, workerEP, logSink)

	// Handle SIGINT/SIGTERM.
	signaled := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer close(signaled)
		fmt.Printf("Terminating coordinator on signal %v...\n", <-sigCh)
	}()

	fmt.Printf("Starting coordinator: clients on %s, workers on %s\n", fleckEP, workerEP)

	ctx, cancel := context.WithCancel(context.Background())
	completed := make(chan struct{})
	go func() {
		defer close(completed)
		if err := coordinator.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
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

// openSidecar starts the sidecar binary at path, if given, wiring its
// stdin to the returned writer; spec.md §4.7 treats the sidecar itself as
// an external, out-of-scope collaborator. With no path, logging is local
// only (clog) and logSink is nil.
func openSidecar(path string) (logSink io.Writer, cleanup func()) {
	if path == "" {
		return nil, func() {}
	}
	cmd := exec.Command(path)
	pipe, err := cmd.StdinPipe()
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: open sidecar pipe: %v\n", err)
		return nil, func() {}
	}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: start sidecar: %v\n", err)
		return nil, func() {}
	}
	return pipe, func() {
		pipe.Close()
		cmd.Wait()
	}
}

func usage() {
	fmt.Printf(`usage: coordinator [-h|--help] [-l] [-c configPath] [-s sidecarPath]

Starts a coordinator process for the media-distortion cluster.

Flags:
`)
	flag.PrintDefaults()
}
