// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

/*
Starts an interactive client that reads "filename factor" lines from
stdin and runs one distortion job per line against a coordinator. This is
deliberately a minimal line-oriented driver, not the operator CLI menu
named as out-of-scope in spec.md §1.

For usage details, run client with the command line flag -h or --help.
*/
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mediadistort/cluster/client"
	"github.com/mediadistort/cluster/clog"
	"github.com/mediadistort/cluster/components"
	"github.com/mediadistort/cluster/config"
)

func main() {
	var configPath string
	var help bool
	var log bool

	flag.Usage = usage
	flag.StringVar(&configPath, "c", "client.cfg", "path to the client config file")
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

	cfg, err := config.ReadClient(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	coordEP := components.Endpoint{Host: cfg.CoordIP, Port: cfg.CoordPort}
	orchestrator := client.New(cfg.User, cfg.UserDir, coordEP)

	fmt.Printf("Connected as %s, coordinator at %s\n", cfg.User, coordEP)
	fmt.Println("Enter \"filename factor\" to run a distortion job, or an empty line to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			fmt.Println("expected: filename factor")
			continue
		}
		factor, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Printf("invalid factor %q\n", fields[1])
			continue
		}

		err = orchestrator.Distort(fields[0], factor, func(percent int) {
			fmt.Printf("\r%s: %d%%", fields[0], percent)
		})
		fmt.Println()
		if err != nil {
			fmt.Printf("%s: failed: %v\n", fields[0], err)
			continue
		}
		fmt.Printf("%s: done\n", fields[0])
	}
}

func usage() {
	fmt.Printf(`usage: client [-h|--help] [-l] [-c configPath]

Starts an interactive client for the media-distortion cluster.

Flags:
`)
	flag.PrintDefaults()
}
