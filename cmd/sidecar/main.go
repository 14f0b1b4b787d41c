// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

/*
Starts the log sidecar: a minimal append-only consumer of TYPE=LOG frames
read from stdin, one coordinator per sidecar process (spec.md §4.7).

For usage details, run sidecar with the command line flag -h or --help.
*/
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mediadistort/cluster/sidecar"
)

func main() {
	var logPath string
	var help bool

	flag.Usage = usage
	flag.StringVar(&logPath, "o", "arkham/logs.txt", "path to the append-only log file")
	flag.BoolVar(&help, "h", false, "Show usage information")
	flag.Parse()

	if help {
		usage()
		os.Exit(0)
	}

	if err := sidecar.Run(os.Stdin, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "sidecar: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf(`usage: sidecar [-h|--help] [-o logPath]

Reads TYPE=LOG frames from stdin and appends them to logPath.

Flags:
`)
	flag.PrintDefaults()
}
