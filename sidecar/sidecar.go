// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package sidecar implements the minimal log-sink collaborator of
// spec.md §4.7: an append-only consumer of TYPE=LOG frames read from a
// one-way pipe. The sidecar is named in spec.md §1 as an external,
// out-of-scope collaborator; this package is the thin piece needed to give
// the coordinator's logEvent frames somewhere real to land.
package sidecar

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mediadistort/cluster/frame"
)

// Run reads BufferSize-byte frames from r until r returns an error (the
// coordinator closing its end of the pipe is the expected shutdown path),
// decoding each one and appending "[ts] message\n" to the log file at path,
// which is opened O_APPEND (spec.md §6).
func Run(r io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sidecar: create log directory: %w", err)
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("sidecar: open log file: %w", err)
	}
	defer out.Close()

	for {
		f, err := frame.Read(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("sidecar: read frame: %w", err)
		}
		if f.Type != frame.TypeLog {
			continue
		}
		line := fmt.Sprintf("[%s] %s\n", f.Timestamp.Format("2006-01-02T15:04:05Z07:00"), f.Payload)
		if _, err := out.WriteString(line); err != nil {
			return fmt.Errorf("sidecar: write log line: %w", err)
		}
	}
}
