// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"net"
	"sync"

	"github.com/mediadistort/cluster/frame"
)

// Link wraps a net.Conn so that writes triggered by different goroutines
// (a connection's own task vs. a registry promoting it from another
// goroutine) never interleave on the wire. It implements WorkerHandle.
type Link struct {
	conn net.Conn
	mu   sync.Mutex
}

// NewLink wraps conn in a Link.
func NewLink(conn net.Conn) *Link {
	return &Link{conn: conn}
}

// Send encodes and writes a single frame.
func (l *Link) Send(t frame.Type, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return frame.Write(l.conn, t, payload)
}

// Read reads and decodes a single frame. Concurrent Reads are not
// supported; each link has exactly one reading goroutine by design
// (spec.md §5: "no pipelining").
func (l *Link) Read() (frame.Frame, error) {
	return frame.Read(l.conn)
}

// Close shuts the underlying connection down, unblocking any blocked Read.
func (l *Link) Close() error {
	return l.conn.Close()
}

// RemoteAddr returns the underlying connection's remote address string.
func (l *Link) RemoteAddr() string {
	return l.conn.RemoteAddr().String()
}
