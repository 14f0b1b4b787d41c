// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediadistort/cluster/clog"
	"github.com/mediadistort/cluster/frame"
)

// HeartbeatInterval is the coordinator-active liveness probe period
// (spec.md §4.3).
const HeartbeatInterval = 5 * time.Second

// A Coordinator brokers workers to clients, elects one principal worker per
// Kind, keeps heartbeat liveness on each worker, and logs every state
// transition to a sidecar. It is the only component that knows both
// listening endpoints (spec.md §4.2).
type Coordinator struct {
	*clog.CLogger
	id       string
	fleckEP  Endpoint
	workerEP Endpoint
	workers  *WorkerRegistry
	clients  *ClientRegistry
	cursors  *CursorTable
	logSink  io.Writer
	wg       sync.WaitGroup
}

// NewCoordinator creates a Coordinator listening for clients at fleckEP and
// for workers at workerEP, logging every registry transition as a
// TYPE=LOG frame to logSink (spec.md §4.7).
func NewCoordinator(fleckEP, workerEP Endpoint, logSink io.Writer) *Coordinator {
	id := uuid.NewString()
	return &Coordinator{
		CLogger:  clog.New("coordinator %s ", clog.ShortID(id)),
		id:       id,
		fleckEP:  fleckEP,
		workerEP: workerEP,
		workers:  NewWorkerRegistry(),
		clients:  NewClientRegistry(),
		cursors:  NewCursorTable(),
		logSink:  logSink,
	}
}

// Start opens both listeners and serves until ctx is canceled, then closes
// both listeners, shuts down every client and worker link it owns to
// unblock their connection tasks, and waits for them to finish.
func (c *Coordinator) Start(ctx context.Context) error {
	fleckLn, err := net.Listen("tcp", net.JoinHostPort(c.fleckEP.Host, strconv.Itoa(c.fleckEP.Port)))
	if err != nil {
		return fmt.Errorf("coordinator: listen for clients: %w", err)
	}
	workerLn, err := net.Listen("tcp", net.JoinHostPort(c.workerEP.Host, strconv.Itoa(c.workerEP.Port)))
	if err != nil {
		fleckLn.Close()
		return fmt.Errorf("coordinator: listen for workers: %w", err)
	}

	c.Printf("Listening for clients on %s, workers on %s", c.fleckEP, c.workerEP)

	go c.acceptLoop(fleckLn, c.handleClientConn)
	go c.acceptLoop(workerLn, c.handleWorkerConn)

	<-ctx.Done()

	c.Printf("Shutting down")
	fleckLn.Close()
	workerLn.Close()
	c.clients.CloseAll()
	c.workers.CloseAll()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed during shutdown
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			handle(conn)
		}()
	}
}

// handleWorkerConn implements the worker connection task of spec.md §4.2:
// the first frame is either WORKER_CONNECT (kind&host&port), registering a
// persistent worker that is told whether it is principal or standby before
// heartbeats run until disconnect or failure (at which point the worker is
// removed and, if it was principal, its kind is re-elected), or a one-shot
// CURSOR_SYNC against the coordinator-side resume-cursor store (spec.md §9).
func (c *Coordinator) handleWorkerConn(conn net.Conn) {
	link := NewLink(conn)
	defer link.Close()

	f, err := link.Read()
	if err != nil {
		c.Errorf("Failed reading worker connection: %v", err)
		return
	}
	if f.Type == frame.TypeCursorSync {
		c.handleCursorSync(link, f)
		return
	}
	if f.Type != frame.TypeWorkerConnect {
		c.Errorf("Expected WORKER_CONNECT or CURSOR_SYNC, got %s", f.Type)
		return
	}
	fields, err := frame.SplitFields(f.Payload, 3)
	if err != nil {
		c.Errorf("Malformed WORKER_CONNECT payload: %v", err)
		return
	}
	kind := ParseKind(fields[0])
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		c.Errorf("Malformed WORKER_CONNECT port: %v", err)
		return
	}
	ep := Endpoint{Host: fields[1], Port: port}

	id := uuid.NewString()
	promoted := c.workers.Register(id, kind, ep, link)

	replyType := frame.TypeWorkerConnect
	if promoted {
		replyType = frame.TypePrincipalWorker
	}
	if err := link.Send(replyType, nil); err != nil {
		c.Errorf("Failed acknowledging worker %s: %v", clog.ShortID(id), err)
		c.workers.Remove(id)
		return
	}

	c.logEvent("worker %s connected as %s (%s) role=%s", clog.ShortID(id), kind, ep, roleOf(promoted))

	c.runHeartbeats(link, id, kind)

	promotedID := c.workers.Remove(id)
	c.logEvent("worker %s disconnected", clog.ShortID(id))
	if promotedID != "" {
		c.logEvent("worker %s promoted to principal for kind %s", clog.ShortID(promotedID), kind)
	}
}

func roleOf(promoted bool) Role {
	if promoted {
		return RolePrincipal
	}
	return RoleStandby
}

// runHeartbeats is the coordinator-active side of spec.md §4.3: every
// HeartbeatInterval it sends HEARTBEAT and blocks for a reply, with a read
// deadline of one HeartbeatInterval; any error (including a missed
// deadline), zero-length read, or unexpected reply type marks the worker
// dead.
func (c *Coordinator) runHeartbeats(link *Link, id string, kind Kind) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := link.Send(frame.TypeHeartbeat, []byte("HEARTBEAT")); err != nil {
			c.Errorf("Heartbeat send failed for worker %s: %v", clog.ShortID(id), err)
			return
		}

		_ = link.conn.SetReadDeadline(time.Now().Add(HeartbeatInterval))
		f, err := link.Read()
		if err != nil {
			c.Errorf("Heartbeat reply failed for worker %s: %v", clog.ShortID(id), err)
			return
		}
		switch f.Type {
		case frame.TypeHeartbeat:
			continue
		case frame.TypeDisconnect:
			return
		default:
			c.Errorf("Unexpected heartbeat reply type %s from worker %s", f.Type, clog.ShortID(id))
			return
		}
	}
}

// handleClientConn implements the client connection task of spec.md §4.2.
func (c *Coordinator) handleClientConn(conn net.Conn) {
	link := NewLink(conn)
	id := uuid.NewString()
	c.clients.Add(id, link)
	defer func() {
		c.clients.Remove(id)
		link.Close()
	}()

	for {
		f, err := link.Read()
		if err != nil {
			c.logEvent("client %s disconnected", clog.ShortID(id))
			return
		}

		switch f.Type {
		case frame.TypeFleckConnect:
			c.handleFleckConnect(link, f)
		case frame.TypeDistortReq:
			c.handleDistortReq(link, f, id)
		case frame.TypeDisconnect:
			return
		default:
			c.Errorf("Unexpected frame type %s from client %s", f.Type, clog.ShortID(id))
		}
	}
}

func (c *Coordinator) handleFleckConnect(link *Link, f frame.Frame) {
	if _, err := frame.SplitFields(f.Payload, 3); err != nil {
		_ = link.Send(frame.TypeFleckConnect, []byte("CON_KO"))
		return
	}
	_ = link.Send(frame.TypeFleckConnect, nil)
}

func (c *Coordinator) handleDistortReq(link *Link, f frame.Frame, clientID string) {
	fields, err := frame.SplitFields(f.Payload, 2)
	if err != nil {
		_ = link.Send(frame.TypeDistortReq, []byte("MEDIA_KO"))
		return
	}
	kind := ParseKind(fields[0])
	if kind == KindUnknown {
		_ = link.Send(frame.TypeDistortReq, []byte("MEDIA_KO"))
		return
	}

	ep, ok := c.workers.Principal(kind)
	if !ok {
		_ = link.Send(frame.TypeDistortReq, []byte("DISTORT_KO"))
		c.logEvent("no principal worker for kind %s requested by client %s", kind, clog.ShortID(clientID))
		return
	}

	payload, err := frame.JoinFields(ep.Host, strconv.Itoa(ep.Port))
	if err != nil {
		_ = link.Send(frame.TypeDistortReq, []byte("DISTORT_KO"))
		return
	}
	_ = link.Send(frame.TypeDistortReq, []byte(payload))
}

// handleCursorSync implements the coordinator-side half of spec.md §9's
// resume-cursor map: a worker reports its locally-known phase/total for
// filename, the coordinator folds it into its own authoritative entry (via
// Cursor.Adopt, which only ever moves forward) and replies with whichever
// of the two is further along. A negative phase means the worker has
// completed the transfer and is releasing the entry rather than syncing
// it. This is what lets a newly elected principal, with an empty local
// CursorTable, pick up a filename at the byte offset its predecessor left
// off instead of restarting the receiving phase at zero.
func (c *Coordinator) handleCursorSync(link *Link, f frame.Frame) {
	fields, err := frame.SplitFields(f.Payload, 3)
	if err != nil {
		return
	}
	filename := fields[0]
	phase, err1 := strconv.Atoi(fields[1])
	total, err2 := strconv.ParseInt(fields[2], 10, 64)
	if err1 != nil || err2 != nil {
		return
	}

	if phase < 0 {
		c.cursors.Release(filename)
		payload, _ := frame.JoinFields("-1", "0")
		_ = link.Send(frame.TypeCursorSync, []byte(payload))
		return
	}

	cursor := c.cursors.Attach(filename)
	cursor.Adopt(Phase(phase), total)
	authPhase, authTotal := cursor.Snapshot()

	payload, err := frame.JoinFields(strconv.Itoa(int(authPhase)), strconv.FormatInt(authTotal, 10))
	if err != nil {
		return
	}
	_ = link.Send(frame.TypeCursorSync, []byte(payload))
}

// logEvent serializes a printf-formatted event as a TYPE=LOG frame and
// writes exactly frame.BufferSize bytes to the sidecar pipe (spec.md §4.7).
func (c *Coordinator) logEvent(format string, a ...any) {
	c.Printf(format, a...)
	if c.logSink == nil {
		return
	}
	msg := fmt.Sprintf(format, a...)
	if len(msg) > frame.MaxPayload {
		msg = msg[:frame.MaxPayload]
	}
	if err := frame.Write(c.logSink, frame.TypeLog, []byte(msg)); err != nil {
		c.Errorf("Failed writing log event: %v", err)
	}
}
