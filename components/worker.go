// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mediadistort/cluster/clog"
	"github.com/mediadistort/cluster/distortion"
	"github.com/mediadistort/cluster/frame"
)

// workerState is a Worker's position in the forward-only lifecycle of
// spec.md §4.4: Connecting -> Standby -> Principal -> Terminating, with the
// single exception that Standby may return to Principal on promotion.
type workerState int32

const (
	stateConnecting workerState = iota
	stateStandby
	statePrincipal
	stateTerminating
)

// A Worker connects to a coordinator declaring a fixed Kind, serves
// heartbeats reactively, and on promotion to principal opens a file-serving
// listener and runs the per-client transfer state machine of spec.md §4.5.
type Worker struct {
	*clog.CLogger
	id      string
	kind    Kind
	serveEP Endpoint
	dir     string

	coordEP   Endpoint
	coordLink *Link
	cursors   *CursorTable
	clients   *ClientRegistry

	state  workerState
	lnMu   sync.Mutex
	ln     net.Listener
	wg     sync.WaitGroup
}

// NewWorker creates a Worker of the given Kind, serving files from dir at
// serveEP once promoted.
func NewWorker(kind Kind, serveEP Endpoint, dir string) *Worker {
	id := uuid.NewString()
	return &Worker{
		CLogger: clog.New("worker %s ", clog.ShortID(id)),
		id:      id,
		kind:    kind,
		serveEP: serveEP,
		dir:     dir,
		cursors: NewCursorTable(),
		clients: NewClientRegistry(),
		state:   stateConnecting,
	}
}

// Start dials coordEP, completes the WORKER_CONNECT handshake, then reads
// frames from the coordinator link until ctx is canceled or the link dies:
// HEARTBEAT triggers an empty reply, PRINCIPAL_WORKER triggers promotion.
// On ctx cancellation it sends DISCONNECT, closes any file-serving listener
// and every served client link, and joins (spec.md §4.4).
func (w *Worker) Start(ctx context.Context, coordEP Endpoint) error {
	conn, err := net.Dial("tcp", net.JoinHostPort(coordEP.Host, strconv.Itoa(coordEP.Port)))
	if err != nil {
		return fmt.Errorf("worker: dial coordinator: %w", err)
	}
	w.coordEP = coordEP
	w.coordLink = NewLink(conn)

	payload, err := frame.JoinFields(w.kind.String(), w.serveEP.Host, strconv.Itoa(w.serveEP.Port))
	if err != nil {
		return fmt.Errorf("worker: build WORKER_CONNECT payload: %w", err)
	}
	if err := w.coordLink.Send(frame.TypeWorkerConnect, []byte(payload)); err != nil {
		return fmt.Errorf("worker: send WORKER_CONNECT: %w", err)
	}
	f, err := w.coordLink.Read()
	if err != nil {
		return fmt.Errorf("worker: read WORKER_CONNECT reply: %w", err)
	}

	switch f.Type {
	case frame.TypePrincipalWorker:
		if err := w.promote(); err != nil {
			return err
		}
	case frame.TypeWorkerConnect:
		atomic.StoreInt32((*int32)(&w.state), int32(stateStandby))
		w.Printf("Registered as standby for kind %s", w.kind)
	default:
		return fmt.Errorf("worker: unexpected WORKER_CONNECT reply type %s", f.Type)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.readCoordLink()
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}

	_ = w.coordLink.Send(frame.TypeDisconnect, []byte("shutdown"))
	w.coordLink.Close()
	w.closeListener()
	w.clients.CloseAll()
	<-done
	w.wg.Wait()
	return nil
}

// readCoordLink is the reactive half of spec.md §4.3: it owns all reads on
// the coordinator link for the lifetime of the worker.
func (w *Worker) readCoordLink() {
	for {
		f, err := w.coordLink.Read()
		if err != nil {
			w.Printf("Coordinator link closed: %v", err)
			return
		}
		switch f.Type {
		case frame.TypeHeartbeat:
			if err := w.coordLink.Send(frame.TypeHeartbeat, nil); err != nil {
				w.Errorf("Failed replying to heartbeat: %v", err)
				return
			}
		case frame.TypePrincipalWorker:
			if atomic.LoadInt32((*int32)(&w.state)) == int32(statePrincipal) {
				continue // already principal, promotion already in effect
			}
			if err := w.promote(); err != nil {
				w.Errorf("Failed opening listener on promotion: %v", err)
				return
			}
		default:
			w.Errorf("Unexpected frame type %s from coordinator", f.Type)
		}
	}
}

// promote opens the file-serving listener and starts accepting client
// connections. It is idempotent-by-construction: callers only invoke it
// while not already Principal.
func (w *Worker) promote() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(w.serveEP.Host, strconv.Itoa(w.serveEP.Port)))
	if err != nil {
		return fmt.Errorf("worker: listen for clients: %w", err)
	}
	w.lnMu.Lock()
	w.ln = ln
	w.lnMu.Unlock()

	atomic.StoreInt32((*int32)(&w.state), int32(statePrincipal))
	w.Printf("Promoted to principal for kind %s, serving at %s", w.kind, w.serveEP)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.acceptClients(ln)
	}()
	return nil
}

// closeListener shuts down the file-serving listener, if one was opened.
func (w *Worker) closeListener() {
	w.lnMu.Lock()
	defer w.lnMu.Unlock()
	if w.ln != nil {
		w.ln.Close()
	}
}

func (w *Worker) acceptClients(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed during shutdown
		}
		id := uuid.NewString()
		link := NewLink(conn)
		w.clients.Add(id, link)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.clients.Remove(id)
			defer link.Close()
			w.handleTransferConn(link)
		}()
	}
}

// distort dispatches to the distortion package for the worker's fixed kind.
func (w *Worker) distort(inputPath string, factor int) (string, error) {
	return distortion.Distort(distortionKind(w.kind), inputPath, factor)
}

// distortionKind maps a components.Kind onto the distortion package's own
// Kind, the two being kept as distinct types to avoid an import cycle
// (distortion is imported by components, never the reverse).
func distortionKind(k Kind) distortion.Kind {
	if k == KindMedia {
		return distortion.KindMedia
	}
	return distortion.KindText
}

// syncCursorPull reconciles cursor against the coordinator-side resume-
// cursor store (spec.md §9) before a transfer begins working on filename,
// so a freshly elected principal with no local history for filename
// adopts whatever progress its predecessor last reported instead of
// starting the receiving phase over. A zero-value coordEP (no coordinator
// configured, as in direct unit-test construction of a Worker) is a no-op.
func (w *Worker) syncCursorPull(cursor *Cursor, filename string) {
	if w.coordEP == (Endpoint{}) {
		return
	}
	phase, total := cursor.Snapshot()
	authPhase, authTotal, err := w.cursorRoundTrip(filename, phase, total)
	if err != nil {
		w.Printf("Failed pulling resume cursor for %s: %v", filename, err)
		return
	}
	cursor.Adopt(authPhase, authTotal)
}

// syncCursorPush reports cursor's current state to the coordinator, so the
// coordinator-side store stays current for whatever worker next handles a
// RESUME for filename.
func (w *Worker) syncCursorPush(cursor *Cursor, filename string) {
	if w.coordEP == (Endpoint{}) {
		return
	}
	phase, total := cursor.Snapshot()
	if _, _, err := w.cursorRoundTrip(filename, phase, total); err != nil {
		w.Printf("Failed pushing resume cursor for %s: %v", filename, err)
	}
}

// syncCursorRelease tells the coordinator that filename's transfer has
// completed, dropping its coordinator-side cursor entry.
func (w *Worker) syncCursorRelease(filename string) {
	if w.coordEP == (Endpoint{}) {
		return
	}
	if _, _, err := w.cursorRoundTrip(filename, -1, 0); err != nil {
		w.Printf("Failed releasing resume cursor for %s: %v", filename, err)
	}
}

// cursorRoundTrip opens a short-lived connection to the coordinator's
// worker endpoint and exchanges one CURSOR_SYNC frame, mirroring how the
// client dials the coordinator fresh for each DISTORT_REQ rather than
// reusing a persistent link. A negative phase requests release instead of
// a sync; its reply carries no usable state and is ignored by the caller.
func (w *Worker) cursorRoundTrip(filename string, phase Phase, total int64) (Phase, int64, error) {
	conn, err := net.Dial("tcp", w.coordEP.String())
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()
	link := NewLink(conn)

	payload, err := frame.JoinFields(filename, strconv.Itoa(int(phase)), strconv.FormatInt(total, 10))
	if err != nil {
		return 0, 0, err
	}
	if err := link.Send(frame.TypeCursorSync, []byte(payload)); err != nil {
		return 0, 0, err
	}
	reply, err := link.Read()
	if err != nil {
		return 0, 0, err
	}
	fields, err := frame.SplitFields(reply.Payload, 2)
	if err != nil {
		return 0, 0, nil
	}
	authPhase, err1 := strconv.Atoi(fields[0])
	authTotal, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, nil
	}
	return Phase(authPhase), authTotal, nil
}
