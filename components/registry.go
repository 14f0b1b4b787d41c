// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"sync"

	"github.com/mediadistort/cluster/frame"
)

// WorkerHandle lets the registry interrupt a worker's connection task
// without owning its link: the task that accepted the connection is the
// exclusive owner of the net.Conn, the registry only holds an identifying
// record plus the ability to push a frame or shut the link down.
type WorkerHandle interface {
	// Send writes a frame on the worker's link. Used to deliver promotion.
	Send(t frame.Type, payload []byte) error
	// Close shuts the worker's link down, unblocking its connection task.
	Close() error
}

// WorkerRecord is the registry's view of a connected worker.
type WorkerRecord struct {
	ID       string
	Kind     Kind
	Endpoint Endpoint
	Role     Role
	handle   WorkerHandle
}

// WorkerRegistry tracks connected workers, keyed by a unique connection id,
// and holds the principal/standby election for each Kind. All mutation is
// serialized under a single lock (spec.md §3, §5), generalizing the
// teacher's Tracker from a liveness set into a full worker record table.
//
// All methods are safe for concurrent use by multiple goroutines.
type WorkerRegistry struct {
	mu      sync.RWMutex
	order   []string // registration order per kind's tie-break (earliest wins)
	workers map[string]*WorkerRecord
}

// NewWorkerRegistry returns an empty WorkerRegistry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{workers: make(map[string]*WorkerRecord)}
}

// Register adds a newly connected worker to the registry. If no principal
// exists yet for its Kind, it is promoted immediately and Register returns
// true; otherwise it is registered as standby and Register returns false.
func (r *WorkerRegistry) Register(id string, kind Kind, ep Endpoint, handle WorkerHandle) (promoted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &WorkerRecord{ID: id, Kind: kind, Endpoint: ep, Role: RoleStandby, handle: handle}
	if r.principalLocked(kind) == nil {
		rec.Role = RolePrincipal
		promoted = true
	}
	r.workers[id] = rec
	r.order = append(r.order, id)
	return promoted
}

// Remove deregisters a worker (disconnect or heartbeat failure). If it was
// the principal for its Kind, the earliest-registered surviving worker of
// that Kind is promoted and sent a TYPE=PRINCIPAL_WORKER frame on its
// existing link; the newly promoted worker's id is returned, or "" if no
// replacement is available.
func (r *WorkerRegistry) Remove(id string) (promotedID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.workers[id]
	if !ok {
		return ""
	}
	delete(r.workers, id)
	r.order = removeID(r.order, id)

	if rec.Role != RolePrincipal {
		return ""
	}

	var next *WorkerRecord
	for _, oid := range r.order {
		if cand := r.workers[oid]; cand != nil && cand.Kind == rec.Kind {
			next = cand
			break
		}
	}
	if next == nil {
		return ""
	}
	next.Role = RolePrincipal
	if next.handle != nil {
		_ = next.handle.Send(frame.TypePrincipalWorker, nil)
	}
	return next.ID
}

// Principal returns the current principal worker's endpoint for kind, or
// false if none is registered.
func (r *WorkerRegistry) Principal(kind Kind) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.principalLocked(kind)
	if rec == nil {
		return Endpoint{}, false
	}
	return rec.Endpoint, true
}

// principalLocked returns the current principal of kind, assuming the
// caller already holds r.mu (read or write).
func (r *WorkerRegistry) principalLocked(kind Kind) *WorkerRecord {
	for _, id := range r.order {
		rec, ok := r.workers[id]
		if !ok || rec.Kind != kind {
			continue
		}
		if rec.Role == RolePrincipal {
			return rec
		}
	}
	return nil
}

// Count returns the number of registered workers, for diagnostics.
func (r *WorkerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// CloseAll shuts down every tracked worker link, used during graceful
// shutdown to unblock their connection tasks.
func (r *WorkerRegistry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.workers {
		if rec.handle != nil {
			_ = rec.handle.Close()
		}
	}
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// ClientRegistry tracks connected clients for bookkeeping and shutdown
// fan-out only; it is never consulted for routing (spec.md §4.2).
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]WorkerHandle
}

// NewClientRegistry returns an empty ClientRegistry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]WorkerHandle)}
}

// Add registers a connected client's link handle.
func (r *ClientRegistry) Add(id string, handle WorkerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = handle
}

// Remove deregisters a client.
func (r *ClientRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// CloseAll shuts down every tracked client link, used during graceful
// shutdown to unblock their connection tasks.
func (r *ClientRegistry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.clients {
		_ = h.Close()
	}
}
