package components

import (
	"testing"

	"github.com/mediadistort/cluster/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle records every frame sent to it and whether it was closed, so
// tests can assert on promotion without opening a real socket.
type fakeHandle struct {
	sent   []frame.Type
	closed bool
}

func (h *fakeHandle) Send(t frame.Type, payload []byte) error {
	h.sent = append(h.sent, t)
	return nil
}

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

func TestWorkerRegistryFirstRegistrantIsPrincipal(t *testing.T) {
	r := NewWorkerRegistry()
	promoted := r.Register("w1", KindText, Endpoint{Host: "127.0.0.1", Port: 9000}, &fakeHandle{})
	assert.True(t, promoted)

	ep, ok := r.Principal(KindText)
	require.True(t, ok)
	assert.Equal(t, 9000, ep.Port)
}

func TestWorkerRegistrySecondRegistrantIsStandby(t *testing.T) {
	r := NewWorkerRegistry()
	r.Register("w1", KindText, Endpoint{Host: "h1", Port: 1}, &fakeHandle{})
	promoted := r.Register("w2", KindText, Endpoint{Host: "h2", Port: 2}, &fakeHandle{})
	assert.False(t, promoted)

	ep, ok := r.Principal(KindText)
	require.True(t, ok)
	assert.Equal(t, "h1", ep.Host)
}

func TestWorkerRegistryKindsAreIndependent(t *testing.T) {
	r := NewWorkerRegistry()
	textPromoted := r.Register("w1", KindText, Endpoint{Host: "h1", Port: 1}, &fakeHandle{})
	mediaPromoted := r.Register("w2", KindMedia, Endpoint{Host: "h2", Port: 2}, &fakeHandle{})
	assert.True(t, textPromoted)
	assert.True(t, mediaPromoted)
}

func TestWorkerRegistryRemovePromotesEarliestSurvivor(t *testing.T) {
	r := NewWorkerRegistry()
	h1 := &fakeHandle{}
	h2 := &fakeHandle{}
	h3 := &fakeHandle{}
	r.Register("w1", KindText, Endpoint{Host: "h1", Port: 1}, h1)
	r.Register("w2", KindText, Endpoint{Host: "h2", Port: 2}, h2)
	r.Register("w3", KindText, Endpoint{Host: "h3", Port: 3}, h3)

	promotedID := r.Remove("w1")
	assert.Equal(t, "w2", promotedID)
	assert.Equal(t, []frame.Type{frame.TypePrincipalWorker}, h2.sent)
	assert.Empty(t, h3.sent)

	ep, ok := r.Principal(KindText)
	require.True(t, ok)
	assert.Equal(t, "h2", ep.Host)
}

func TestWorkerRegistryRemoveStandbyDoesNotReelect(t *testing.T) {
	r := NewWorkerRegistry()
	h1 := &fakeHandle{}
	h2 := &fakeHandle{}
	r.Register("w1", KindText, Endpoint{Host: "h1", Port: 1}, h1)
	r.Register("w2", KindText, Endpoint{Host: "h2", Port: 2}, h2)

	promotedID := r.Remove("w2")
	assert.Equal(t, "", promotedID)
	assert.Empty(t, h1.sent)

	ep, ok := r.Principal(KindText)
	require.True(t, ok)
	assert.Equal(t, "h1", ep.Host)
}

func TestWorkerRegistryRemoveLastOfKindLeavesNoPrincipal(t *testing.T) {
	r := NewWorkerRegistry()
	r.Register("w1", KindText, Endpoint{Host: "h1", Port: 1}, &fakeHandle{})
	r.Remove("w1")

	_, ok := r.Principal(KindText)
	assert.False(t, ok)
}

func TestWorkerRegistryCloseAll(t *testing.T) {
	r := NewWorkerRegistry()
	h1 := &fakeHandle{}
	h2 := &fakeHandle{}
	r.Register("w1", KindText, Endpoint{}, h1)
	r.Register("w2", KindMedia, Endpoint{}, h2)

	r.CloseAll()
	assert.True(t, h1.closed)
	assert.True(t, h2.closed)
}

func TestClientRegistryAddRemoveCloseAll(t *testing.T) {
	r := NewClientRegistry()
	h := &fakeHandle{}
	r.Add("c1", h)
	r.CloseAll()
	assert.True(t, h.closed)

	r.Remove("c1")
	r.CloseAll() // no panic on an already-removed id
}
