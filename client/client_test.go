package client

import (
	"net"
	"testing"

	"github.com/mediadistort/cluster/components"
	"github.com/mediadistort/cluster/frame"
	"github.com/stretchr/testify/require"
)

func TestOrchestratorClaimRejectsConcurrentSameKind(t *testing.T) {
	o := New("u", t.TempDir(), components.Endpoint{})

	require.NoError(t, o.claim(components.KindText))
	require.ErrorIs(t, o.claim(components.KindText), ErrJobInProgress)

	o.release(components.KindText)
	require.NoError(t, o.claim(components.KindText))
}

func TestOrchestratorClaimAllowsDifferentKinds(t *testing.T) {
	o := New("u", t.TempDir(), components.Endpoint{})

	require.NoError(t, o.claim(components.KindText))
	require.NoError(t, o.claim(components.KindMedia))
}

// fakeCoordinator answers a single DISTORT_REQ with reply, then closes.
func fakeCoordinator(t *testing.T, reply string) components.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		link := components.NewLink(conn)
		f, err := link.Read()
		if err != nil || f.Type != frame.TypeDistortReq {
			return
		}
		_ = link.Send(frame.TypeDistortReq, []byte(reply))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return components.Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

func TestRequestWorkerReturnsErrNoWorkerOnDistortKO(t *testing.T) {
	ep := fakeCoordinator(t, "DISTORT_KO")
	o := New("u", t.TempDir(), ep)

	_, err := o.requestWorker(components.KindText, "foo.txt")
	require.ErrorIs(t, err, ErrNoWorker)
}

func TestRequestWorkerReturnsErrNoWorkerOnMediaKO(t *testing.T) {
	ep := fakeCoordinator(t, "MEDIA_KO")
	o := New("u", t.TempDir(), ep)

	_, err := o.requestWorker(components.KindMedia, "foo.mp3")
	require.ErrorIs(t, err, ErrNoWorker)
}

func TestRequestWorkerParsesEndpointOnSuccess(t *testing.T) {
	payload, err := frame.JoinFields("10.0.0.5", "9100")
	require.NoError(t, err)
	ep := fakeCoordinator(t, payload)
	o := New("u", t.TempDir(), ep)

	worker, err := o.requestWorker(components.KindText, "foo.txt")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5", worker.Host)
	require.Equal(t, 9100, worker.Port)
}
