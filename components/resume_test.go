package components

import (
	"crypto/md5"
	"encoding/hex"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/mediadistort/cluster/frame"
	"github.com/stretchr/testify/require"
)

// TestWorkerResumesTransferAfterLinkDrop exercises spec.md §8/§4.5: a client
// uploads part of a file, the link dies mid-upload, and a RESUME_DISTORT on
// a fresh connection to the SAME worker process continues from the cursor's
// remembered byte offset rather than restarting the whole transfer.
func TestWorkerResumesTransferAfterLinkDrop(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(KindText, Endpoint{}, dir)

	content := []byte("a bb ccc dddd eeeee\n")
	sum := md5.Sum(content)
	md5hex := hex.EncodeToString(sum[:])
	payload, err := frame.JoinFields("u", "words.txt", strconv.Itoa(len(content)), md5hex, strconv.Itoa(4))
	require.NoError(t, err)

	half := len(content) / 2

	// First connection: START_DISTORT, one short chunk, then the client
	// vanishes before the upload completes.
	serverConn1, clientConn1 := net.Pipe()
	done1 := make(chan struct{})
	go func() {
		defer close(done1)
		w.handleTransferConn(NewLink(serverConn1))
	}()

	require.NoError(t, frame.Write(clientConn1, frame.TypeStartDistort, []byte(payload)))
	reply, err := frame.Read(clientConn1)
	require.NoError(t, err)
	require.Equal(t, "OK", string(reply.Payload))

	require.NoError(t, frame.Write(clientConn1, frame.TypeFileData, content[:half]))
	reply, err = frame.Read(clientConn1)
	require.NoError(t, err)
	require.Equal(t, "OK", string(reply.Payload))

	// Simulate link loss: close without sending the rest or any END_DISTORT.
	clientConn1.Close()

	select {
	case <-done1:
	case <-time.After(2 * time.Second):
		t.Fatal("first handler did not observe the dropped link")
	}

	cursor, ok := w.cursors.Lookup("words.txt")
	require.True(t, ok)
	phase, total := cursor.Snapshot()
	require.Equal(t, PhaseReceiving, phase)
	require.Equal(t, int64(half), total)

	// Second connection to the same worker: RESUME_DISTORT continues from
	// the cursor's remembered offset.
	serverConn2, clientConn2 := net.Pipe()
	done2 := make(chan struct{})
	go func() {
		defer close(done2)
		w.handleTransferConn(NewLink(serverConn2))
	}()

	require.NoError(t, frame.Write(clientConn2, frame.TypeResumeDistort, []byte(payload)))
	reply, err = frame.Read(clientConn2)
	require.NoError(t, err)
	require.Equal(t, "OK", string(reply.Payload))

	require.NoError(t, frame.Write(clientConn2, frame.TypeFileData, content[half:]))
	reply, err = frame.Read(clientConn2)
	require.NoError(t, err)
	require.Equal(t, "OK", string(reply.Payload))

	reply, err = frame.Read(clientConn2)
	require.NoError(t, err)
	require.Equal(t, frame.TypeEndDistort, reply.Type)
	require.Equal(t, "CHECK_OK", string(reply.Payload))
	require.NoError(t, frame.Write(clientConn2, frame.TypeEndDistort, []byte("CHECK_OK")))

	reply, err = frame.Read(clientConn2)
	require.NoError(t, err)
	require.Equal(t, frame.TypeStartDistortBack, reply.Type)
	fields, err := frame.SplitFields(reply.Payload, 2)
	require.NoError(t, err)
	outSize, err := strconv.ParseInt(fields[0], 10, 64)
	require.NoError(t, err)

	require.NoError(t, frame.Write(clientConn2, frame.TypeStartDistortBack, []byte("OK")))

	var out []byte
	for int64(len(out)) < outSize {
		f, err := frame.Read(clientConn2)
		require.NoError(t, err)
		require.Equal(t, frame.TypeFileData, f.Type)
		out = append(out, f.Payload...)
		require.NoError(t, frame.Write(clientConn2, frame.TypeFileData, []byte("OK")))
	}

	require.NoError(t, frame.Write(clientConn2, frame.TypeEndDistort, []byte("CHECK_OK")))
	reply, err = frame.Read(clientConn2)
	require.NoError(t, err)
	require.Equal(t, frame.TypeEndDistort, reply.Type)
	require.Equal(t, "OK", string(reply.Payload))
	clientConn2.Close()

	select {
	case <-done2:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler did not finish")
	}

	// Separators are written unconditionally by the text distortion
	// algorithm, so each dropped word ("a", "bb", "ccc") still leaves its
	// trailing space behind.
	require.Equal(t, "   dddd eeeee\n", string(out))

	_, ok = w.cursors.Lookup("words.txt")
	require.False(t, ok, "a completed transfer releases its cursor")
}
