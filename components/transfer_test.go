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

// driveClient plays the client half of spec.md §4.5/§4.6 over conn,
// uploading content under (user, filename, factor) and returning the
// mirrored distorted bytes it received back.
func driveClient(t *testing.T, conn net.Conn, user, filename string, content []byte, factor int) []byte {
	t.Helper()
	sum := md5.Sum(content)
	md5hex := hex.EncodeToString(sum[:])

	payload, err := frame.JoinFields(user, filename, strconv.Itoa(len(content)), md5hex, strconv.Itoa(factor))
	require.NoError(t, err)

	require.NoError(t, frame.Write(conn, frame.TypeStartDistort, []byte(payload)))
	reply, err := frame.Read(conn)
	require.NoError(t, err)
	require.Equal(t, "OK", string(reply.Payload))

	require.NoError(t, frame.Write(conn, frame.TypeFileData, content))
	reply, err = frame.Read(conn)
	require.NoError(t, err)
	require.Equal(t, "OK", string(reply.Payload))

	reply, err = frame.Read(conn)
	require.NoError(t, err)
	require.Equal(t, frame.TypeEndDistort, reply.Type)
	require.Equal(t, "CHECK_OK", string(reply.Payload))
	require.NoError(t, frame.Write(conn, frame.TypeEndDistort, []byte("CHECK_OK")))

	reply, err = frame.Read(conn)
	require.NoError(t, err)
	require.Equal(t, frame.TypeStartDistortBack, reply.Type)
	fields, err := frame.SplitFields(reply.Payload, 2)
	require.NoError(t, err)
	outSize, err := strconv.ParseInt(fields[0], 10, 64)
	require.NoError(t, err)

	require.NoError(t, frame.Write(conn, frame.TypeStartDistortBack, []byte("OK")))

	var out []byte
	for int64(len(out)) < outSize {
		f, err := frame.Read(conn)
		require.NoError(t, err)
		require.Equal(t, frame.TypeFileData, f.Type)
		out = append(out, f.Payload...)
		require.NoError(t, frame.Write(conn, frame.TypeFileData, []byte("OK")))
	}

	require.NoError(t, frame.Write(conn, frame.TypeEndDistort, []byte("CHECK_OK")))
	reply, err = frame.Read(conn)
	require.NoError(t, err)
	require.Equal(t, frame.TypeEndDistort, reply.Type)
	require.Equal(t, "OK", string(reply.Payload))

	return out
}

func TestWorkerTransferHappyPathText(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(KindText, Endpoint{}, dir)

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.handleTransferConn(NewLink(serverConn))
	}()

	content := []byte("hello world\n")
	out := driveClient(t, clientConn, "u", "foo.txt", content, 5)
	require.Equal(t, "hello world\n", string(out))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer handler did not finish")
	}
}

func TestWorkerTransferFiltersShortWords(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(KindText, Endpoint{}, dir)

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.handleTransferConn(NewLink(serverConn))
	}()

	content := []byte("a bb ccc dddd eeeee\n")
	out := driveClient(t, clientConn, "u", "words.txt", content, 4)
	// Separators are written unconditionally, so each dropped word ("a",
	// "bb", "ccc") still leaves its trailing space behind.
	require.Equal(t, "   dddd eeeee\n", string(out))

	<-done
}
