// Package frame implements the fixed-size wire format shared by every link
// in the cluster: coordinator-worker, coordinator-client, worker-client and
// coordinator-sidecar. Every frame is exactly BufferSize bytes: 1 byte TYPE,
// 2 bytes big-endian DATA_LENGTH, MaxPayload bytes of zero-padded DATA, 2
// bytes big-endian CHECKSUM and 4 bytes big-endian TIMESTAMP.
package frame

import (
	"encoding/binary"
	"fmt"
	"time"
)

// BufferSize is the size of a frame on the wire. It is kept distinct from
// MaxPayload (the largest DATA a frame can carry) so that a future streaming
// buffer size is never accidentally tied to the wire frame size.
const BufferSize = 256

// MaxPayload is the largest payload a single frame can carry.
const MaxPayload = 247

const (
	typeOffset     = 0
	lengthOffset   = 1
	dataOffset     = 3
	checksumOffset = 250
	timestampOffset = 252
)

// Type identifies the purpose of a frame's payload.
type Type byte

const (
	TypeFleckConnect    Type = 0x01 // client <-> coordinator handshake
	TypeWorkerConnect   Type = 0x02 // worker <-> coordinator handshake
	TypeStartDistort    Type = 0x03 // client -> worker, first chunked transfer
	TypeStartDistortBack Type = 0x04 // worker -> client, mirrored transfer
	TypeFileData        Type = 0x05 // both directions, chunk of file bytes
	TypeEndDistort      Type = 0x06 // both directions, transfer checksum result
	TypeDisconnect      Type = 0x07 // any -> peer, clean shutdown notice
	TypePrincipalWorker Type = 0x08 // coordinator -> worker, promotion
	TypeDistortReq      Type = 0x10 // client <-> coordinator, worker lookup
	TypeResumeDistort   Type = 0x11 // client -> worker, resumed transfer
	TypeHeartbeat       Type = 0x12 // both directions, liveness probe
	TypeCursorSync      Type = 0x13 // worker <-> coordinator, resume-cursor query/update
	TypeLog             Type = 0x20 // coordinator -> sidecar, event record
)

func (t Type) String() string {
	switch t {
	case TypeFleckConnect:
		return "FLECK_CONNECT"
	case TypeWorkerConnect:
		return "WORKER_CONNECT"
	case TypeStartDistort:
		return "START_DISTORT"
	case TypeStartDistortBack:
		return "START_DISTORT_BACK"
	case TypeFileData:
		return "FILE_DATA"
	case TypeEndDistort:
		return "END_DISTORT"
	case TypeDisconnect:
		return "DISCONNECT"
	case TypePrincipalWorker:
		return "PRINCIPAL_WORKER"
	case TypeDistortReq:
		return "DISTORT_REQ"
	case TypeResumeDistort:
		return "RESUME_DISTORT"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeCursorSync:
		return "CURSOR_SYNC"
	case TypeLog:
		return "LOG"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// Frame is the decoded, in-memory representation of a wire frame.
type Frame struct {
	Type      Type
	Payload   []byte
	Timestamp time.Time
}

// ErrPayloadTooLarge is returned by Encode when payload exceeds MaxPayload.
var ErrPayloadTooLarge = fmt.Errorf("frame: payload exceeds %d bytes", MaxPayload)

// ErrInvalidChecksum is returned by Decode when the frame's checksum field
// does not match the checksum computed over the rest of the frame.
var ErrInvalidChecksum = fmt.Errorf("frame: invalid checksum")

// ErrInvalidLength is returned by Decode when DATA_LENGTH exceeds MaxPayload.
var ErrInvalidLength = fmt.Errorf("frame: invalid data length")

// Encode builds a BufferSize-byte wire frame for the given type and payload.
// The timestamp field is set to the current time's Unix seconds truncated to
// 32 bits.
func Encode(t Type, payload []byte) ([BufferSize]byte, error) {
	return encodeAt(t, payload, time.Now())
}

func encodeAt(t Type, payload []byte, at time.Time) ([BufferSize]byte, error) {
	var buf [BufferSize]byte
	if len(payload) > MaxPayload {
		return buf, ErrPayloadTooLarge
	}

	buf[typeOffset] = byte(t)
	binary.BigEndian.PutUint16(buf[lengthOffset:lengthOffset+2], uint16(len(payload)))
	copy(buf[dataOffset:dataOffset+MaxPayload], payload) // remainder stays zero-padded

	ts := uint32(at.Unix())
	binary.BigEndian.PutUint32(buf[timestampOffset:timestampOffset+4], ts)

	sum := checksum(buf)
	binary.BigEndian.PutUint16(buf[checksumOffset:checksumOffset+2], sum)

	return buf, nil
}

// Decode parses a BufferSize-byte wire frame, validating its checksum and
// DATA_LENGTH before returning the typed payload and timestamp.
func Decode(raw [BufferSize]byte) (Frame, error) {
	length := int(binary.BigEndian.Uint16(raw[lengthOffset : lengthOffset+2]))
	if length < 0 || length > MaxPayload {
		return Frame{}, ErrInvalidLength
	}

	want := binary.BigEndian.Uint16(raw[checksumOffset : checksumOffset+2])
	got := checksum(raw)
	if want != got {
		return Frame{}, ErrInvalidChecksum
	}

	ts := binary.BigEndian.Uint32(raw[timestampOffset : timestampOffset+4])

	payload := make([]byte, length)
	copy(payload, raw[dataOffset:dataOffset+length])

	return Frame{
		Type:      Type(raw[typeOffset]),
		Payload:   payload,
		Timestamp: time.Unix(int64(ts), 0).UTC(),
	}, nil
}

// checksum computes the 16-bit sum (mod 2^16) of every byte in the frame
// except the 2-byte checksum field itself.
func checksum(buf [BufferSize]byte) uint16 {
	var sum uint16
	for i := 0; i < checksumOffset; i++ {
		sum += uint16(buf[i])
	}
	for i := timestampOffset; i < BufferSize; i++ {
		sum += uint16(buf[i])
	}
	return sum
}
