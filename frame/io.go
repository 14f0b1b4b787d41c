package frame

import (
	"errors"
	"io"
	"strings"
)

// ErrFieldSeparator is returned by JoinFields when a field contains the '&'
// separator. The wire format has no escaping mechanism (spec precondition):
// usernames, filenames, hosts and ports must never contain '&'.
var ErrFieldSeparator = errors.New("frame: field contains '&' separator")

// JoinFields builds an ASCII '&'-separated payload, rejecting any field that
// itself contains '&' since the protocol has no escaping mechanism.
func JoinFields(fields ...string) (string, error) {
	for _, f := range fields {
		if strings.Contains(f, "&") {
			return "", ErrFieldSeparator
		}
	}
	return strings.Join(fields, "&"), nil
}

// SplitFields splits an ASCII '&'-separated payload into exactly want
// fields, returning an error if the count does not match.
func SplitFields(payload []byte, want int) ([]string, error) {
	s := string(payload)
	parts := strings.Split(s, "&")
	if len(parts) != want {
		return nil, errors.New("frame: unexpected field count")
	}
	return parts, nil
}

// Write encodes and writes a single frame to w.
func Write(w io.Writer, t Type, payload []byte) error {
	buf, err := Encode(t, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf[:])
	return err
}

// Read reads and decodes a single frame from r.
func Read(r io.Reader) (Frame, error) {
	var buf [BufferSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Frame{}, err
	}
	return Decode(buf)
}
