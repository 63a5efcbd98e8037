package classifier

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxMessageSize bounds a single framed message.
const MaxMessageSize = 64 << 20

// ErrMessageTooLarge is returned when a frame header announces more than MaxMessageSize bytes.
var ErrMessageTooLarge = errors.New("classifier: message too large")

// WriteMessage encodes v as msgpack and writes it with a 4-byte big-endian
// length prefix, in a single Write.
func WriteMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("classifier: marshal message: %w", err)
	}
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("classifier: write message: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed msgpack message into v.
// A clean end of stream before the header is returned as io.EOF.
func ReadMessage(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("classifier: read message header: %w", err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("classifier: read message body (%d bytes): %w", n, err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("classifier: unmarshal message: %w", err)
	}
	return nil
}
