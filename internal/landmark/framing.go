package landmark

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameBytes bounds a single helper message
const maxFrameBytes = 64 << 20

// Wire operations
const (
	opDetect    = "detect"
	opLandmarks = "landmarks"
)

// request is sent to the helper. Pixels is a tightly packed 8-bit gray image.
type request struct {
	ID     uint64 `msgpack:"id"`
	Op     string `msgpack:"op"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Pixels []byte `msgpack:"pixels"`
	Rect   []int  `msgpack:"rect,omitempty"` // x0, y0, x1, y1
}

// response is returned by the helper
type response struct {
	ID     uint64      `msgpack:"id"`
	Faces  [][]int     `msgpack:"faces,omitempty"`  // [x0, y0, x1, y1] per face
	Points [][]float64 `msgpack:"points,omitempty"` // [x, y] per landmark
	Error  string      `msgpack:"error,omitempty"`
}

// writeFrame writes v as a 4-byte big-endian length prefix followed by msgpack data
func writeFrame(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack request: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed msgpack message into v
func readFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameBytes {
		return fmt.Errorf("message too large: %d bytes", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read msgpack data: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack response: %w", err)
	}
	return nil
}
