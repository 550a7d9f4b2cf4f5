package session

import (
	"encoding/binary"

	"github.com/resident-x/go-shine/internal/protocol"
)

// maxFrameSize caps the header size field. Anything larger is garbage: the
// biggest real record (extended data block) stays well under this.
const maxFrameSize = 4096

// Assembler reassembles protocol frames from a TCP byte stream. A single
// read may deliver a partial frame or several concatenated frames; the
// assembler buffers until the header size field is satisfied and yields
// exactly one frame at a time.
type Assembler struct {
	buf []byte
}

// Feed appends a received chunk to the reassembly buffer.
func (a *Assembler) Feed(data []byte) {
	a.buf = append(a.buf, data...)
}

// Next extracts the next complete frame from the buffer. It returns
// (nil, nil) when more bytes are needed. A malformed size field drops the
// buffered bytes and returns a FramingError; the connection stays usable.
func (a *Assembler) Next() (*protocol.Frame, error) {
	if len(a.buf) < protocol.HeaderLen {
		return nil, nil
	}

	size := binary.BigEndian.Uint16(a.buf[4:6])
	if size < 2 || size > maxFrameSize {
		dropped := len(a.buf)
		a.buf = nil
		return nil, &protocol.FramingError{Reason: "implausible size field, dropping buffer", Size: int(size), Available: dropped}
	}

	total := protocol.FrameLen(size)
	if len(a.buf) < total {
		return nil, nil
	}

	frame, err := protocol.Decode(a.buf[:total])
	if err != nil {
		// Decode only fails on framing; resynchronize by dropping.
		a.buf = nil
		return nil, err
	}

	// Copy out the remainder so frame.Raw keeps its own backing array.
	rest := make([]byte, len(a.buf)-total)
	copy(rest, a.buf[total:])
	a.buf = rest

	return frame, nil
}

// Pending returns the number of buffered bytes awaiting a complete frame.
func (a *Assembler) Pending() int {
	return len(a.buf)
}
