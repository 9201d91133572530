// Package packet implements the bancho wire format: little-endian
// fixed-width fields, length-prefixed uleb128 strings and a
// `u16 id · u8 pad · u32 length` frame header.
package packet

import (
	"errors"
	"fmt"
	"io"
)

// HeaderLength is the frame header size: id(2) + pad(1) + length(4).
const HeaderLength = 7

// MaxPayloadLength bounds a single inbound frame. A declared length
// above this is treated as a malformed packet, not an allocation order.
const MaxPayloadLength = 1 << 20

var (
	// ErrShortRead marks reads past the end of the payload.
	ErrShortRead = errors.New("short read")

	// ErrMalformed marks structurally invalid packets: bad string
	// prefix bytes, runaway uleb128 lengths, oversized frames.
	ErrMalformed = errors.New("malformed packet")
)

// Header describes one decoded frame header.
type Header struct {
	ID     uint16
	Length uint32
}

// ParseHeader decodes a frame header from the first HeaderLength bytes.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderLength {
		return Header{}, fmt.Errorf("ParseHeader: %w (have=%d, need=%d)", ErrShortRead, len(data), HeaderLength)
	}
	h := Header{
		ID:     uint16(data[0]) | uint16(data[1])<<8,
		Length: uint32(data[3]) | uint32(data[4])<<8 | uint32(data[5])<<16 | uint32(data[6])<<24,
	}
	if h.Length > MaxPayloadLength {
		return Header{}, fmt.Errorf("ParseHeader: %w (id=%d, length=%d)", ErrMalformed, h.ID, h.Length)
	}
	return h, nil
}

// ReadFrame reads one complete frame from r and returns its id and
// payload. The payload slice is freshly allocated and owned by the
// caller.
func ReadFrame(r io.Reader) (uint16, []byte, error) {
	var hdr [HeaderLength]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	h, err := ParseHeader(hdr[:])
	if err != nil {
		return 0, nil, err
	}
	if h.Length == 0 {
		return h.ID, nil, nil
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("reading payload of packet %d: %w", h.ID, err)
	}
	return h.ID, payload, nil
}
