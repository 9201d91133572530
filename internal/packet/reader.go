package packet

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader decodes one packet payload. All multi-byte values are
// Little-Endian.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a new payload reader.
func NewReader(data []byte) *Reader {
	return &Reader{
		data: data,
		pos:  0,
	}
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("ReadByte: %w (pos=%d, len=%d)", ErrShortRead, r.pos, len(r.data))
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadUint16 reads a uint16 (2 bytes, LE).
func (r *Reader) ReadUint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("ReadUint16: %w (pos=%d, len=%d)", ErrShortRead, r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return val, nil
}

// ReadInt32 reads an int32 (4 bytes, LE).
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint32 reads a uint32 (4 bytes, LE).
func (r *Reader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ReadUint32: %w (pos=%d, len=%d)", ErrShortRead, r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return val, nil
}

// ReadUint64 reads a uint64 (8 bytes, LE).
func (r *Reader) ReadUint64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("ReadUint64: %w (pos=%d, len=%d)", ErrShortRead, r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return val, nil
}

// ReadInt64 reads an int64 (8 bytes, LE).
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadFloat32 reads a float32 (4 bytes, LE, IEEE 754).
func (r *Reader) ReadFloat32() (float32, error) {
	bits, err := r.ReadUint32()
	if err != nil {
		return 0, fmt.Errorf("ReadFloat32: %w", err)
	}
	return math.Float32frombits(bits), nil
}

// ReadString reads a bancho string: either a single 0x00 byte (empty)
// or 0x0b, a uleb128 length and that many UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("ReadString: %w", err)
	}
	switch prefix {
	case 0x00:
		return "", nil
	case 0x0b:
	default:
		return "", fmt.Errorf("ReadString: %w (prefix=0x%02x, pos=%d)", ErrMalformed, prefix, r.pos-1)
	}

	length, err := r.readULEB128()
	if err != nil {
		return "", fmt.Errorf("ReadString: %w", err)
	}
	if r.pos+int(length) > len(r.data) {
		return "", fmt.Errorf("ReadString: %w (pos=%d, need=%d, len=%d)", ErrShortRead, r.pos, length, len(r.data))
	}
	s := string(r.data[r.pos : r.pos+int(length)])
	r.pos += int(length)
	return s, nil
}

// ReadIntList reads a u16 count followed by count int32 values.
func (r *Reader) ReadIntList() ([]int32, error) {
	count, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("ReadIntList: %w", err)
	}
	out := make([]int32, 0, count)
	for i := 0; i < int(count); i++ {
		v, err := r.ReadInt32()
		if err != nil {
			return nil, fmt.Errorf("ReadIntList[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadBytes reads n bytes (zero-copy subslice of the payload).
// The returned slice shares memory with the Reader's data; callers
// that keep or mutate it must copy first.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("ReadBytes: %w (negative count %d)", ErrMalformed, n)
	}
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("ReadBytes: %w (pos=%d, need=%d, len=%d)", ErrShortRead, r.pos, n, len(r.data))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadRemaining consumes and returns everything left in the payload.
func (r *Reader) ReadRemaining() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Position returns the current read position.
func (r *Reader) Position() int {
	return r.pos
}

func (r *Reader) readULEB128() (uint32, error) {
	var (
		result uint32
		shift  uint
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("uleb128: %w", err)
		}
		if shift >= 35 {
			return 0, fmt.Errorf("uleb128: %w (value does not fit in 32 bits)", ErrMalformed)
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}
