package packet

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
)

// Writer accumulates one packet payload. All multi-byte values are
// Little-Endian.
type Writer struct {
	buf *bytes.Buffer
}

// writerPool reduces allocations by reusing Writers.
// Get() returns a Writer with Reset() called, Put() returns it to pool.
var writerPool = sync.Pool{
	New: func() any {
		return &Writer{
			buf: bytes.NewBuffer(make([]byte, 0, 256)),
		}
	},
}

// Get returns a Writer from the pool (already Reset).
func Get() *Writer {
	w := writerPool.Get().(*Writer)
	w.Reset()
	return w
}

// Put returns a Writer to the pool for reuse.
// IMPORTANT: Do not use the Writer after calling Put.
func (w *Writer) Put() {
	writerPool.Put(w)
}

// NewWriter creates a new packet writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{
		buf: bytes.NewBuffer(make([]byte, 0, capacity)),
	}
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) error {
	return w.buf.WriteByte(b)
}

// WriteUint16 writes a uint16 (2 bytes, LE).
func (w *Writer) WriteUint16(val uint16) {
	w.buf.WriteByte(byte(val))
	w.buf.WriteByte(byte(val >> 8))
}

// WriteInt32 writes an int32 (4 bytes, LE).
func (w *Writer) WriteInt32(val int32) {
	w.WriteUint32(uint32(val))
}

// WriteUint32 writes a uint32 (4 bytes, LE).
func (w *Writer) WriteUint32(val uint32) {
	w.buf.WriteByte(byte(val))
	w.buf.WriteByte(byte(val >> 8))
	w.buf.WriteByte(byte(val >> 16))
	w.buf.WriteByte(byte(val >> 24))
}

// WriteUint64 writes a uint64 (8 bytes, LE).
func (w *Writer) WriteUint64(val uint64) {
	w.buf.WriteByte(byte(val))
	w.buf.WriteByte(byte(val >> 8))
	w.buf.WriteByte(byte(val >> 16))
	w.buf.WriteByte(byte(val >> 24))
	w.buf.WriteByte(byte(val >> 32))
	w.buf.WriteByte(byte(val >> 40))
	w.buf.WriteByte(byte(val >> 48))
	w.buf.WriteByte(byte(val >> 56))
}

// WriteInt64 writes an int64 (8 bytes, LE).
func (w *Writer) WriteInt64(val int64) {
	w.WriteUint64(uint64(val))
}

// WriteFloat32 writes a float32 (4 bytes, LE, IEEE 754).
func (w *Writer) WriteFloat32(val float32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(val))
	w.buf.Write(tmp[:])
}

// WriteString writes a bancho string: 0x00 for the empty string,
// otherwise 0x0b followed by a uleb128 byte length and the UTF-8 bytes.
func (w *Writer) WriteString(s string) {
	if s == "" {
		w.buf.WriteByte(0x00)
		return
	}
	w.buf.WriteByte(0x0b)
	w.writeULEB128(uint32(len(s)))
	w.buf.WriteString(s)
}

// WriteIntList writes a u16 count followed by count int32 values.
func (w *Writer) WriteIntList(vals []int32) {
	w.WriteUint16(uint16(len(vals)))
	for _, v := range vals {
		w.WriteInt32(v)
	}
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(data []byte) {
	_, _ = w.buf.Write(data)
}

func (w *Writer) writeULEB128(v uint32) {
	for v >= 0x80 {
		w.buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	w.buf.WriteByte(byte(v))
}

// Frame returns a complete framed packet (header + payload) for the
// given id. The returned slice is freshly allocated, so the Writer may
// be pooled or reused afterwards.
func (w *Writer) Frame(id uint16) []byte {
	payload := w.buf.Bytes()
	out := make([]byte, HeaderLength+len(payload))
	out[0] = byte(id)
	out[1] = byte(id >> 8)
	out[2] = 0
	binary.LittleEndian.PutUint32(out[3:], uint32(len(payload)))
	copy(out[HeaderLength:], payload)
	return out
}

// Bytes returns the accumulated payload without a header.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the current payload length.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Reset clears the buffer for reuse.
func (w *Writer) Reset() {
	w.buf.Reset()
}

// Empty builds a framed packet with no payload.
func Empty(id uint16) []byte {
	var out [HeaderLength]byte
	out[0] = byte(id)
	out[1] = byte(id >> 8)
	return out[:]
}
