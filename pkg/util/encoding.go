package util

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// DecodingError reports malformed wire or stored bytes.
type DecodingError struct {
	Field  string
	Reason string
}

func (e *DecodingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode failed: %s", e.Reason)
	}
	return fmt.Sprintf("decode %s failed: %s", e.Field, e.Reason)
}

func shortBuffer(field string, need, have int) error {
	return &DecodingError{Field: field, Reason: fmt.Sprintf("need %d bytes, have %d", need, have)}
}

// HexToBytes decodes a hex string to bytes, returning an error if invalid.
func HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes to a hex string.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// VarIntSize returns the encoded length of val.
func VarIntSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= 0xffff:
		return 3
	case val <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// WriteVarInt writes a Bitcoin-style variable-length integer to a byte slice.
// Returns the bytes written.
func WriteVarInt(val uint64) []byte {
	switch {
	case val < 0xfd:
		return []byte{byte(val)}
	case val <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:], uint16(val))
		return b
	case val <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:], uint32(val))
		return b
	default:
		b := make([]byte, 9)
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:], val)
		return b
	}
}

// ReadVarInt reads a Bitcoin-style variable-length integer from a byte slice.
// Returns the value and the number of bytes consumed.
func ReadVarInt(data []byte) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, shortBuffer("varint", 1, 0)
	}

	switch {
	case data[0] < 0xfd:
		return uint64(data[0]), 1, nil
	case data[0] == 0xfd:
		if len(data) < 3 {
			return 0, 0, shortBuffer("uint16 varint", 3, len(data))
		}
		return uint64(binary.LittleEndian.Uint16(data[1:3])), 3, nil
	case data[0] == 0xfe:
		if len(data) < 5 {
			return 0, 0, shortBuffer("uint32 varint", 5, len(data))
		}
		return uint64(binary.LittleEndian.Uint32(data[1:5])), 5, nil
	default:
		if len(data) < 9 {
			return 0, 0, shortBuffer("uint64 varint", 9, len(data))
		}
		return binary.LittleEndian.Uint64(data[1:9]), 9, nil
	}
}

// WriteVarBytes writes b prefixed with its var-int length.
func WriteVarBytes(b []byte) []byte {
	out := make([]byte, 0, VarIntSize(uint64(len(b)))+len(b))
	out = append(out, WriteVarInt(uint64(len(b)))...)
	return append(out, b...)
}

// WriteScriptLen returns the push opcode prefix for length bytes of data:
// OP_DATA_n, then OP_PUSHDATA1/2/4 with a little-endian length.
func WriteScriptLen(length int) []byte {
	switch {
	case length < 0x4c:
		return []byte{byte(length)}
	case length <= 0xff:
		return []byte{0x4c, byte(length)}
	case length <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0x4d
		binary.LittleEndian.PutUint16(b[1:], uint16(length))
		return b
	default:
		b := make([]byte, 5)
		b[0] = 0x4e
		binary.LittleEndian.PutUint32(b[1:], uint32(length))
		return b
	}
}

// Reader is a forward-only cursor over an in-memory buffer. Every read
// checks the remaining length first and fails with a *DecodingError instead
// of returning a partial value.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Bytes reads exactly n bytes. The returned slice is a copy.
func (r *Reader) Bytes(field string, n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, shortBuffer(field, n, r.Remaining())
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out, nil
}

func (r *Reader) take(field string, n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, shortBuffer(field, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Uint8(field string) (uint8, error) {
	b, err := r.take(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16(field string) (uint16, error) {
	b, err := r.take(field, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) Uint32(field string) (uint32, error) {
	b, err := r.take(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) Uint64(field string) (uint64, error) {
	b, err := r.take(field, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) Int32(field string) (int32, error) {
	v, err := r.Uint32(field)
	return int32(v), err
}

func (r *Reader) Int64(field string) (int64, error) {
	v, err := r.Uint64(field)
	return int64(v), err
}

// Hash reads a 32-byte hash in wire (internal) byte order.
func (r *Reader) Hash(field string) ([32]byte, error) {
	var h [32]byte
	b, err := r.take(field, 32)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// VarInt reads a var-int.
func (r *Reader) VarInt(field string) (uint64, error) {
	v, n, err := ReadVarInt(r.buf[r.off:])
	if err != nil {
		if de, ok := err.(*DecodingError); ok {
			de.Field = field
		}
		return 0, err
	}
	r.off += n
	return v, nil
}

// VarBytes reads a var-int length followed by that many bytes. The length
// is checked against max and against the remaining buffer before anything
// is allocated.
func (r *Reader) VarBytes(field string, max int) ([]byte, error) {
	n, err := r.VarInt(field)
	if err != nil {
		return nil, err
	}
	if max > 0 && n > uint64(max) {
		return nil, &DecodingError{Field: field, Reason: fmt.Sprintf("length %d exceeds limit %d", n, max)}
	}
	if n > uint64(r.Remaining()) {
		return nil, &DecodingError{Field: field, Reason: fmt.Sprintf("length %d exceeds remaining %d", n, r.Remaining())}
	}
	return r.Bytes(field, int(n))
}

// Count reads a var-int element count and bounds it by how many elements of
// at least minSize bytes could still fit in the buffer.
func (r *Reader) Count(field string, minSize int) (int, error) {
	n, err := r.VarInt(field)
	if err != nil {
		return 0, err
	}
	if minSize > 0 && n > uint64(r.Remaining()/minSize) {
		return 0, &DecodingError{Field: field, Reason: fmt.Sprintf("count %d exceeds remaining buffer", n)}
	}
	return int(n), nil
}

// Writer accumulates little-endian encoded fields.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Write(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) Uint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Uint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) Uint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) Uint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

func (w *Writer) VarInt(v uint64) { w.buf = append(w.buf, WriteVarInt(v)...) }

func (w *Writer) VarBytes(b []byte) {
	w.VarInt(uint64(len(b)))
	w.buf = append(w.buf, b...)
}
