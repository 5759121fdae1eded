package raknet

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// MagicMarker is the fixed 16-byte sequence every RakNet offline message
// opens with, immediately after the one-byte message ID.
var MagicMarker = [16]byte{
	0x00, 0xFF, 0xFF, 0x00, 0xFE, 0xFE, 0xFE, 0xFE,
	0xFD, 0xFD, 0xFD, 0xFD, 0x12, 0x34, 0x56, 0x78,
}

// Reader walks a RakNet byte buffer, decoding big-endian integers (u24 is
// the one exception: RakNet encodes it little-endian) and the handful of
// length-prefixed shapes the offline handshake and frame header use.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding. buf is not copied; the
// caller must not mutate it while the Reader is in use.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of unread bytes remaining.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// Remaining returns a slice over everything not yet consumed.
func (r *Reader) Remaining() []byte { return r.buf[r.pos:] }

func (r *Reader) need(n int) error {
	if r.Len() < n {
		return fmt.Errorf("need %d bytes, have %d", n, r.Len())
	}
	return nil
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, wireErr("read u8", err)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Uint16 reads a big-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, wireErr("read u16", err)
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint24 reads a little-endian 3-byte unsigned integer, RakNet's encoding
// for frame indices and sequence numbers.
func (r *Reader) Uint24() (uint32, error) {
	if err := r.need(3); err != nil {
		return 0, wireErr("read u24", err)
	}
	v := uint32(r.buf[r.pos]) | uint32(r.buf[r.pos+1])<<8 | uint32(r.buf[r.pos+2])<<16
	r.pos += 3
	return v, nil
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, wireErr("read u32", err)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Int64 reads a big-endian signed 64-bit integer.
func (r *Reader) Int64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, wireErr("read i64", err)
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

// Uint64 reads a big-endian unsigned 64-bit integer.
func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, wireErr("read u64", err)
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, wireErr("read bytes", err)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Magic reads and validates the 16-byte offline-message marker.
func (r *Reader) Magic() error {
	b, err := r.Bytes(16)
	if err != nil {
		return wireErr("read magic", err)
	}
	for i, want := range MagicMarker {
		if b[i] != want {
			return wireErrf("read magic", "magic marker mismatch at byte %d", i)
		}
	}
	return nil
}

// String reads a u16-length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", wireErr("read string", err)
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return "", wireErr("read string", err)
	}
	if !utf8.Valid(b) {
		return "", wireErrf("read string", "invalid utf-8 in length-prefixed string")
	}
	return string(b), nil
}

// Writer builds a RakNet byte buffer with the same encodings Reader
// decodes.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Uint8 appends a single byte.
func (w *Writer) Uint8(v byte) { w.buf = append(w.buf, v) }

// Uint16 appends a big-endian uint16.
func (w *Writer) Uint16(v uint16) {
	w.buf = append(w.buf, byte(v>>8), byte(v))
}

// Uint24 appends a little-endian 3-byte unsigned integer.
func (w *Writer) Uint24(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
}

// Uint32 appends a big-endian uint32.
func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Int64 appends a big-endian signed 64-bit integer.
func (w *Writer) Int64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

// Uint64 appends a big-endian unsigned 64-bit integer.
func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Raw appends raw bytes verbatim.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Magic appends the offline-message marker.
func (w *Writer) Magic() { w.buf = append(w.buf, MagicMarker[:]...) }

// String appends a u16-length-prefixed string.
func (w *Writer) String(s string) {
	w.Uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}
