// Package serializer implements GodCoin's deterministic, big-endian,
// length-prefixed binary codec. The shape follows the teacher's
// wire.ReadElement/WriteElement type-switch style (daglabs-btcd/wire), but
// the byte order and framing are consensus-critical and spec-mandated:
// fixed-width integers in network (big-endian) order, variable-length
// fields prefixed with a u32 length.
package serializer

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrKind enumerates ways decoding the wire format can fail.
type ErrKind int

const (
	// ErrIo covers short reads / truncated buffers.
	ErrIo ErrKind = iota
	// ErrInvalidTag covers an out-of-range sum-type discriminant.
	ErrInvalidTag
	// ErrBytesRemaining covers trailing bytes after a top-level decode.
	ErrBytesRemaining
)

// Error is returned by Reader methods and top-level Decode functions.
type Error struct {
	Kind ErrKind
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrIo:
		return "serializer: io error"
	case ErrInvalidTag:
		return "serializer: invalid tag"
	case ErrBytesRemaining:
		return "serializer: bytes remaining after decode"
	default:
		return "serializer: unknown error"
	}
}

// NewErr constructs an Error of the given kind.
func NewErr(kind ErrKind) error { return &Error{Kind: kind} }

// Writer accumulates a canonical big-endian encoding into an in-memory
// buffer. The zero value is ready to use.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with cap bytes of pre-allocated capacity.
func NewWriter(cap int) *Writer { return &Writer{buf: make([]byte, 0, cap)} }

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf }

// PushU8 appends a single byte.
func (w *Writer) PushU8(v uint8) { w.buf = append(w.buf, v) }

// PushU16 appends a big-endian uint16.
func (w *Writer) PushU16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PushU32 appends a big-endian uint32.
func (w *Writer) PushU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PushU64 appends a big-endian uint64.
func (w *Writer) PushU64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PushI64 appends a big-endian int64 (used for Asset minor units).
func (w *Writer) PushI64(v int64) { w.PushU64(uint64(v)) }

// PushBool appends a single boolean byte.
func (w *Writer) PushBool(v bool) {
	if v {
		w.PushU8(1)
	} else {
		w.PushU8(0)
	}
}

// PushBytes appends a u32 length prefix followed by the raw bytes.
func (w *Writer) PushBytes(b []byte) {
	w.PushU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// PushString appends a length-prefixed UTF-8 string.
func (w *Writer) PushString(s string) { w.PushBytes([]byte(s)) }

// PushRaw appends raw bytes with no length prefix (fixed-width fields).
func (w *Writer) PushRaw(b []byte) { w.buf = append(w.buf, b...) }

// Reader decodes a canonical big-endian encoding, tracking position so
// BytesRemaining can be detected by the caller after a top-level decode.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining returns the number of undecoded bytes left in the buffer.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Finish returns ErrBytesRemaining if the buffer was not fully consumed.
func (r *Reader) Finish() error {
	if r.Remaining() != 0 {
		return NewErr(ErrBytesRemaining)
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, NewErr(ErrIo)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// TakeU8 decodes a single byte.
func (r *Reader) TakeU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// TakeU16 decodes a big-endian uint16.
func (r *Reader) TakeU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// TakeU32 decodes a big-endian uint32.
func (r *Reader) TakeU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// TakeU64 decodes a big-endian uint64.
func (r *Reader) TakeU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// TakeI64 decodes a big-endian int64 (used for Asset minor units).
func (r *Reader) TakeI64() (int64, error) {
	v, err := r.TakeU64()
	return int64(v), err
}

// TakeBool decodes a single boolean byte.
func (r *Reader) TakeBool() (bool, error) {
	b, err := r.TakeU8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// TakeBytes decodes a u32-length-prefixed byte string.
func (r *Reader) TakeBytes() ([]byte, error) {
	n, err := r.TakeU32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

// TakeString decodes a length-prefixed UTF-8 string.
func (r *Reader) TakeString() (string, error) {
	b, err := r.TakeBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// TakeRaw decodes n raw bytes with no length prefix.
func (r *Reader) TakeRaw(n int) ([]byte, error) { return r.take(n) }

// WriteTo implements io.WriterTo so a Writer's buffer can be flushed
// directly to a file handle (used by the block log).
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	n, err := dst.Write(w.buf)
	if err != nil {
		return int64(n), errors.Wrap(err, "serializer: write")
	}
	return int64(n), nil
}
