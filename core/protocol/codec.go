package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShortBuffer is returned when a payload ends before a field.
	ErrShortBuffer = errors.New("protocol: short buffer")
	// ErrStringTooLong is returned when a string exceeds the uint16 prefix.
	ErrStringTooLong = errors.New("protocol: string too long")
	// ErrCountTooLarge is returned when a list exceeds its count prefix.
	ErrCountTooLarge = errors.New("protocol: list too long")
)

var order = binary.LittleEndian

// Writer encodes fixed-width fields. The first error sticks and later
// writes are ignored.
type Writer struct {
	buf []byte
	err error
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
		return
	}
	w.Uint8(0)
}

func (w *Writer) Int8(v int8)   { w.Uint8(uint8(v)) }
func (w *Writer) Int16(v int16) { w.Uint16(uint16(v)) }
func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

func (w *Writer) Uint8(v uint8) {
	if w.err == nil {
		w.buf = append(w.buf, v)
	}
}

func (w *Writer) Uint16(v uint16) {
	if w.err == nil {
		w.buf = order.AppendUint16(w.buf, v)
	}
}

func (w *Writer) Uint32(v uint32) {
	if w.err == nil {
		w.buf = order.AppendUint32(w.buf, v)
	}
}

func (w *Writer) Float32(v float32) {
	w.Uint32(math.Float32bits(v))
}

// String writes a uint16 length prefix followed by the raw bytes.
func (w *Writer) String(s string) {
	if len(s) > math.MaxUint16 {
		w.fail(fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s)))
		return
	}
	w.Uint16(uint16(len(s)))
	if w.err == nil {
		w.buf = append(w.buf, s...)
	}
}

// Count writes a uint16 list length.
func (w *Writer) Count(n int) {
	if n > math.MaxUint16 {
		w.fail(fmt.Errorf("%w: %d", ErrCountTooLarge, n))
		return
	}
	w.Uint16(uint16(n))
}

// Entity writes an opaque entity reference.
func (w *Writer) Entity(h uint32) { w.Uint32(h) }

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Err returns the first encoding error.
func (w *Writer) Err() error { return w.err }

// Bytes returns the encoded payload.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader decodes fixed-width fields. Reads past the end return zero values
// and set a sticky ErrShortBuffer.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader wraps a payload.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.data)-r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) Int8() int8   { return int8(r.Uint8()) }
func (r *Reader) Int16() int16 { return int16(r.Uint16()) }
func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return order.Uint16(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return order.Uint32(b)
}

func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

func (r *Reader) String() string {
	n := int(r.Uint16())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// Count reads a uint16 list length.
func (r *Reader) Count() int { return int(r.Uint16()) }

// Entity reads an opaque entity reference.
func (r *Reader) Entity() uint32 { return r.Uint32() }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Err returns the first decoding error.
func (r *Reader) Err() error { return r.err }
