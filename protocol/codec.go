package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/encodeous/dvr/state"
)

var ErrMalformed = errors.New("malformed packet")

// AddressSize is the encoded size of an address: a 2 byte area code unit and a signed machine byte
const AddressSize = 3

// Writer appends big-endian fields to a buffer. The first error is sticky.
type Writer struct {
	buf []byte
	err error
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) fail(format string, args ...any) {
	if w.err == nil {
		w.err = fmt.Errorf(format, args...)
	}
}

func (w *Writer) Uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) Uint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) Int32(v int) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		w.fail("value %d does not fit in 32 bits", v)
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(int32(v)))
}

func (w *Writer) Bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) Address(a state.Address) {
	if !a.IsValid() {
		w.fail("cannot encode invalid address %s", a)
		return
	}
	w.Uint16(uint16(a.Area))
	w.Uint8(uint8(a.Machine))
}

func (w *Writer) AddressList(l state.AddressList) {
	w.Int32(l.Len())
	for _, a := range l {
		w.Address(a)
	}
}

func (w *Writer) Entry(e state.Entry) {
	if !state.ValidDistance(e.Dist) {
		w.fail("distance %d out of range [0, %d]", e.Dist, state.MaxDistance)
		return
	}
	w.Address(e.Dest)
	w.Int32(e.Dist)
	w.AddressList(e.Path)
}

// Finish returns the encoded bytes, or the first error that occurred
func (w *Writer) Finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// Reader consumes big-endian fields from a buffer. After the first error every read returns zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.Remaining() < n {
		r.fail("need %d bytes at offset %d, have %d", n, r.off, r.Remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) Err() error {
	return r.err
}

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
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) Int32() int {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int(int32(binary.BigEndian.Uint32(b)))
}

func (r *Reader) Bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *Reader) Address() state.Address {
	area := r.Uint16()
	machine := int8(r.Uint8())
	if r.err != nil {
		return state.NoAddress
	}
	a := state.Address{Area: byte(area), Machine: machine}
	if area > math.MaxUint8 || !a.IsValid() {
		r.fail("invalid address (area %d, machine %d)", area, machine)
		return state.NoAddress
	}
	return a
}

func (r *Reader) AddressList() state.AddressList {
	n := r.Int32()
	if r.err != nil {
		return nil
	}
	if n < 0 || n*AddressSize > r.Remaining() {
		r.fail("invalid path length %d", n)
		return nil
	}
	l := make(state.AddressList, 0, n)
	for range n {
		l = append(l, r.Address())
	}
	if r.err != nil {
		return nil
	}
	return l
}

func (r *Reader) Entry() state.Entry {
	dest := r.Address()
	dist := r.Int32()
	if r.err == nil && !state.ValidDistance(dist) {
		r.fail("invalid distance %d", dist)
	}
	path := r.AddressList()
	if r.err != nil {
		return state.Entry{}
	}
	return state.NewEntry(dest, dist, path)
}

// End fails the reader if unread bytes remain
func (r *Reader) End() {
	if r.err == nil && r.Remaining() != 0 {
		r.fail("%d trailing bytes", r.Remaining())
	}
}

// EncodeEntry returns the wire form of a single vector entry
func EncodeEntry(e state.Entry) ([]byte, error) {
	w := NewWriter(AddressSize + 8 + e.Path.Len()*AddressSize)
	w.Entry(e)
	return w.Finish()
}

// DecodeEntry parses exactly one vector entry
func DecodeEntry(b []byte) (state.Entry, error) {
	r := NewReader(b)
	e := r.Entry()
	r.End()
	return e, r.Err()
}
