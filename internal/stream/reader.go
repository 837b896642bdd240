package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxStringLen caps the length prefix accepted by ReadString.
const MaxStringLen = 1 << 24

var ErrStringTooLong = errors.New("stream: string length exceeds limit")

// Reader reads little-endian fields from an io.Reader. The first failure is
// kept; later reads return zero values and Err reports the failure.
type Reader struct {
	r   io.Reader
	err error
	buf [8]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first read error, if any.
func (r *Reader) Err() error { return r.err }

func (r *Reader) fill(n int) []byte {
	if r.err != nil {
		return nil
	}
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
		return nil
	}
	return r.buf[:n]
}

// ReadU8 reads 1 byte.
func (r *Reader) ReadU8() uint8 {
	b := r.fill(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadU16 reads 2 bytes little-endian.
func (r *Reader) ReadU16() uint16 {
	b := r.fill(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// ReadU32 reads 4 bytes little-endian.
func (r *Reader) ReadU32() uint32 {
	b := r.fill(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadU64 reads 8 bytes little-endian.
func (r *Reader) ReadU64() uint64 {
	b := r.fill(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) ReadF32() float32 { return math.Float32frombits(r.ReadU32()) }

// ReadString reads a u32 byte length followed by that many bytes.
func (r *Reader) ReadString() string {
	n := r.ReadU32()
	if r.err != nil || n == 0 {
		return ""
	}
	if n > MaxStringLen {
		r.err = fmt.Errorf("%w: %d", ErrStringTooLong, n)
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
		return ""
	}
	return string(b)
}
