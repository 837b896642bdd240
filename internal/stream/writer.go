package stream

import (
	"encoding/binary"
	"io"
	"math"
)

// Writer writes little-endian fields to an io.Writer. Like Reader it keeps
// the first error and turns later writes into no-ops.
type Writer struct {
	w   io.Writer
	err error
	buf [8]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Err() error { return w.err }

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

// WriteU8 writes 1 byte.
func (w *Writer) WriteU8(v uint8) {
	w.buf[0] = v
	w.write(w.buf[:1])
}

// WriteU16 writes 2 bytes little-endian.
func (w *Writer) WriteU16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.write(w.buf[:2])
}

// WriteU32 writes 4 bytes little-endian.
func (w *Writer) WriteU32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

// WriteU64 writes 8 bytes little-endian.
func (w *Writer) WriteU64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

func (w *Writer) WriteF32(v float32) { w.WriteU32(math.Float32bits(v)) }

// WriteString writes s as a u32 byte length followed by its bytes.
func (w *Writer) WriteString(s string) {
	w.WriteU32(uint32(len(s)))
	if len(s) > 0 {
		w.write([]byte(s))
	}
}
