package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrStringTooLong is latched by Writer.WriteS for strings over 255 bytes.
var ErrStringTooLong = errors.New("packet: string longer than 255 bytes")

// Writer builds a packet payload. Integers are written big-endian and
// floats little-endian.
type Writer struct {
	buf []byte
	err error
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

// WriteH writes 2 bytes big-endian.
func (w *Writer) WriteH(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

// WriteF writes a float32 as 4 little-endian IEEE-754 bytes.
func (w *Writer) WriteF(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

// WriteS writes a UTF-8 string prefixed with its 1-byte byte length.
func (w *Writer) WriteS(s string) {
	if len(s) > math.MaxUint8 {
		w.setErr(fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s)))
		return
	}
	w.buf = append(w.buf, byte(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the payload built so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current payload length.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Err returns the first encoding error, if any.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) setErr(err error) {
	if w.err == nil {
		w.err = err
	}
}
