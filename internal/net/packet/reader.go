package packet

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortPayload is reported by Reader.Err when a read ran past the payload.
var ErrShortPayload = errors.New("packet: payload too short")

// Reader reads protocol fields from a packet payload. Integers are
// big-endian; floats are little-endian IEEE-754, matching existing clients.
// Reads past the end return zero values and latch ErrShortPayload, so a
// handler can decode a whole record and check Err once.
type Reader struct {
	data  []byte
	off   int
	short bool
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ReadC reads 1 unsigned byte.
func (r *Reader) ReadC() byte {
	if r.off >= len(r.data) {
		r.short = true
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

// ReadH reads 2 bytes as big-endian uint16.
func (r *Reader) ReadH() uint16 {
	if r.off+2 > len(r.data) {
		r.short = true
		r.off = len(r.data)
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// ReadF reads 4 bytes as a little-endian IEEE-754 float32.
func (r *Reader) ReadF() float32 {
	if r.off+4 > len(r.data) {
		r.short = true
		r.off = len(r.data)
		return 0
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.data[r.off:]))
	r.off += 4
	return v
}

// ReadS reads a string prefixed with a 1-byte UTF-8 length.
func (r *Reader) ReadS() string {
	n := int(r.ReadC())
	if r.short {
		return ""
	}
	return string(r.ReadBytes(n))
}

// ReadBytes reads n raw bytes. A short read returns what is left.
func (r *Reader) ReadBytes(n int) []byte {
	if r.off+n > len(r.data) {
		remaining := r.data[r.off:]
		r.off = len(r.data)
		r.short = true
		return remaining
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// Rest returns all unread bytes.
func (r *Reader) Rest() []byte {
	b := r.data[r.off:]
	r.off = len(r.data)
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Err returns ErrShortPayload if any read ran past the end.
func (r *Reader) Err() error {
	if r.short {
		return ErrShortPayload
	}
	return nil
}
