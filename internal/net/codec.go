package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"

	"github.com/l1jgo/realmd/internal/net/packet"
)

var (
	// ErrFrameTooLarge means opcode+payload does not fit the 16-bit length.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrConnectionClosed means the stream ended before a full frame arrived.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrMalformedFrame means the header announced a zero-length body.
	ErrMalformedFrame = errors.New("malformed frame")
)

// MaxPayload is the largest payload that fits in one frame.
const MaxPayload = math.MaxUint16 - 1

// EncodePacket renders one frame.
// Wire format: [2 bytes BE: 1+len(payload)][1 byte opcode][payload].
func EncodePacket(p packet.Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrFrameTooLarge, len(p.Payload))
	}
	length := 1 + len(p.Payload)
	buf := make([]byte, 2+length)
	binary.BigEndian.PutUint16(buf[0:2], uint16(length))
	buf[2] = byte(p.Opcode)
	copy(buf[3:], p.Payload)
	return buf, nil
}

// ReadPacket reads exactly one frame from r. It never returns a partial
// frame: if the stream ends first the error wraps ErrConnectionClosed.
func ReadPacket(r io.Reader) (packet.Packet, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return packet.Packet{}, readErr("read frame header", err)
	}

	length := int(binary.BigEndian.Uint16(header[:]))
	if length == 0 {
		return packet.Packet{}, fmt.Errorf("%w: zero length", ErrMalformedFrame)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return packet.Packet{}, readErr(fmt.Sprintf("read frame body (%d bytes)", length), err)
	}
	return packet.Packet{Opcode: packet.Opcode(body[0]), Payload: body[1:]}, nil
}

// WritePacket encodes p and writes it with a single Write call.
func WritePacket(w io.Writer, p packet.Packet) error {
	buf, err := EncodePacket(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func readErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%s: %w", what, ErrConnectionClosed)
	}
	return fmt.Errorf("%s: %w", what, err)
}
