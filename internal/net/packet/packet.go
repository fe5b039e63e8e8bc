package packet

// Packet is one protocol message: an opcode plus its raw payload.
// The payload length is implied by the frame.
type Packet struct {
	Opcode  Opcode
	Payload []byte
}

// New builds a packet. A nil payload is sent as an empty body.
func New(op Opcode, payload []byte) Packet {
	return Packet{Opcode: op, Payload: payload}
}

// Reader returns a field reader positioned at the start of the payload.
func (p Packet) Reader() *Reader {
	return NewReader(p.Payload)
}
