package realm

import (
	"errors"
	"fmt"
	"math"

	"github.com/l1jgo/realmd/internal/net/packet"
)

var (
	// ErrFieldTooLong means a name or IP does not fit a 1-byte length prefix.
	ErrFieldTooLong = errors.New("realm list: field longer than 255 bytes")
	// ErrFieldRange means a port or user count does not fit 16 bits.
	ErrFieldRange = errors.New("realm list: value out of 16-bit range")
	// ErrTruncatedRecord means the buffer ended inside a record.
	ErrTruncatedRecord = errors.New("realm list: truncated record")
)

// EncodeList renders the RealmListResponse payload. Per world:
//
//	id(1) | state(1) | ipLen(1) | ip | port(2) | nameLen(1) | name | currentUsers(2) | maxUsers(2)
//
// All 16-bit values are big-endian; string lengths count UTF-8 bytes.
func EncodeList(worlds []WorldDescriptor) ([]byte, error) {
	w := packet.NewWriter()
	for _, d := range worlds {
		if err := checkRecord(d); err != nil {
			return nil, fmt.Errorf("world %d: %w", d.ID, err)
		}
		w.WriteC(d.ID)
		w.WriteC(byte(d.State))
		w.WriteS(d.IP)
		w.WriteH(uint16(d.Port))
		w.WriteS(d.Name)
		w.WriteH(uint16(d.CurrentUsers))
		w.WriteH(uint16(d.MaxUsers))
	}
	return w.Bytes(), w.Err()
}

func checkRecord(d WorldDescriptor) error {
	if len(d.IP) > math.MaxUint8 {
		return fmt.Errorf("%w: ip %d bytes", ErrFieldTooLong, len(d.IP))
	}
	if len(d.Name) > math.MaxUint8 {
		return fmt.Errorf("%w: name %d bytes", ErrFieldTooLong, len(d.Name))
	}
	for _, v := range []struct {
		name string
		val  int
	}{
		{"port", d.Port},
		{"currentUsers", d.CurrentUsers},
		{"maxUsers", d.MaxUsers},
	} {
		if v.val < 0 || v.val > math.MaxUint16 {
			return fmt.Errorf("%w: %s=%d", ErrFieldRange, v.name, v.val)
		}
	}
	return nil
}

// DecodeList parses a RealmListResponse payload until it is exhausted.
func DecodeList(data []byte) ([]WorldDescriptor, error) {
	var worlds []WorldDescriptor
	r := packet.NewReader(data)
	for r.Remaining() > 0 {
		d := WorldDescriptor{
			ID:    r.ReadC(),
			State: WorldState(r.ReadC()),
			IP:    r.ReadS(),
			Port:  int(r.ReadH()),
			Name:  r.ReadS(),
		}
		d.CurrentUsers = int(r.ReadH())
		d.MaxUsers = int(r.ReadH())
		if r.Err() != nil {
			return worlds, fmt.Errorf("%w after %d worlds", ErrTruncatedRecord, len(worlds))
		}
		worlds = append(worlds, d)
	}
	return worlds, nil
}
