package realm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleWorlds() []WorldDescriptor {
	return []WorldDescriptor{
		{ID: 1, Name: "Aden", IP: "10.0.0.5", Port: 15001, State: Available, MaxUsers: 100, CurrentUsers: 15},
		{ID: 2, Name: "Gludio", IP: "10.0.0.6", Port: 15003, State: Closed, MaxUsers: 500, CurrentUsers: 0},
		{ID: 200, Name: "Ōren ☀", IP: "fe80::1", Port: 65535, State: Offline, MaxUsers: 65535, CurrentUsers: 65535},
	}
}

func TestListRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		worlds := sampleWorlds()[:n]

		data, err := EncodeList(worlds)
		require.NoError(t, err)

		got, err := DecodeList(data)
		require.NoError(t, err)
		assert.Len(t, got, n)
		for i := range worlds {
			assert.Equal(t, worlds[i], got[i])
		}
	}
}

func TestEncodeListLayout(t *testing.T) {
	data, err := EncodeList([]WorldDescriptor{
		{ID: 3, Name: "ab", IP: "1.2", Port: 0x1234, State: Available, MaxUsers: 0x0100, CurrentUsers: 0x0010},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		3, 2,
		3, '1', '.', '2',
		0x12, 0x34,
		2, 'a', 'b',
		0x00, 0x10,
		0x01, 0x00,
	}, data)
}

func TestEncodeListRejectsOversizedFields(t *testing.T) {
	_, err := EncodeList([]WorldDescriptor{{ID: 1, Name: strings.Repeat("x", 256)}})
	assert.ErrorIs(t, err, ErrFieldTooLong)

	// 128 two-byte runes: 128 characters but 256 UTF-8 bytes.
	_, err = EncodeList([]WorldDescriptor{{ID: 1, Name: strings.Repeat("é", 128)}})
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, err = EncodeList([]WorldDescriptor{{ID: 1, Port: 70000}})
	assert.ErrorIs(t, err, ErrFieldRange)

	_, err = EncodeList([]WorldDescriptor{{ID: 1, CurrentUsers: -1}})
	assert.ErrorIs(t, err, ErrFieldRange)
}

func TestDecodeListTruncated(t *testing.T) {
	data, err := EncodeList(sampleWorlds())
	require.NoError(t, err)

	got, err := DecodeList(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrTruncatedRecord)
	assert.Len(t, got, 2, "complete records before the truncated one are returned")
}

func TestHeartbeatJSON(t *testing.T) {
	d := sampleWorlds()[0]
	data, err := MarshalHeartbeat(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"Aden","ip":"10.0.0.5","port":15001,"state":2,"maxUsers":100,"currentUsers":15}`, string(data))

	got, err := UnmarshalHeartbeat(data)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestHeartbeatJSONStateForms(t *testing.T) {
	got, err := UnmarshalHeartbeat([]byte(`{"Id":4,"State":"closed","MaxUsers":10}`))
	require.NoError(t, err)
	assert.Equal(t, uint8(4), got.ID)
	assert.Equal(t, Closed, got.State)
	assert.Equal(t, 10, got.MaxUsers)

	_, err = UnmarshalHeartbeat([]byte(`{"id":4,"state":9}`))
	assert.Error(t, err)

	_, err = UnmarshalHeartbeat([]byte(`not json`))
	assert.Error(t, err)
}

func TestDescriptorDerived(t *testing.T) {
	d := WorldDescriptor{MaxUsers: 200, CurrentUsers: 50, IP: "127.0.0.1", Port: 15001}
	assert.Equal(t, 150, d.Capacity())
	assert.InDelta(t, 25.0, d.UsagePercent(), 1e-9)
	assert.Equal(t, "127.0.0.1:15001", d.Address())
	assert.Zero(t, WorldDescriptor{}.UsagePercent())
}

func TestParseWorldState(t *testing.T) {
	for in, want := range map[string]WorldState{"Available": Available, "CLOSED": Closed, "0": Offline, "2": Available} {
		got, err := ParseWorldState(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseWorldState("3")
	assert.Error(t, err)
	_, err = ParseWorldState("busy")
	assert.Error(t, err)
}
