package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// wireDataFrame builds an on-wire 0x81 frame for body, mirroring what a
// real radio module would send: a 3-byte header (marker, payload length,
// reserved), then rssi/repeater-MAC/channel/protocol/body.
func wireDataFrame(channel uint16, protocol byte, repeated bool, body []byte) []byte {
	protoByte := protocol
	if repeated {
		protoByte |= 0x80
	}
	payload := []byte{0xAA, 0x11, 0x22, 0x33, byte(channel >> 8), byte(channel), protoByte}
	payload = append(payload, body...)

	wire := []byte{byteData, byte(len(payload)), 0x00}
	wire = append(wire, payload...)
	if repeated {
		wire = append(wire, 0x44, 0x55, 0x66, 0xBB)
	}
	return wire
}

func TestFeedParsesOneDataFrame(t *testing.T) {
	d := New(0)
	wire := wireDataFrame(7, 0x02, false, []byte{0x01, 0x02, 0x03})

	events := d.Feed(wire)
	require.Len(t, events, 1)
	require.Equal(t, KindData, events[0].Kind)
	require.Equal(t, uint16(7), events[0].Data.Channel)
	require.Equal(t, byte(0x02), events[0].Data.Protocol)
	require.False(t, events[0].Data.IsRepeated)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, events[0].Data.Body)
}

func TestFeedParsesRepeatedFrameTrailer(t *testing.T) {
	d := New(0)
	wire := wireDataFrame(3, 0x01, true, []byte{0xAA, 0xBB, 0xCC})

	events := d.Feed(wire)
	require.Len(t, events, 1)
	require.True(t, events[0].Data.IsRepeated)
	require.Equal(t, [3]byte{0x44, 0x55, 0x66}, events[0].Data.SensorMAC)
	require.Equal(t, byte(0xBB), events[0].Data.SensorRSSI)
}

func TestFeedBuffersIncompleteFrameAcrossCalls(t *testing.T) {
	d := New(0)
	wire := wireDataFrame(1, 0x01, false, []byte{0x01, 0x02, 0x03})

	require.Empty(t, d.Feed(wire[:4]))
	events := d.Feed(wire[4:])
	require.Len(t, events, 1)
}

func TestFeedResyncsOnJunkBytes(t *testing.T) {
	d := New(0)
	wire := append([]byte{0x00, 0xFF, 0x12}, wireDataFrame(2, 0x01, false, []byte{0x01, 0x02, 0x03})...)

	events := d.Feed(wire)
	require.Len(t, events, 1)
	require.Equal(t, uint64(3), d.Counters().JunkBytes)
}

func TestFeedSkipsTxStatusFrame(t *testing.T) {
	d := New(0)
	wire := append([]byte{byteTxStat, 0x00, 0x00, 0x00}, wireDataFrame(5, 0x01, false, []byte{0x01, 0x02, 0x03})...)

	events := d.Feed(wire)
	require.Len(t, events, 1)
	require.Equal(t, uint64(1), d.Counters().SkippedTxStatus)
}

func TestFeedFlagsOversizedFrame(t *testing.T) {
	d := New(4)
	wire := wireDataFrame(1, 0x01, false, make([]byte, 16))

	events := d.Feed(wire)
	require.Empty(t, events)
	require.Equal(t, uint64(1), d.Counters().OversizedFrames)
}

func TestFeedParsesCommandResponse(t *testing.T) {
	d := New(0)
	events := d.Feed([]byte{byteCommand, 0x00, 0x03})

	require.Len(t, events, 1)
	require.Equal(t, KindCommandResp, events[0].Kind)
	require.Equal(t, []byte{byteCommand, 0x00, 0x03}, events[0].CommandResp.Bytes)
}

func TestMapRSSISaturatesAtBounds(t *testing.T) {
	// raw=50 -> dBm = 25-82 = -57, >= -58 -> saturates high.
	require.Equal(t, 95, MapRSSI(50))
	// raw=128 -> dBm = (128-256)/2-82 = -146, <= -94 -> saturates low.
	require.Equal(t, 5, MapRSSI(128))
}

func TestMapRSSIMidRange(t *testing.T) {
	// raw=24 -> dBm = 12-82 = -70 -> pct = round(2.5*-70+240) = 65.
	require.Equal(t, 65, MapRSSI(24))
}
