package hostapp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeReadingDataFrame(t *testing.T) {
	r, ok := decodeReading([]byte("NODE0:DATA:D:0%,V:12.003V,I:0.25mA,P:3.0mW"), 7)
	require.True(t, ok)
	require.Equal(t, 0, r.NodeID)
	require.Equal(t, 0, r.Duty)
	require.InDelta(t, 12.003, r.VoltageV, 1e-9)
	require.InDelta(t, 0.25, r.CurrentMA, 1e-9)
	require.Equal(t, 7, r.Generation)
}

func TestDecodeReadingMultiDigitNode(t *testing.T) {
	r, ok := decodeReading([]byte("NODE12:DATA:D:50%,V:11.900V,I:500.00mA,P:5950.0mW"), 1)
	require.True(t, ok)
	require.Equal(t, 12, r.NodeID)
	require.Equal(t, 50, r.Duty)
}

func TestDecodeReadingRejectsOtherShapes(t *testing.T) {
	for _, msg := range []string{
		"NODE0:ACK:1",
		"NODE0:ONOFF:0",
		"TIMEOUT:0x0007",
		"SENT:READ",
		"ERROR:INVALID_NODE",
		"NODE0:DATA:D:0%,V:12.003V",   // too few fields
		"NODEX:DATA:D:0%,V:1V,I:1mA,P:1mW", // bad id
		"",
	} {
		_, ok := decodeReading([]byte(msg), 0)
		require.False(t, ok, "decodeReading(%q) should reject", msg)
	}
}
