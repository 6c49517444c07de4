package netstats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordRTTTracksCurrentMaxAndAverage(t *testing.T) {
	c := New()
	c.RecordRTT("1.2.3.4:9000", 10)
	c.RecordRTT("1.2.3.4:9000", 30)
	c.RecordRTT("1.2.3.4:9000", 20)

	st, ok := c.Get("1.2.3.4:9000")
	require.True(t, ok)
	require.EqualValues(t, 20, st.RTTCurrentMs)
	require.EqualValues(t, 30, st.RTTMaxMs)
	require.EqualValues(t, 3, st.RTTSamples)
	require.EqualValues(t, 20, st.RTTAverageMs) // (10+30+20)/3
}

func TestGlobalAverageRTTAcrossEndpoints(t *testing.T) {
	c := New()
	require.EqualValues(t, 0, c.GlobalAverageRTT())

	c.RecordRTT("a", 10)
	c.RecordRTT("b", 30)
	require.EqualValues(t, 20, c.GlobalAverageRTT())
}

func TestByteCountersAreGlobalAndPerEndpoint(t *testing.T) {
	c := New()
	c.Register("a")

	c.AddBytesSent("a", 100)
	c.AddBytesReceived("a", 40)
	// An unregistered endpoint still counts toward the global totals but
	// has no per-endpoint entry.
	c.AddBytesSent("b", 50)

	require.EqualValues(t, 150, c.TotalBytesSent())
	require.EqualValues(t, 40, c.TotalBytesReceived())

	st, ok := c.Get("a")
	require.True(t, ok)
	require.EqualValues(t, 100, st.BytesSent)
	require.EqualValues(t, 40, st.BytesReceived)

	_, ok = c.Get("b")
	require.False(t, ok)
}

func TestUnregisterDropsEndpoint(t *testing.T) {
	c := New()
	c.Register("a")
	require.Equal(t, 1, c.TrackedEndpoints())

	c.Unregister("a")
	require.Equal(t, 0, c.TrackedEndpoints())

	_, ok := c.Get("a")
	require.False(t, ok)
}
