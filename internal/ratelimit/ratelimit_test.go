package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowRespectsBurstThenThrottles(t *testing.T) {
	p := NewPerEndpoint(1, 2)

	require.True(t, p.Allow("1.2.3.4:1"))
	require.True(t, p.Allow("1.2.3.4:1"))
	require.False(t, p.Allow("1.2.3.4:1"), "burst of 2 exhausted on the third call")
}

func TestAllowTracksEndpointsIndependently(t *testing.T) {
	p := NewPerEndpoint(1, 1)

	require.True(t, p.Allow("1.2.3.4:1"))
	require.True(t, p.Allow("5.6.7.8:1"), "a different endpoint has its own bucket")
}

func TestForgetEvictsLimiter(t *testing.T) {
	p := NewPerEndpoint(1, 1)
	p.Allow("1.2.3.4:1")
	p.Forget("1.2.3.4:1")

	require.Len(t, p.limiters, 0)
}
