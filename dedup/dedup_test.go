package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilter_NoFalseNegativeWithinWindow(t *testing.T) {
	f, err := NewFilter(DefaultConfig())
	require.NoError(t, err)

	id := ComputePacketID([]byte("sender-1"), 1_700_000_000_000, []byte("payload"))

	seen, err := f.Seen(id)
	require.NoError(t, err)
	require.False(t, seen, "first sighting must be accepted")

	for i := 0; i < 10; i++ {
		seen, err := f.Seen(id)
		require.NoError(t, err)
		require.True(t, seen, "repeat sighting must be suppressed")
	}
}

func TestFilter_DistinctPacketsAreIndependent(t *testing.T) {
	f, err := NewFilter(DefaultConfig())
	require.NoError(t, err)

	idA := ComputePacketID([]byte("alice"), 1, []byte("hello"))
	idB := ComputePacketID([]byte("bob"), 2, []byte("world"))

	seenA, err := f.Seen(idA)
	require.NoError(t, err)
	require.False(t, seenA)

	seenB, err := f.Seen(idB)
	require.NoError(t, err)
	require.False(t, seenB)

	seenAAgain, err := f.Seen(idA)
	require.NoError(t, err)
	require.True(t, seenAAgain)
}

func TestFilter_RotationPreservesRecentHistory(t *testing.T) {
	cfg := Config{FalsePositiveRate: 0.01, ExpectedElements: 8, RingCapacity: 64}
	f, err := NewFilter(cfg)
	require.NoError(t, err)

	var ids []PacketID
	for i := 0; i < 8; i++ {
		id := ComputePacketID([]byte("sender"), uint64(i), []byte{byte(i)})
		ids = append(ids, id)
		seen, err := f.Seen(id)
		require.NoError(t, err)
		require.False(t, seen)
	}

	// Pushed the filter past its expected-elements threshold, triggering
	// rotation; the previous generation must still suppress recent ids.
	triggerID := ComputePacketID([]byte("sender"), 999, []byte("trigger"))
	_, err = f.Seen(triggerID)
	require.NoError(t, err)

	for _, id := range ids {
		seen, err := f.Seen(id)
		require.NoError(t, err)
		require.True(t, seen, "id from previous generation must still be suppressed for one cycle")
	}
}

func TestComputePacketID_Deterministic(t *testing.T) {
	a := ComputePacketID([]byte("s"), 123, []byte("payload-bytes-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	b := ComputePacketID([]byte("s"), 123, []byte("payload-bytes-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	require.Equal(t, a, b)

	c := ComputePacketID([]byte("s"), 124, []byte("payload-bytes-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	require.NotEqual(t, a, c)
}
