package shm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/crasd/internal/shm"
)

func newTestRing(t *testing.T, usedSizeFrames, frameBytes uint32) *shm.Ring {
	t.Helper()
	region := make([]byte, shm.HeaderSize+int(usedSizeFrames)*2*int(frameBytes))
	r, err := shm.NewRing(region, usedSizeFrames, frameBytes, true)
	require.NoError(t, err)
	return r
}

func TestOddUsedSizeRejected(t *testing.T) {
	region := make([]byte, shm.HeaderSize+1000)
	_, err := shm.NewRing(region, 481, 4, true)
	assert.Error(t, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	r := newTestRing(t, 480, 4)

	data := make([]byte, 100*4)
	for i := range data {
		data[i] = byte(i)
	}

	n, err := r.WriteFrames(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), n)
	assert.Equal(t, uint32(100), r.FramesQueued())

	dst := make([]byte, 100*4)
	n2, err := r.ReadFrames(dst)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), n2)
	assert.Equal(t, data, dst)
	assert.Equal(t, uint32(0), r.FramesQueued())
}

func TestFramesQueuedInvariantBounds(t *testing.T) {
	r := newTestRing(t, 480, 4)
	data := make([]byte, 480*4)
	n, err := r.WriteFrames(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(480), n)

	// Writer must never advance further than the free space: a second full
	// write should write zero frames because the ring is now full.
	n2, err := r.WriteFrames(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n2)

	queued := r.FramesQueued()
	assert.GreaterOrEqual(t, queued, uint32(0))
	assert.LessOrEqual(t, queued, r.UsedSize())
}

func TestWraparoundSplitsCorrectly(t *testing.T) {
	r := newTestRing(t, 16, 4)

	first := make([]byte, 10*4)
	for i := range first {
		first[i] = byte(i + 1)
	}
	n, err := r.WriteFrames(first)
	require.NoError(t, err)
	require.Equal(t, uint32(10), n)

	drained := make([]byte, 10*4)
	n, err = r.ReadFrames(drained)
	require.NoError(t, err)
	require.Equal(t, uint32(10), n)

	// Now write_offset=read_offset=10; next write of 10 frames wraps past
	// the 16-frame logical boundary (index 10..16 then 0..4), but the
	// physical buffer (32 frames) holds it contiguously.
	second := make([]byte, 10*4)
	for i := range second {
		second[i] = byte(100 + i)
	}
	n, err = r.WriteFrames(second)
	require.NoError(t, err)
	require.Equal(t, uint32(10), n)

	out := make([]byte, 10*4)
	n, err = r.ReadFrames(out)
	require.NoError(t, err)
	require.Equal(t, uint32(10), n)
	assert.Equal(t, second, out)
}

func TestFreeFramesNeverNegativeAsUint(t *testing.T) {
	r := newTestRing(t, 8, 2)
	assert.Equal(t, r.UsedSize(), r.FreeFrames())
	data := make([]byte, 8*2)
	_, err := r.WriteFrames(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), r.FreeFrames())
}

func TestHeaderSupplementedFields(t *testing.T) {
	r := newTestRing(t, 8, 2)
	assert.False(t, r.Header.Mute())
	r.Header.SetMute(true)
	assert.True(t, r.Header.Mute())

	assert.Equal(t, uint32(0), r.Header.NumOverruns())
	r.Header.IncOverruns()
	assert.Equal(t, uint32(1), r.Header.NumOverruns())

	r.Header.SetVolumeScaler(0.25)
	assert.InDelta(t, float32(0.25), r.Header.VolumeScaler(), 1e-6)
}
