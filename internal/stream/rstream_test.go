package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/crasd/internal/audioformat"
	"github.com/gen2brain/crasd/internal/iodev"
	"github.com/gen2brain/crasd/internal/shm"
	"github.com/gen2brain/crasd/internal/stream"
)

func newTestStream(t *testing.T, usedSizeFrames uint32) *stream.RStream {
	t.Helper()
	format := audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.FormatS16LE, Layout: audioformat.DefaultStereo()}
	seg, ring, err := shm.CreateSegment("teststream", usedSizeFrames, uint32(format.FrameBytes()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })

	return &stream.RStream{
		ID:           stream.NewID(1, 0),
		Direction:    iodev.Output,
		ClientType:   stream.ClientTypeChrome,
		Format:       format,
		BufferFrames: usedSizeFrames,
		PinnedDevice: stream.NoDevice,
		Segment:      seg,
		Ring:         ring,
	}
}

func TestPinnedReflectsPinnedDevice(t *testing.T) {
	s := newTestStream(t, 512)
	assert.False(t, s.Pinned())

	s.PinnedDevice = 3
	assert.True(t, s.Pinned())
}

func TestDirectionPredicates(t *testing.T) {
	s := newTestStream(t, 512)
	assert.True(t, s.IsOutput())
	assert.False(t, s.IsInput())

	s.Direction = iodev.Input
	assert.True(t, s.IsInput())
	assert.False(t, s.IsOutput())
}

func TestRecordUnderrunAccumulates(t *testing.T) {
	s := newTestStream(t, 512)
	assert.Equal(t, uint64(0), s.UnderrunFrames())

	s.RecordUnderrun(10)
	s.RecordUnderrun(5)
	assert.Equal(t, uint64(15), s.UnderrunFrames())
}

func TestCloseReleasesSegment(t *testing.T) {
	s := newTestStream(t, 512)
	assert.NoError(t, s.Close())
}

func TestCloseNilSegmentIsNoop(t *testing.T) {
	s := &stream.RStream{}
	assert.NoError(t, s.Close())
}
