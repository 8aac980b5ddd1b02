package mixer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/crasd/internal/audioformat"
	"github.com/gen2brain/crasd/internal/iodev"
	"github.com/gen2brain/crasd/internal/mixer"
	"github.com/gen2brain/crasd/internal/node"
	"github.com/gen2brain/crasd/internal/shm"
	"github.com/gen2brain/crasd/internal/stream"
	"github.com/gen2brain/crasd/internal/volume"
)

func newMixStream(t *testing.T, format audioformat.Format, vol float32, fillValue float32) *stream.RStream {
	t.Helper()
	seg, ring, err := shm.CreateSegment("mixer-test", 512, uint32(format.FrameBytes()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })

	s := stream.NewRStream(stream.NewID(1, 0), iodev.Output, stream.ClientTypeChrome, format, 512, 256)
	s.Segment = seg
	s.Ring = ring
	s.Volume = vol

	raw := make([]byte, 64*format.FrameBytes())
	sample := audioformat.EncodeFromFloat32
	floats := make([]float32, 64*int(format.Channels))
	for i := range floats {
		floats[i] = fillValue
	}
	sample(format.Sample, floats, raw)
	_, err = ring.WriteFrames(raw)
	require.NoError(t, err)

	return s
}

func TestMixOutputScalesByStreamAndNodeVolume(t *testing.T) {
	format := audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.FormatS16LE, Layout: audioformat.DefaultStereo()}

	s := newMixStream(t, format, 0.5, 0.4)
	ds := stream.NewDevStream(s, format, 128)

	n := node.New("speaker", node.TypeSpeaker)
	n.Curve = volume.Explicit{} // all zero dB => scalar 1.0 at any step
	n.Volume = 100
	n.UIGainScaler = 1.0

	m := mixer.New(format)
	dst := make([]float32, 64*int(format.Channels))
	zeroFilled := m.MixOutput([]mixer.Attachment{{DevStream: ds, Node: n}}, 64, dst)

	require.Len(t, zeroFilled, 1)
	assert.Equal(t, 0, zeroFilled[0])
	for i, v := range dst {
		assert.InDelta(t, 0.2, v, 0.01, "sample %d", i)
	}
}

func TestMixOutputSumsMultipleStreams(t *testing.T) {
	format := audioformat.Format{Rate: 48000, Channels: 1, Sample: audioformat.FormatFloat32LE, Layout: audioformat.DefaultStereo()}

	s1 := newMixStream(t, format, 1.0, 0.3)
	s2 := newMixStream(t, format, 1.0, 0.3)
	ds1 := stream.NewDevStream(s1, format, 128)
	ds2 := stream.NewDevStream(s2, format, 128)

	n := node.New("speaker", node.TypeSpeaker)

	m := mixer.New(format)
	dst := make([]float32, 64)
	m.MixOutput([]mixer.Attachment{{DevStream: ds1, Node: n}, {DevStream: ds2, Node: n}}, 64, dst)

	for i, v := range dst {
		assert.InDelta(t, 0.6, v, 0.01, "sample %d", i)
	}
}

func TestMixOutputSaturatesAtFullScale(t *testing.T) {
	format := audioformat.Format{Rate: 48000, Channels: 1, Sample: audioformat.FormatFloat32LE, Layout: audioformat.DefaultStereo()}

	s1 := newMixStream(t, format, 1.0, 0.9)
	s2 := newMixStream(t, format, 1.0, 0.9)
	ds1 := stream.NewDevStream(s1, format, 128)
	ds2 := stream.NewDevStream(s2, format, 128)

	n := node.New("speaker", node.TypeSpeaker)

	m := mixer.New(format)
	dst := make([]float32, 64)
	m.MixOutput([]mixer.Attachment{{DevStream: ds1, Node: n}, {DevStream: ds2, Node: n}}, 64, dst)

	for _, v := range dst {
		assert.LessOrEqual(t, v, float32(1.0))
		assert.GreaterOrEqual(t, v, float32(-1.0))
	}
}

func TestMixOutputReportsZeroFillFromStarvedRing(t *testing.T) {
	format := audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.FormatS16LE, Layout: audioformat.DefaultStereo()}
	seg, ring, err := shm.CreateSegment("mixer-starved", 512, uint32(format.FrameBytes()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })

	s := stream.NewRStream(stream.NewID(1, 0), iodev.Output, stream.ClientTypeChrome, format, 512, 256)
	s.Segment = seg
	s.Ring = ring

	ds := stream.NewDevStream(s, format, 128)
	n := node.New("speaker", node.TypeSpeaker)

	m := mixer.New(format)
	dst := make([]float32, 64*int(format.Channels))
	zeroFilled := m.MixOutput([]mixer.Attachment{{DevStream: ds, Node: n}}, 64, dst)

	assert.Equal(t, 64, zeroFilled[0])
	assert.Equal(t, uint64(64), s.UnderrunFrames())
}
