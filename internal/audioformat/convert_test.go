package audioformat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gen2brain/crasd/internal/audioformat"
)

func TestS16RoundTrip(t *testing.T) {
	src := []float32{0, 0.5, -0.5, 1, -1}
	raw := make([]byte, len(src)*2)
	audioformat.EncodeFromFloat32(audioformat.FormatS16LE, src, raw)

	dst := make([]float32, len(src))
	audioformat.DecodeToFloat32(audioformat.FormatS16LE, raw, dst)

	for i := range src {
		assert.InDelta(t, src[i], dst[i], 0.001, "sample %d", i)
	}
}

func TestEncodeSaturates(t *testing.T) {
	raw := make([]byte, 2)
	audioformat.EncodeFromFloat32(audioformat.FormatS16LE, []float32{2.0}, raw)
	v := int16(uint16(raw[0]) | uint16(raw[1])<<8)
	assert.Equal(t, int16(32767), v)

	audioformat.EncodeFromFloat32(audioformat.FormatS16LE, []float32{-2.0}, raw)
	v = int16(uint16(raw[0]) | uint16(raw[1])<<8)
	assert.Equal(t, int16(-32768), v)
}

func TestMixIntoSaturates(t *testing.T) {
	dst := []float32{0.9}
	audioformat.MixInto(dst, []float32{0.9}, 1.0)
	assert.Equal(t, float32(1.0), dst[0])
}

func TestRemapIdentityStereo(t *testing.T) {
	layout := audioformat.DefaultStereo()
	m := audioformat.BuildRemapMatrix(layout, layout, 2, 2)
	assert.True(t, m.Identity())
}

func TestRemapMonoToStereoFillsSilence(t *testing.T) {
	var monoLayout audioformat.ChannelLayout
	for i := range monoLayout {
		monoLayout[i] = audioformat.Unused
	}
	monoLayout[audioformat.ChanFC] = 0

	stereo := audioformat.DefaultStereo()
	m := audioformat.BuildRemapMatrix(monoLayout, stereo, 1, 2)

	src := []float32{0.5}
	dst := make([]float32, 2)
	m.Apply(src, dst, 1)

	// FC isn't FL or FR, so neither output channel is sourced: both silent.
	assert.Equal(t, []float32{0, 0}, dst)
}

func TestRemapPairSwap(t *testing.T) {
	stereo := audioformat.DefaultStereo()
	var swapped audioformat.ChannelLayout
	for i := range swapped {
		swapped[i] = audioformat.Unused
	}
	swapped[audioformat.ChanFL] = 1
	swapped[audioformat.ChanFR] = 0

	m := audioformat.BuildRemapMatrix(stereo, swapped, 2, 2)
	src := []float32{0.1, 0.2}
	dst := make([]float32, 2)
	m.Apply(src, dst, 1)
	assert.Equal(t, []float32{0.2, 0.1}, dst)
}

func TestFormatFrameBytes(t *testing.T) {
	f := audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.FormatS16LE}
	assert.Equal(t, 4, f.FrameBytes())
}

func TestFormatEqualIgnoresLayout(t *testing.T) {
	a := audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.FormatS16LE, Layout: audioformat.DefaultStereo()}
	b := a
	b.Layout = audioformat.ChannelLayout{}
	assert.True(t, a.Equal(b))
}
