package resample_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gen2brain/crasd/internal/resample"
)

func TestPassthroughSameRate(t *testing.T) {
	r := resample.New(48000, 48000, 2)
	assert.True(t, r.Passthrough())

	src := []float32{0.1, 0.2, 0.3, 0.4}
	out := r.Process(src, nil)
	assert.Equal(t, src, out)
}

func TestUpsampleDoublesFrameCount(t *testing.T) {
	r := resample.New(24000, 48000, 1)
	src := make([]float32, 100)
	for i := range src {
		src[i] = float32(i) / 100
	}
	out := r.Process(src, nil)
	assert.InDelta(t, 200, len(out), 2)
}

func TestDownsampleHalvesFrameCount(t *testing.T) {
	r := resample.New(48000, 24000, 1)
	src := make([]float32, 200)
	out := r.Process(src, nil)
	assert.InDelta(t, 100, len(out), 2)
}

func TestDeterministicAcrossCalls(t *testing.T) {
	mkSrc := func(n int) []float32 {
		s := make([]float32, n)
		for i := range s {
			s[i] = float32(i)
		}
		return s
	}

	r1 := resample.New(44100, 48000, 1)
	whole := r1.Process(mkSrc(512), nil)

	r2 := resample.New(44100, 48000, 1)
	var chunked []float32
	src := mkSrc(512)
	chunked = r2.Process(src[:256], chunked)
	chunked = r2.Process(src[256:], chunked)

	assert.InDelta(t, len(whole), len(chunked), 2)
}

func TestConstantSignalStaysConstant(t *testing.T) {
	r := resample.New(44100, 48000, 1)
	src := make([]float32, 256)
	for i := range src {
		src[i] = 0.5
	}
	out := r.Process(src, nil)
	for i, v := range out {
		assert.InDelta(t, 0.5, v, 1e-4, "sample %d", i)
	}
}
