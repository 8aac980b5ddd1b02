package cardconfig_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/crasd/internal/cardconfig"
	"github.com/gen2brain/crasd/internal/volume"
)

func TestSimpleStepScalarAtStep100And0(t *testing.T) {
	doc := `[Speaker]
volume_curve = simple_step
max_volume = -300
volume_step = 75
`
	cfg, err := cardconfig.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	curve, ok := cfg.Lookup("Speaker")
	require.True(t, ok)

	scalar100 := curve.Scalar(100)
	scalar0 := curve.Scalar(0)

	expected100 := volume.SimpleStep{MaxDBFS: -3.0, StepDB: 0.75}.Scalar(100)
	expected0 := volume.SimpleStep{MaxDBFS: -3.0, StepDB: 0.75}.Scalar(0)

	assert.Equal(t, expected100, scalar100)
	assert.Equal(t, expected0, scalar0)
}

func TestParseExplicitRequires101Entries(t *testing.T) {
	var b strings.Builder
	b.WriteString("[Headphone]\nvolume_curve = explicit\n")
	for i := 0; i <= 100; i++ {
		b.WriteString("dB_at_")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(" = ")
		b.WriteString(strconv.Itoa((i - 100) * 50))
		b.WriteString("\n")
	}

	cfg, err := cardconfig.Parse(strings.NewReader(b.String()))
	require.NoError(t, err)
	curve, ok := cfg.Lookup("Headphone")
	require.True(t, ok)

	assert.InDelta(t, 1.0, curve.Scalar(100), 1e-6) // dB_at_100 = 0 => unity scalar
	assert.Less(t, curve.Scalar(0), curve.Scalar(100))
}

func TestLookupTriesCandidatesInPriorityOrder(t *testing.T) {
	doc := `[Mic Jack]
volume_curve = simple_step
max_volume = 0
volume_step = 50

[hw:0,0 Mixer]
volume_curve = simple_step
max_volume = -1000
volume_step = 100
`
	cfg, err := cardconfig.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	// UCM name unset, jack name matches before the mixer-control fallback.
	curve, ok := cfg.Lookup("", "Mic Jack", "hw:0,0 Mixer")
	require.True(t, ok)
	assert.Equal(t, volume.SimpleStep{MaxDBFS: 0, StepDB: 0.5}.Scalar(50), curve.Scalar(50))
}

func TestLookupMissesReturnFalse(t *testing.T) {
	cfg, err := cardconfig.Parse(strings.NewReader("[Speaker]\nvolume_curve = simple_step\nmax_volume = 0\nvolume_step = 50\n"))
	require.NoError(t, err)

	_, ok := cfg.Lookup("Nonexistent")
	assert.False(t, ok)
}

func TestEncodeThenParseThenEncodeIsIdentity(t *testing.T) {
	cfg := &cardconfig.Config{
		Sections: []cardconfig.Section{
			{Name: "Speaker", Curve: cardconfig.CurveSpec{Kind: cardconfig.KindSimpleStep, MaxVolume: -300, VolumeStep: 75}},
			{Name: "Mic", Curve: cardconfig.CurveSpec{Kind: cardconfig.KindExplicit}},
		},
	}

	var first strings.Builder
	require.NoError(t, cfg.Encode(&first))

	reparsed, err := cardconfig.Parse(strings.NewReader(first.String()))
	require.NoError(t, err)

	var second strings.Builder
	require.NoError(t, reparsed.Encode(&second))

	assert.Equal(t, first.String(), second.String())
}

func TestParseRejectsKeyOutsideSection(t *testing.T) {
	_, err := cardconfig.Parse(strings.NewReader("volume_curve = simple_step\n"))
	assert.Error(t, err)
}

func TestParseRejectsUnknownCurveKind(t *testing.T) {
	_, err := cardconfig.Parse(strings.NewReader("[Speaker]\nvolume_curve = quadratic\n"))
	assert.Error(t, err)
}
