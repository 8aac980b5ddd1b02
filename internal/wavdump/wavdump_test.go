package wavdump_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/crasd/internal/audioformat"
	"github.com/gen2brain/crasd/internal/wavdump"
)

func TestCreateRejectsNonS16Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	_, err := wavdump.Create(path, audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.FormatS32LE})
	assert.Error(t, err)
}

func TestWriteThenCloseProducesNonEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	format := audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.FormatS16LE, Layout: audioformat.DefaultStereo()}

	sink, err := wavdump.Create(path, format)
	require.NoError(t, err)

	raw := make([]byte, 64*format.FrameBytes())
	require.NoError(t, sink.Write(raw, 64))
	require.NoError(t, sink.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
