package blocklist_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/crasd/internal/blocklist"
)

const sample = `[USB_Outputs]
0d8c_0008_00000012_0 = 1
`

func TestCheckMatchesExactEntry(t *testing.T) {
	l, err := blocklist.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.True(t, l.Check(0x0d8c, 0x0008, 0x12, 0))
}

func TestCheckIsFalseForEveryNeighboringField(t *testing.T) {
	l, err := blocklist.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.False(t, l.Check(0x0d8d, 0x0008, 0x12, 0), "different vendor")
	assert.False(t, l.Check(0x0d8c, 0x0009, 0x12, 0), "different product")
	assert.False(t, l.Check(0x0d8c, 0x0008, 0x13, 0), "different checksum")
	assert.False(t, l.Check(0x0d8c, 0x0008, 0x12, 1), "different device index")
}

func TestEntriesOutsideUSBOutputsSectionAreIgnored(t *testing.T) {
	doc := `[Some_Other_Section]
0d8c_0008_00000012_0 = 1
`
	l, err := blocklist.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.False(t, l.Check(0x0d8c, 0x0008, 0x12, 0))
}

func TestMissingFileYieldsEmptyBlocklist(t *testing.T) {
	l, err := blocklist.Load("/nonexistent/path/to/blocklist.conf")
	require.NoError(t, err)
	assert.False(t, l.Check(0x0d8c, 0x0008, 0x12, 0))
}

func TestCommentsAndBlankLinesAreSkipped(t *testing.T) {
	doc := `; a comment
[USB_Outputs]
# another comment

0d8c_0008_00000012_0 = 1
`
	l, err := blocklist.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.True(t, l.Check(0x0d8c, 0x0008, 0x12, 0))
}
