package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gen2brain/crasd/internal/stream"
)

func TestIDEncoding(t *testing.T) {
	id := stream.NewID(1, 2)
	assert.Equal(t, stream.ID(0x10002), id)
	assert.Equal(t, uint16(1), id.ClientID())
	assert.Equal(t, uint16(2), id.StreamIndex())
}

func TestCrossClientMismatch(t *testing.T) {
	// Scenario 3 from spec.md 8: CONNECT_STREAM{id=0x20002} on client id=1.
	id := stream.ID(0x20002)
	assert.NotEqual(t, uint16(1), id.ClientID())
}
