package node_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gen2brain/crasd/internal/node"
)

func TestStableIDDeterministic(t *testing.T) {
	a := node.StableID("Speaker")
	b := node.StableID("Speaker")
	c := node.StableID("Headphone")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewNodeDefaults(t *testing.T) {
	n := node.New("Speaker", node.TypeSpeaker)
	assert.Equal(t, 100, n.Volume)
	assert.Equal(t, float32(1.0), n.UIGainScaler)
	assert.NotNil(t, n.Curve)
	assert.Equal(t, node.StableID("Speaker"), n.StableID)
}

func TestScalarCombinesUIGain(t *testing.T) {
	n := node.New("Speaker", node.TypeSpeaker)
	n.Volume = 100
	n.UIGainScaler = 0.5
	// max volume default curve is 0dBFS at 100 -> scalar 1.0
	assert.InDelta(t, 0.5, n.Scalar(), 1e-6)
}
