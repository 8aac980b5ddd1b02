package volume_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gen2brain/crasd/internal/volume"
)

// Scenario 5 from spec.md 8: simple_step, max_volume=-300, volume_step=75
// (stored as dBFS*100 / dB*100 in the INI; here given as already-divided
// floats) => step 100 -> -3 dBFS, step 0 -> -78 dBFS.
func TestSimpleStepBoundaryValues(t *testing.T) {
	c := volume.SimpleStep{MaxDBFS: -3, StepDB: 0.75}

	g100 := c.Scalar(100)
	g0 := c.Scalar(0)

	expected100 := dbToScalar(-3)
	expected0 := dbToScalar(-78)

	assert.InDelta(t, expected100, g100, 1e-6)
	assert.InDelta(t, expected0, g0, 1e-6)
}

func TestSimpleStepClampsOutOfRange(t *testing.T) {
	c := volume.SimpleStep{MaxDBFS: 0, StepDB: 1}
	assert.Equal(t, c.Scalar(0), c.Scalar(-5))
	assert.Equal(t, c.Scalar(100), c.Scalar(500))
}

func TestExplicitCurve(t *testing.T) {
	var e volume.Explicit
	for i := range e.DB {
		e.DB[i] = -1 * float64(100-i)
	}
	assert.InDelta(t, dbToScalar(-100), e.Scalar(0), 1e-6)
	assert.InDelta(t, dbToScalar(0), e.Scalar(100), 1e-6)
}

func dbToScalar(db float64) float64 {
	return math.Pow(10, db/20)
}
