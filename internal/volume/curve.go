// Package volume implements the per-node volume curve (spec.md 4.D, 6):
// a mapping from a 0..100 user-facing volume step to a linear scalar
// applied during mixing.
package volume

import "math"

// Steps is the number of discrete volume steps a curve covers, 0..100
// inclusive (spec.md 6: "101 entries total").
const Steps = 101

// Curve converts a 0..100 volume step into a linear amplitude scalar.
type Curve interface {
	// Scalar returns the linear gain for the given step, clamped to
	// [0, 100].
	Scalar(step int) float32
}

// SimpleStep is a curve defined by a maximum level and a constant
// per-step attenuation (spec.md 6: "simple_step requires max_volume ...
// and volume_step"). Both are in dBFS*100 / dB*100 as stored in the INI
// file; constructors take the already-divided float dB values.
type SimpleStep struct {
	// MaxDBFS is the dB value at step 100.
	MaxDBFS float64
	// StepDB is the attenuation applied per step below 100, as a positive
	// number of dB.
	StepDB float64
}

// Scalar implements Curve.
func (c SimpleStep) Scalar(step int) float32 {
	step = clampStep(step)
	db := c.MaxDBFS - float64(Steps-1-step)*c.StepDB
	return dbToScalar(db)
}

// Explicit is a curve given as an explicit dB value at each of the 101
// steps (spec.md 6: "dB_at_0 ... dB_at_100").
type Explicit struct {
	DB [Steps]float64
}

// Scalar implements Curve.
func (c Explicit) Scalar(step int) float32 {
	step = clampStep(step)
	return dbToScalar(c.DB[step])
}

func clampStep(step int) int {
	if step < 0 {
		return 0
	}
	if step > Steps-1 {
		return Steps - 1
	}
	return step
}

func dbToScalar(db float64) float32 {
	return float32(math.Pow(10, db/20))
}

// DefaultCurve is used for nodes without an explicit configuration entry:
// 0 dBFS at max, 0.5 dB per step, matching CRAS's historical default.
func DefaultCurve() Curve {
	return SimpleStep{MaxDBFS: 0, StepDB: 0.5}
}
