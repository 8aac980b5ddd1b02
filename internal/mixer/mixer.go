// Package mixer implements the per-device mix step (spec.md 4.D): pulling
// converted frames from every stream attached to a device through its
// dev_stream adapter, scaling by stream/node/UI gain, and summing into the
// device's mix buffer with saturation.
package mixer

import (
	"github.com/gen2brain/crasd/internal/audioformat"
	"github.com/gen2brain/crasd/internal/node"
	"github.com/gen2brain/crasd/internal/stream"
)

// Attachment pairs a dev_stream with the node supplying its volume curve
// and UI gain, so the mixer can compute stream_volume x node_volume x
// ui_gain per spec.md 4.D without reaching back into the device list.
type Attachment struct {
	DevStream *stream.DevStream
	Node      *node.Node
}

// Mixer sums N attached streams into one device's format at a time. It
// owns no state across calls beyond a reusable scratch buffer, since the
// engine thread calls MixOutput once per device per service cycle.
type Mixer struct {
	format audioformat.Format
	fetch  []float32
}

// New creates a mixer producing frames in deviceFormat.
func New(deviceFormat audioformat.Format) *Mixer {
	return &Mixer{format: deviceFormat}
}

// MixOutput fetches dev_frames frames from every attachment, scales each by
// its stream's and node's combined volume, and sums them into dst
// (interleaved float32, deviceFormat.Channels wide, saturating at +/-1).
// dst must be pre-sized to devFrames*Channels and is zeroed before mixing.
// It returns, per attachment, the number of frames that were zero-filled
// padding (for underrun accounting upstream).
func (m *Mixer) MixOutput(attachments []Attachment, devFrames int, dst []float32) (zeroFilled []int) {
	for i := range dst {
		dst[i] = 0
	}
	zeroFilled = make([]int, len(attachments))

	for i, a := range attachments {
		m.fetch = m.fetch[:0]
		fetched, missing := a.DevStream.FetchOutput(devFrames, m.fetch)
		zeroFilled[i] = missing

		gain := streamGain(a.DevStream.Stream) * nodeGain(a.Node)
		audioformat.MixInto(dst, fetched, gain)
	}

	return zeroFilled
}

func streamGain(s *stream.RStream) float32 {
	if s == nil {
		return 1
	}
	return s.Volume
}

func nodeGain(n *node.Node) float32 {
	if n == nil {
		return 1
	}
	return n.Scalar()
}
