package iodev

import (
	"time"

	"github.com/gen2brain/crasd/internal/audioformat"
)

// Empty sinks or sources silence at a declared cadence (spec.md 4.B:
// "so that streams have somewhere to live when no hardware is enabled").
// It never underruns and never fails; it exists purely to keep the
// engine's scheduling model well-defined when a direction has no real
// device enabled (spec.md 4.E: "if no device remains enabled, swaps in
// the empty device").
type Empty struct {
	*Base

	rate       uint32
	startTime  time.Time
	frameCount uint64
}

// NewEmpty creates a silent sink/source for the given direction.
func NewEmpty(id uint32, direction Direction) *Empty {
	name := "Empty Playback"
	if direction == Input {
		name = "Empty Capture"
	}
	return &Empty{Base: NewBase(id, name, direction)}
}

func (e *Empty) SupportedFormats() []audioformat.Format {
	return []audioformat.Format{{Rate: 48000, Channels: 2, Sample: audioformat.FormatS16LE, Layout: audioformat.DefaultStereo()}}
}

func (e *Empty) Configure(fmt audioformat.Format, bufferFrames uint32) error {
	e.SetFormat(fmt)
	e.SetBufferSize(bufferFrames)
	e.rate = fmt.Rate
	e.startTime = time.Now()
	e.frameCount = 0
	e.SetState(StateRunning)
	return nil
}

func (e *Empty) Close() error {
	e.SetState(StateClosed)
	return nil
}

// FramesQueued always reports a small, constant fill so the engine's
// scheduling arithmetic stays well-defined without ever threatening an
// underrun or overrun warning.
func (e *Empty) FramesQueued() (int, error) {
	half := int(e.BufferSize() / 2)
	return half, nil
}

func (e *Empty) DelayFrames() (int, error) {
	return e.FramesQueued()
}

func (e *Empty) GetBuffer(maxFrames int) ([]byte, error) {
	frameBytes := e.Format().FrameBytes()
	return make([]byte, maxFrames*frameBytes), nil
}

func (e *Empty) PutBuffer(framesWritten int) error {
	e.frameCount += uint64(framesWritten)
	return nil
}

func (e *Empty) FlushBuffer() error { return nil }

func (e *Empty) Start() error {
	e.SetState(StateRunning)
	return nil
}

func (e *Empty) NoStream() error { return nil }

func (e *Empty) UpdateChannelLayout() error { return nil }

func (e *Empty) UpdateActiveNode(nodeIdx int, devEnabled bool) {
	e.SetActiveNodeIndex(nodeIdx)
}

func (e *Empty) Suspend() error {
	e.SetState(StateSuspended)
	return nil
}

func (e *Empty) Resume() error {
	e.SetState(StateRunning)
	return nil
}

func (e *Empty) NextWakeTime(now time.Time) time.Time {
	targetLevel := e.BufferSize() / 2
	return e.Base.NextWakeTime(e.startTime, e.frameCount, targetLevel, e.rate)
}

var _ Device = (*Empty)(nil)
