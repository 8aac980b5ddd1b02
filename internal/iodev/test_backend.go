package iodev

import (
	"time"

	"github.com/gen2brain/crasd/internal/audioformat"
)

// TestBackend is an in-memory device used by unit tests (spec.md 4.B:
// "test (for unit tests)"). It records every buffer committed via
// PutBuffer so tests can assert on exactly what the engine mixed, and lets
// the test simulate queue fill and xrun conditions directly rather than
// going through a real backend.
type TestBackend struct {
	*Base

	rate       uint32
	startTime  time.Time
	frameCount uint64

	// Queued simulates the backend's reported hw fill; tests set it
	// directly to exercise underrun/overrun paths (spec.md 8 boundary
	// properties).
	Queued int

	// Committed accumulates every byte slice passed to PutBuffer, in order.
	Committed [][]byte

	// pendingBuf is the scratch area handed out by GetBuffer until the
	// matching PutBuffer call.
	pendingBuf []byte

	Started bool

	// FailNextGetBuffer, if non-nil, is returned once by GetBuffer and
	// then cleared, letting tests inject a single recoverable or fatal
	// error.
	FailNextGetBuffer error
}

// NewTestBackend creates a test device with the given format already
// bound (tests skip format negotiation).
func NewTestBackend(id uint32, direction Direction, format audioformat.Format, bufferFrames uint32) *TestBackend {
	t := &TestBackend{Base: NewBase(id, "Test Device", direction)}
	t.SetFormat(format)
	t.SetBufferSize(bufferFrames)
	t.rate = format.Rate
	t.startTime = time.Now()
	t.SetState(StateOpened)
	return t
}

func (t *TestBackend) SupportedFormats() []audioformat.Format {
	return []audioformat.Format{t.Format()}
}

func (t *TestBackend) Configure(fmt audioformat.Format, bufferFrames uint32) error {
	t.SetFormat(fmt)
	t.SetBufferSize(bufferFrames)
	t.rate = fmt.Rate
	t.SetState(StateOpened)
	return nil
}

func (t *TestBackend) Close() error {
	t.SetState(StateClosed)
	return nil
}

func (t *TestBackend) FramesQueued() (int, error) {
	return t.Queued, nil
}

func (t *TestBackend) DelayFrames() (int, error) {
	return t.Queued, nil
}

func (t *TestBackend) GetBuffer(maxFrames int) ([]byte, error) {
	if t.FailNextGetBuffer != nil {
		err := t.FailNextGetBuffer
		t.FailNextGetBuffer = nil
		return nil, err
	}
	frameBytes := t.Format().FrameBytes()
	t.pendingBuf = make([]byte, maxFrames*frameBytes)
	return t.pendingBuf, nil
}

func (t *TestBackend) PutBuffer(framesWritten int) error {
	frameBytes := t.Format().FrameBytes()
	committed := make([]byte, framesWritten*frameBytes)
	copy(committed, t.pendingBuf)
	t.Committed = append(t.Committed, committed)
	t.Queued += framesWritten
	t.frameCount += uint64(framesWritten)
	return nil
}

func (t *TestBackend) FlushBuffer() error {
	t.Queued = 0
	return nil
}

func (t *TestBackend) Start() error {
	t.Started = true
	t.SetState(StateRunning)
	t.NotifyHookStart(true)
	return nil
}

func (t *TestBackend) NoStream() error { return nil }

func (t *TestBackend) UpdateChannelLayout() error { return nil }

func (t *TestBackend) UpdateActiveNode(nodeIdx int, devEnabled bool) {
	t.SetActiveNodeIndex(nodeIdx)
}

func (t *TestBackend) Suspend() error {
	t.SetState(StateSuspended)
	return nil
}

func (t *TestBackend) Resume() error {
	t.SetState(StateRunning)
	return nil
}

func (t *TestBackend) NextWakeTime(now time.Time) time.Time {
	targetLevel := t.BufferSize() / 2
	return t.Base.NextWakeTime(t.startTime, t.frameCount, targetLevel, t.rate)
}

var _ Device = (*TestBackend)(nil)
