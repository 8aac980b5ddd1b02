package loopback_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/crasd/internal/audioformat"
	"github.com/gen2brain/crasd/internal/iodev"
	"github.com/gen2brain/crasd/internal/loopback"
)

func stereoFormat() audioformat.Format {
	return audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.FormatS16LE, Layout: audioformat.DefaultStereo()}
}

func TestFramesQueuedZeroBeforeStreamAttached(t *testing.T) {
	sender := iodev.NewTestBackend(1, iodev.Output, stereoFormat(), 512)
	tap := loopback.New(2, loopback.VariantPostMixPreDSP, func() iodev.Device { return sender })

	require.NoError(t, tap.Configure(stereoFormat(), 512))
	n, err := tap.FramesQueued()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDelayedVariantReportsFullBufferImmediatelyAfterConfigure(t *testing.T) {
	sender := iodev.NewTestBackend(1, iodev.Output, stereoFormat(), 512)
	tap := loopback.New(2, loopback.VariantPostDSPDelayed, func() iodev.Device { return sender })

	require.NoError(t, tap.Configure(stereoFormat(), 512))
	tap.AttachStream()

	n, err := tap.DelayFrames()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int(tap.BufferSize()))
}

func TestSampleHookCopiesIntoBufferAndPutBufferAdvancesRead(t *testing.T) {
	sender := iodev.NewTestBackend(1, iodev.Output, stereoFormat(), 512)
	tap := loopback.New(2, loopback.VariantPostMixPreDSP, func() iodev.Device { return sender })

	require.NoError(t, tap.Configure(stereoFormat(), 512))
	tap.AttachStream()
	require.NoError(t, sender.Start()) // marks the tap started, disabling wall-clock silence-fill

	frameBytes := stereoFormat().FrameBytes()
	mix := make([]byte, 64*frameBytes)
	for i := range mix {
		mix[i] = byte(i)
	}
	sender.InvokeLoopbackHooks(mix, 64)

	queued, err := tap.FramesQueued()
	require.NoError(t, err)
	assert.Equal(t, 64, queued)

	out, err := tap.GetBuffer(64)
	require.NoError(t, err)
	assert.Equal(t, mix, out)

	require.NoError(t, tap.PutBuffer(64))
	queued, err = tap.FramesQueued()
	require.NoError(t, err)
	assert.Equal(t, 0, queued)
}

func TestSampleHookDropsExcessWhenBufferFull(t *testing.T) {
	sender := iodev.NewTestBackend(1, iodev.Output, stereoFormat(), 512)
	tap := loopback.New(2, loopback.VariantPostMixPreDSP, func() iodev.Device { return sender })
	require.NoError(t, tap.Configure(stereoFormat(), 512))
	tap.AttachStream()

	frameBytes := stereoFormat().FrameBytes()
	huge := make([]byte, 100000*frameBytes)
	sender.InvokeLoopbackHooks(huge, 100000)

	queued, err := tap.FramesQueued()
	require.NoError(t, err)
	assert.LessOrEqual(t, queued*frameBytes, 8192*4*frameBytes)
}

func TestSampleHookStartTracksSenderState(t *testing.T) {
	sender := iodev.NewTestBackend(1, iodev.Output, stereoFormat(), 512)
	tap := loopback.New(2, loopback.VariantPostMixPreDSP, func() iodev.Device { return sender })
	require.NoError(t, tap.Configure(stereoFormat(), 512))
	tap.AttachStream()

	require.NoError(t, sender.Start()) // fires NotifyHookStart(true) via Base

	// After the sender starts, the transient silence-fill path should stop
	// firing: frames queued should stay at whatever real data arrived.
	n1, _ := tap.FramesQueued()
	time.Sleep(5 * time.Millisecond)
	n2, _ := tap.FramesQueued()
	assert.Equal(t, n1, n2)
}

func TestOnSenderDisabledMigratesToNewSender(t *testing.T) {
	first := iodev.NewTestBackend(1, iodev.Output, stereoFormat(), 512)
	second := iodev.NewTestBackend(2, iodev.Output, stereoFormat(), 512)

	current := first
	tap := loopback.New(3, loopback.VariantPostMixPreDSP, func() iodev.Device { return current })
	require.NoError(t, tap.Configure(stereoFormat(), 512))

	var unregisteredFrom uint32
	current = second
	tap.OnSenderDisabled(first.ID(), func(devID, loopbackID uint32) {
		unregisteredFrom = devID
	})

	assert.Equal(t, first.ID(), unregisteredFrom)
}

func TestUpdateChannelLayoutForcesDefaultStereo(t *testing.T) {
	sender := iodev.NewTestBackend(1, iodev.Output, stereoFormat(), 512)
	tap := loopback.New(2, loopback.VariantPostMixPreDSP, func() iodev.Device { return sender })
	require.NoError(t, tap.Configure(stereoFormat(), 512))

	require.NoError(t, tap.UpdateChannelLayout())
	assert.Equal(t, audioformat.DefaultStereo(), tap.Format().Layout)
}

func TestFlushBufferIsNoop(t *testing.T) {
	sender := iodev.NewTestBackend(1, iodev.Output, stereoFormat(), 512)
	tap := loopback.New(2, loopback.VariantPostDSPDelayed, func() iodev.Device { return sender })
	require.NoError(t, tap.Configure(stereoFormat(), 512))
	tap.AttachStream()

	before, _ := tap.FramesQueued()
	require.NoError(t, tap.FlushBuffer())
	after, _ := tap.FramesQueued()
	assert.Equal(t, before, after)
}

type recordingSink struct {
	frames int
}

func (r *recordingSink) Write(raw []byte, nframes int) error {
	r.frames += nframes
	return nil
}

func TestDumpToReceivesEveryMixAlongsideNormalBuffering(t *testing.T) {
	sender := iodev.NewTestBackend(1, iodev.Output, stereoFormat(), 512)
	tap := loopback.New(2, loopback.VariantPostMixPreDSP, func() iodev.Device { return sender })
	require.NoError(t, tap.Configure(stereoFormat(), 512))
	tap.AttachStream()
	require.NoError(t, sender.Start())

	sink := &recordingSink{}
	tap.DumpTo(sink)

	mix := make([]byte, 64*stereoFormat().FrameBytes())
	sender.InvokeLoopbackHooks(mix, 64)

	assert.Equal(t, 64, sink.frames)

	queued, err := tap.FramesQueued()
	require.NoError(t, err)
	assert.Equal(t, 64, queued, "dump tap must not steal frames from normal buffering")
}
