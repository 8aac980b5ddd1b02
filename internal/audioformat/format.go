// Package audioformat defines the sample format, rate, and channel layout
// vocabulary shared by streams, devices, and the mixer.
package audioformat

import "fmt"

// SampleFormat is a PCM sample encoding. The engine only mixes in Float32
// internally; SampleFormat names the wire/device encoding at the edges.
type SampleFormat int32

const (
	FormatS16LE SampleFormat = iota
	FormatS24LE
	FormatS32LE
	FormatFloat32LE
)

// Bytes returns the size in bytes of one sample in this format.
func (f SampleFormat) Bytes() int {
	switch f {
	case FormatS16LE:
		return 2
	case FormatS24LE:
		return 4 // packed into 4-byte containers, top byte unused
	case FormatS32LE, FormatFloat32LE:
		return 4
	default:
		return 0
	}
}

func (f SampleFormat) String() string {
	switch f {
	case FormatS16LE:
		return "S16_LE"
	case FormatS24LE:
		return "S24_LE"
	case FormatS32LE:
		return "S32_LE"
	case FormatFloat32LE:
		return "FLOAT32_LE"
	default:
		return "INVALID"
	}
}

// MaxChannels bounds the channel layout array size (CRAS_CH_MAX equivalent).
const MaxChannels = 11

// Unused marks a channel-layout slot with no source channel.
const Unused = -1

// ChannelLayout maps each logical channel position (FL, FR, RL, RR, ...) to
// an index in the interleaved stream, or Unused if that position is absent.
// For an output stream this describes the stream's source channels; for an
// input stream it describes the sink's channels (spec.md 4.D).
type ChannelLayout [MaxChannels]int8

// DefaultStereo returns the canonical front-left/front-right layout used
// whenever a device or stream doesn't specify one explicitly.
func DefaultStereo() ChannelLayout {
	var l ChannelLayout
	for i := range l {
		l[i] = Unused
	}
	l[ChanFL] = 0
	l[ChanFR] = 1
	return l
}

// Channel position indices into ChannelLayout, matching CRAS's CRAS_CH_*.
const (
	ChanFL = iota
	ChanFR
	ChanRL
	ChanRR
	ChanFC
	ChanLFE
	ChanSL
	ChanSR
	ChanRC
	ChanFLC
	ChanFRC
)

// Format is a concrete, bound PCM format: rate, channel count, sample
// encoding, and channel layout. Devices negotiate to one Format at open
// time (spec.md 3: "Invariant: while the device is open, exactly one
// format is bound").
type Format struct {
	Rate     uint32
	Channels uint8
	Sample   SampleFormat
	Layout   ChannelLayout
}

// FrameBytes returns the byte size of one interleaved frame in this format.
func (f Format) FrameBytes() int {
	return f.Sample.Bytes() * int(f.Channels)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", f.Rate, f.Channels, f.Sample)
}

// Equal reports whether two formats describe the same rate, channel count,
// and sample encoding. Layout is not compared: two formats can carry
// different channel maps while still being format-compatible for mixing
// purposes (the mixer remaps channels separately, spec.md 4.D).
func (f Format) Equal(o Format) bool {
	return f.Rate == o.Rate && f.Channels == o.Channels && f.Sample == o.Sample
}

// Valid reports whether f is a format a device or stream could plausibly
// bind to: a known sample encoding, at least one channel within
// MaxChannels, and a nonzero rate. CONNECT_STREAM rejects anything else
// with STREAM_CONNECTED{err: -EINVAL} (spec.md 8: "mismatched client id,
// or invalid format are rejected").
func (f Format) Valid() bool {
	switch f.Sample {
	case FormatS16LE, FormatS24LE, FormatS32LE, FormatFloat32LE:
	default:
		return false
	}
	if f.Channels == 0 || int(f.Channels) > MaxChannels {
		return false
	}
	return f.Rate > 0
}

// FullScale returns the clamp bound used when summing mixed samples into
// this format (spec.md 4.D: "saturation at the device format's full-scale
// value"). Mixing itself always happens in float32; this is only used when
// converting the mixed float32 accumulator back into an integer format.
func (f Format) FullScale() float32 {
	switch f.Sample {
	case FormatS16LE:
		return 32767
	case FormatS24LE:
		return 8388607
	case FormatS32LE:
		return 2147483647
	case FormatFloat32LE:
		return 1.0
	default:
		return 1.0
	}
}
