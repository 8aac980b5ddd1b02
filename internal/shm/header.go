// Package shm implements the bounded shared-memory ring used between a
// client and the engine (spec.md 3, 4.C, 6). The ring lives in a single
// mmap'd region: a fixed Header followed by a byte buffer of used_size*2
// frames. UsedSize is tracked in frames (not bytes): spec.md 6 states
// "Offsets are frame counts", and the wraparound / split-copy discipline
// of spec.md 4.C ("actual index is offset mod used_size") is only
// dimensionally consistent when used_size shares the same unit as the
// offsets it bounds. This is a resolved reading of an otherwise-ambiguous
// unit (see DESIGN.md); frame_bytes converts to byte offsets for the
// underlying copy.
package shm

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// headerLayout is the in-memory layout mapped at the start of the shm
// segment. Fields accessed from both sides (offsets) are read/written only
// through atomic helpers below, mirroring the teacher's ApplPtr/HwPtr
// pattern in pcm_mmap.go.
type headerLayout struct {
	UsedSize   uint32 // capacity of one half of the double ring, in frames
	FrameBytes uint32

	ReadOffset  uint32 // frame count, consumer-owned
	WriteOffset uint32 // frame count, producer-owned

	WriteTsSec  int64
	WriteTsNsec int64
	ReadTsSec   int64
	ReadTsNsec  int64

	CallbackPending uint32 // 0 or 1; producer polls this instead of blocking

	// Supplemented fields, additive over spec.md 6's header (SPEC_FULL
	// supplemented feature 4, grounded on cras_shm.rs).
	NumOverruns  uint32
	VolumeScaler uint32 // float32 bits
	Mute         uint32 // 0 or 1
}

const HeaderSize = int(unsafe.Sizeof(headerLayout{}))

// Header is a typed view over the first HeaderSize bytes of a ring's mmap
// region. It does not own the memory; callers keep the backing []byte
// (typically the mmap'd segment) alive for as long as the Header is used.
type Header struct {
	p *headerLayout
}

// NewHeader wraps raw (which must be at least HeaderSize bytes, taken from
// offset 0 of the mmap'd segment) as a Header.
func NewHeader(raw []byte) Header {
	if len(raw) < HeaderSize {
		panic("shm: raw buffer smaller than header")
	}
	return Header{p: (*headerLayout)(unsafe.Pointer(&raw[0]))}
}

// Init sets the immutable configuration fields. Called once by the side
// that creates the segment (the server, per spec.md 4.C).
func (h Header) Init(usedSizeFrames, frameBytes uint32) {
	h.p.UsedSize = usedSizeFrames
	h.p.FrameBytes = frameBytes
	atomic.StoreUint32(&h.p.ReadOffset, 0)
	atomic.StoreUint32(&h.p.WriteOffset, 0)
	h.p.VolumeScaler = float32bits(1.0)
}

func (h Header) UsedSize() uint32   { return h.p.UsedSize }
func (h Header) FrameBytes() uint32 { return h.p.FrameBytes }

// ReadOffset / WriteOffset are accessed with acquire/release semantics:
// the producer's write to the buffer happens-before its release-store of
// WriteOffset; the consumer's acquire-load of WriteOffset happens-before
// its read of the buffer (spec.md 5).
func (h Header) ReadOffset() uint32      { return atomic.LoadUint32(&h.p.ReadOffset) }
func (h Header) SetReadOffset(v uint32)  { atomic.StoreUint32(&h.p.ReadOffset, v) }
func (h Header) WriteOffset() uint32     { return atomic.LoadUint32(&h.p.WriteOffset) }
func (h Header) SetWriteOffset(v uint32) { atomic.StoreUint32(&h.p.WriteOffset, v) }

func (h Header) CallbackPending() bool {
	return atomic.LoadUint32(&h.p.CallbackPending) != 0
}

func (h Header) SetCallbackPending(pending bool) {
	var v uint32
	if pending {
		v = 1
	}
	atomic.StoreUint32(&h.p.CallbackPending, v)
}

func (h Header) NumOverruns() uint32 { return atomic.LoadUint32(&h.p.NumOverruns) }

func (h Header) IncOverruns() uint32 {
	return atomic.AddUint32(&h.p.NumOverruns, 1)
}

func (h Header) Mute() bool { return atomic.LoadUint32(&h.p.Mute) != 0 }

func (h Header) SetMute(mute bool) {
	var v uint32
	if mute {
		v = 1
	}
	atomic.StoreUint32(&h.p.Mute, v)
}

func (h Header) VolumeScaler() float32 {
	return float32frombits(atomic.LoadUint32(&h.p.VolumeScaler))
}

func (h Header) SetVolumeScaler(scalar float32) {
	atomic.StoreUint32(&h.p.VolumeScaler, float32bits(scalar))
}

// SetWriteTimestamp records the time the producer finished its most recent
// transfer (spec.md 3: "a timestamp the consumer writes when it finishes a
// transfer" -- both producer and reader sides stamp their own timestamp
// field so either party can observe staleness).
func (h Header) SetWriteTimestamp(t time.Time) {
	atomic.StoreInt64(&h.p.WriteTsSec, int64(t.Unix()))
	atomic.StoreInt64(&h.p.WriteTsNsec, int64(t.Nanosecond()))
}

func (h Header) WriteTimestamp() time.Time {
	sec := atomic.LoadInt64(&h.p.WriteTsSec)
	nsec := atomic.LoadInt64(&h.p.WriteTsNsec)
	return time.Unix(sec, nsec)
}

func (h Header) SetReadTimestamp(t time.Time) {
	atomic.StoreInt64(&h.p.ReadTsSec, int64(t.Unix()))
	atomic.StoreInt64(&h.p.ReadTsNsec, int64(t.Nanosecond()))
}

func (h Header) ReadTimestamp() time.Time {
	sec := atomic.LoadInt64(&h.p.ReadTsSec)
	nsec := atomic.LoadInt64(&h.p.ReadTsNsec)
	return time.Unix(sec, nsec)
}

func float32bits(f float32) uint32 {
	return *(*uint32)(unsafe.Pointer(&f))
}

func float32frombits(b uint32) float32 {
	return *(*float32)(unsafe.Pointer(&b))
}
