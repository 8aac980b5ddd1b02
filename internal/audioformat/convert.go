package audioformat

import "math"

// DecodeToFloat32 reads nFrames*channels interleaved samples out of raw
// (encoded per sample) into dst (interleaved float32 in [-1, 1]).
// dst must have length >= nFrames*channels.
func DecodeToFloat32(sample SampleFormat, raw []byte, dst []float32) {
	switch sample {
	case FormatS16LE:
		n := len(raw) / 2
		for i := 0; i < n && i < len(dst); i++ {
			v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
			dst[i] = float32(v) / 32768.0
		}
	case FormatS24LE:
		n := len(raw) / 4
		for i := 0; i < n && i < len(dst); i++ {
			b0, b1, b2 := raw[4*i], raw[4*i+1], raw[4*i+2]
			v := int32(uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16)
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			dst[i] = float32(v) / 8388608.0
		}
	case FormatS32LE:
		n := len(raw) / 4
		for i := 0; i < n && i < len(dst); i++ {
			v := int32(uint32(raw[4*i]) | uint32(raw[4*i+1])<<8 | uint32(raw[4*i+2])<<16 | uint32(raw[4*i+3])<<24)
			dst[i] = float32(v) / 2147483648.0
		}
	case FormatFloat32LE:
		n := len(raw) / 4
		for i := 0; i < n && i < len(dst); i++ {
			bits := uint32(raw[4*i]) | uint32(raw[4*i+1])<<8 | uint32(raw[4*i+2])<<16 | uint32(raw[4*i+3])<<24
			dst[i] = math.Float32frombits(bits)
		}
	}
}

// EncodeFromFloat32 writes src (interleaved float32, [-1, 1]) into raw in
// the given sample encoding, saturating at the format's full-scale value.
// raw must have length >= len(src)*sample.Bytes().
func EncodeFromFloat32(sample SampleFormat, src []float32, raw []byte) {
	switch sample {
	case FormatS16LE:
		for i, x := range src {
			v := clampToInt(x, 32767)
			raw[2*i] = byte(v)
			raw[2*i+1] = byte(v >> 8)
		}
	case FormatS24LE:
		for i, x := range src {
			v := clampToInt(x, 8388607)
			raw[4*i] = byte(v)
			raw[4*i+1] = byte(v >> 8)
			raw[4*i+2] = byte(v >> 16)
			raw[4*i+3] = 0
		}
	case FormatS32LE:
		for i, x := range src {
			v := clampToInt32(x, 2147483647)
			raw[4*i] = byte(v)
			raw[4*i+1] = byte(v >> 8)
			raw[4*i+2] = byte(v >> 16)
			raw[4*i+3] = byte(v >> 24)
		}
	case FormatFloat32LE:
		for i, x := range src {
			if x > 1 {
				x = 1
			} else if x < -1 {
				x = -1
			}
			bits := math.Float32bits(x)
			raw[4*i] = byte(bits)
			raw[4*i+1] = byte(bits >> 8)
			raw[4*i+2] = byte(bits >> 16)
			raw[4*i+3] = byte(bits >> 24)
		}
	}
}

func clampToInt(x float32, fullScale int32) int32 {
	v := int32(x * float32(fullScale))
	if v > fullScale {
		return fullScale
	}
	if v < -fullScale-1 {
		return -fullScale - 1
	}
	return v
}

func clampToInt32(x float32, fullScale int64) int32 {
	v := int64(x * float32(fullScale))
	if v > fullScale {
		return int32(fullScale)
	}
	if v < -fullScale-1 {
		return int32(-fullScale - 1)
	}
	return int32(v)
}

// MixInto sums src into dst in place, saturating each sample at [-1, 1].
// Mixing always happens in this float32 domain; device-format saturation
// happens only at the final EncodeFromFloat32 step (spec.md 4.D).
func MixInto(dst, src []float32, gain float32) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		v := dst[i] + src[i]*gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = v
	}
}

// RemapChannels rewrites src (interleaved, srcChannels per frame, described
// by srcLayout) into dst (interleaved, dstChannels per frame, described by
// dstLayout), one frame at a time. Positions present in dstLayout but absent
// from srcLayout are filled with silence. This implements the "best-effort
// channel-conversion matrix" fallback of spec.md 4.B step 4; exact-layout
// and pair-swap matches are just special cases where the computed mapping
// is the identity or a swap.
func RemapChannels(srcLayout, dstLayout ChannelLayout, srcChannels, dstChannels int, src []float32, dst []float32, frames int) {
	// position -> source channel index, built once per call; callers on the
	// hot path should precompute this via BuildRemapMatrix instead.
	m := BuildRemapMatrix(srcLayout, dstLayout, srcChannels, dstChannels)
	m.Apply(src, dst, frames)
}

// RemapMatrix is a precomputed dst-channel -> src-channel mapping, built
// once when a stream attaches to a device (spec.md 4.D: "built once at
// attach"). srcIndex[d] == -1 means position d is silence.
type RemapMatrix struct {
	srcIndex    []int
	srcChannels int
	dstChannels int
}

// BuildRemapMatrix computes, for every destination channel, which source
// channel (if any) should feed it, by matching channel-layout positions.
func BuildRemapMatrix(srcLayout, dstLayout ChannelLayout, srcChannels, dstChannels int) RemapMatrix {
	idx := make([]int, dstChannels)
	for d := 0; d < dstChannels; d++ {
		idx[d] = -1
	}
	for pos := 0; pos < MaxChannels; pos++ {
		dstCh := int(dstLayout[pos])
		if dstCh < 0 || dstCh >= dstChannels {
			continue
		}
		srcCh := int(srcLayout[pos])
		if srcCh < 0 || srcCh >= srcChannels {
			continue
		}
		idx[dstCh] = srcCh
	}
	return RemapMatrix{srcIndex: idx, srcChannels: srcChannels, dstChannels: dstChannels}
}

// Identity reports whether this matrix is a straight passthrough, allowing
// callers to skip the per-sample remap loop entirely.
func (m RemapMatrix) Identity() bool {
	if m.srcChannels != m.dstChannels {
		return false
	}
	for d, s := range m.srcIndex {
		if s != d {
			return false
		}
	}
	return true
}

// Apply writes frames of src (interleaved, srcChannels wide) into dst
// (interleaved, dstChannels wide) according to the matrix.
func (m RemapMatrix) Apply(src []float32, dst []float32, frames int) {
	for f := 0; f < frames; f++ {
		srcBase := f * m.srcChannels
		dstBase := f * m.dstChannels
		for d := 0; d < m.dstChannels; d++ {
			s := m.srcIndex[d]
			if s < 0 {
				dst[dstBase+d] = 0
				continue
			}
			dst[dstBase+d] = src[srcBase+s]
		}
	}
}
