// Package node implements the logical sub-endpoint of a device (spec.md 3):
// a speaker, headphone jack, USB port, HDMI output, internal mic, or
// loopback tap target, each with its own plugged state and volume curve.
package node

import (
	"hash/fnv"

	"github.com/gen2brain/crasd/internal/volume"
)

// Type names the kind of logical endpoint a node represents.
type Type int

const (
	TypeUnknown Type = iota
	TypeSpeaker
	TypeHeadphone
	TypeUSB
	TypeHDMI
	TypeInternalMic
	TypeMic
	TypeBluetooth
	TypeLoopbackPostMixPreDSP
	TypeLoopbackPostDSP
	TypeLoopbackPostDSPDelayed
)

func (t Type) String() string {
	switch t {
	case TypeSpeaker:
		return "SPEAKER"
	case TypeHeadphone:
		return "HEADPHONE"
	case TypeUSB:
		return "USB"
	case TypeHDMI:
		return "HDMI"
	case TypeInternalMic:
		return "INTERNAL_MIC"
	case TypeMic:
		return "MIC"
	case TypeBluetooth:
		return "BLUETOOTH"
	case TypeLoopbackPostMixPreDSP:
		return "POST_MIX_PRE_DSP"
	case TypeLoopbackPostDSP:
		return "POST_DSP"
	case TypeLoopbackPostDSPDelayed:
		return "POST_DSP_DELAYED"
	default:
		return "UNKNOWN"
	}
}

// Node is a logical endpoint of a device. The owning device is tracked by
// the iodev that holds the node in its node list, not by a back-pointer
// here, so nodes stay plain, comparable-by-value data.
type Node struct {
	// StableID is a content hash of Name, stable across reconnects of the
	// same physical jack/port (spec.md 3).
	StableID uint64
	Name     string
	Type     Type
	Plugged  bool

	// UIGainScaler is an additional linear gain applied on top of the
	// volume curve, set by the control plane (e.g. per-app boost).
	UIGainScaler float32

	// Volume is the current 0..100 user-facing volume step.
	Volume int
	Curve  volume.Curve

	// LRSwapped requests the node's stereo channels be swapped in the
	// channel-remap step.
	LRSwapped bool

	// SoftwareVolumeNeeded is true when the backend has no hardware volume
	// control and the mixer must apply the curve itself (as opposed to
	// programming a hardware mixer control).
	SoftwareVolumeNeeded bool

	preMuteVolume int
}

// New creates a Node with a stable id derived from name and sane defaults.
func New(name string, typ Type) *Node {
	return &Node{
		StableID:     StableID(name),
		Name:         name,
		Type:         typ,
		UIGainScaler: 1.0,
		Volume:       100,
		Curve:        volume.DefaultCurve(),
	}
}

// StableID hashes name into a stable 64-bit identity. FNV-1a is used in
// place of the original SuperFastHash: both are non-cryptographic content
// hashes chosen only for determinism and speed, and FNV-1a needs nothing
// beyond the standard library (spec.md 3, SPEC_FULL supplemented feature 5).
func StableID(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// SetVolume sets the user-facing volume step, clamped to 0..100.
func (n *Node) SetVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	n.Volume = v
}

// SetMuted mutes or unmutes the node, by convention of Volume==0 (spec.md
// 4.A step 4: "muted by convention of Volume==0"). Unmuting restores the
// last nonzero volume, or full volume if none was ever set.
func (n *Node) SetMuted(muted bool) {
	if muted {
		if n.Volume != 0 {
			n.preMuteVolume = n.Volume
		}
		n.Volume = 0
		return
	}
	if n.preMuteVolume == 0 {
		n.preMuteVolume = 100
	}
	n.Volume = n.preMuteVolume
}

// Scalar returns the effective linear gain for this node: volume curve at
// the current step, times the UI gain scaler.
func (n *Node) Scalar() float32 {
	if n == nil || n.Curve == nil {
		return 1.0
	}
	return n.Curve.Scalar(n.Volume) * n.UIGainScaler
}
