package engine

import (
	"time"

	"github.com/gen2brain/crasd/internal/crasderr"
	"github.com/gen2brain/crasd/internal/iodev"
	"github.com/gen2brain/crasd/internal/stream"
)

// Command is a tagged union of the messages the control plane hands to the
// engine thread without blocking it (spec.md 4.G: "AddStream{stream},
// RemoveStream{id}, AddDev{dev}, RemoveDev{id}, Drain{id, reply}, Suspend,
// Resume, Dump{reply}"). Go's type switch stands in for the source's
// tagged-union dispatch.
type Command interface {
	isCommand()
}

// AddStreamCmd attaches a new stream to every device implied by its
// direction and pinning (spec.md 3: stream add invariant).
type AddStreamCmd struct {
	Stream    *stream.RStream
	MaxFrames int

	// OpusDecoder, if set, is wired into the new dev_stream adapter so its
	// ring is read as Opus packets rather than raw PCM (SPEC_FULL domain
	// stack). The control plane sets this for CRAS_CLIENT_TYPE_VOIP
	// streams that negotiated Opus.
	OpusDecoder stream.OpusDecoder
}

// RemoveStreamCmd detaches a stream from every device it was attached to.
type RemoveStreamCmd struct {
	ID stream.ID
}

// AddDeviceCmd registers a newly discovered device with the engine.
type AddDeviceCmd struct {
	Device iodev.Device
}

// RemoveDeviceCmd removes a device, falling back to the empty device for
// its direction if it was the enabled one.
type RemoveDeviceCmd struct {
	ID uint32
}

// DrainCmd waits until the named stream's shm ring is empty, or until
// Timeout elapses, then sends exactly one value on Reply (spec.md 4.G:
// "Drain waits on the reply until the named stream's shm is empty or
// timeout elapses"). All other commands are fire-and-forget from the
// control plane's perspective; Drain is the one synchronous exception.
type DrainCmd struct {
	ID      stream.ID
	Timeout time.Duration
	Reply   chan error
}

// SuspendCmd suspends every open device.
type SuspendCmd struct{}

// ResumeCmd resumes every suspended device.
type ResumeCmd struct{}

// Snapshot is the Dump command's reply payload: a point-in-time view of
// device and stream state for diagnostics.
type Snapshot struct {
	Devices []DeviceSnapshot
}

// DeviceSnapshot summarizes one device for a Dump reply.
type DeviceSnapshot struct {
	ID            uint32
	Name          string
	Direction     iodev.Direction
	State         iodev.State
	AttachedCount int
}

// DumpCmd requests a diagnostic snapshot.
type DumpCmd struct {
	Reply chan Snapshot
}

// NodeAttr names which field of a node SetNodeAttrCmd mutates. It mirrors
// control.NodeAttr; the engine package defines its own copy rather than
// importing the control package, since the control plane depends on the
// engine and not the other way around.
type NodeAttr uint8

const (
	NodeAttrVolume NodeAttr = iota
	NodeAttrMute
	NodeAttrPlugged
)

// SetNodeAttrCmd mutates one attribute of a node by its stable id (spec.md
// 9: control-plane node attribute changes). Node fields are read every
// service cycle by MixOutput/applyNodeMute on the engine goroutine, so
// mutating them must go through the command queue rather than a direct
// accessor, same as every other control-plane mutation (spec.md 3: "the
// engine thread is the sole mutator").
type SetNodeAttrCmd struct {
	NodeID uint64
	Attr   NodeAttr
	Value  int32
}

// SelectNodeCmd makes a node the active node for its device, reattaching
// every unpinned stream of the matching direction (spec.md 4.E:
// add_active_node).
type SelectNodeCmd struct {
	NodeID uint64
}

// SetSystemVolumeCmd sets the volume step of the currently active output
// node. CRAS exposes "system volume" as a single control-panel slider; it
// is really just the active output node's volume (spec.md 9).
type SetSystemVolumeCmd struct {
	Volume int32
}

func (AddStreamCmd) isCommand()       {}
func (RemoveStreamCmd) isCommand()    {}
func (AddDeviceCmd) isCommand()       {}
func (RemoveDeviceCmd) isCommand()    {}
func (DrainCmd) isCommand()           {}
func (SuspendCmd) isCommand()         {}
func (ResumeCmd) isCommand()          {}
func (DumpCmd) isCommand()            {}
func (SetNodeAttrCmd) isCommand()     {}
func (SelectNodeCmd) isCommand()      {}
func (SetSystemVolumeCmd) isCommand() {}

type pendingDrain struct {
	id       stream.ID
	deadline time.Time
	reply    chan error
}

func (e *Engine) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case AddStreamCmd:
		e.handleAddStream(c)
	case RemoveStreamCmd:
		e.DetachStream(c.ID)
		e.devices.RemoveStream(c.ID)
	case AddDeviceCmd:
		e.devices.AddDevice(c.Device)
	case RemoveDeviceCmd:
		e.removeDeviceLocked(c.ID)
	case DrainCmd:
		e.pendingDrains = append(e.pendingDrains, pendingDrain{
			id:       c.ID,
			deadline: time.Now().Add(c.Timeout),
			reply:    c.Reply,
		})
	case SuspendCmd:
		for _, d := range e.devices.Devices() {
			_ = d.Suspend()
		}
	case ResumeCmd:
		for _, d := range e.devices.Devices() {
			_ = d.Resume()
		}
	case DumpCmd:
		c.Reply <- e.snapshot()
	case SetNodeAttrCmd:
		e.handleSetNodeAttr(c)
	case SelectNodeCmd:
		e.handleSelectNode(c)
	case SetSystemVolumeCmd:
		e.handleSetSystemVolume(c)
	}
}

// handleSetNodeAttr mutates one node attribute in place. Unknown node ids
// are silently ignored: by the time this command is drained the client may
// already have disconnected or the node unplugged.
func (e *Engine) handleSetNodeAttr(c SetNodeAttrCmd) {
	_, _, n, ok := e.devices.FindNode(c.NodeID)
	if !ok {
		return
	}
	switch c.Attr {
	case NodeAttrVolume:
		n.SetVolume(int(c.Value))
	case NodeAttrMute:
		n.SetMuted(c.Value != 0)
	case NodeAttrPlugged:
		n.Plugged = c.Value != 0
	}
}

// handleSelectNode implements spec.md 4.E's add_active_node: it opens the
// node's device if needed and reattaches every unpinned stream of the
// matching direction from wherever it was previously attached.
func (e *Engine) handleSelectNode(c SelectNodeCmd) {
	dev, nodeIdx, _, ok := e.devices.FindNode(c.NodeID)
	if !ok {
		return
	}
	toReattach, err := e.devices.AddActiveNode(dev.ID(), nodeIdx, func(d iodev.Device) error {
		return d.Configure(d.Format(), d.BufferSize())
	})
	if err != nil {
		e.log.Warn("select node: configure failed", "node_id", c.NodeID, "err", err)
		return
	}
	for _, s := range toReattach {
		e.DetachStream(s.ID)
		ds := stream.NewDevStream(s, dev.Format(), int(s.BufferFrames))
		e.AttachStream(dev.ID(), ds, dev.ActiveNode())
	}
}

// handleSetSystemVolume sets the active output node's volume step.
func (e *Engine) handleSetSystemVolume(c SetSystemVolumeCmd) {
	dev := e.devices.EnabledDevice(iodev.Output)
	if dev == nil {
		return
	}
	if n := dev.ActiveNode(); n != nil {
		n.SetVolume(int(c.Volume))
	}
}

// handleAddStream attaches the stream to the currently enabled device for
// its direction (or its pinned device, if set), creating a fresh
// dev_stream adapter (spec.md 3: dev_stream "created when a stream is
// attached to a device").
func (e *Engine) handleAddStream(c AddStreamCmd) {
	s := c.Stream
	var target iodev.Device
	if s.Pinned() {
		target, _ = e.devices.Device(s.PinnedDevice)
	}
	if target == nil {
		target = e.devices.EnsureEnabled(s.Direction)
	}
	if target == nil {
		return
	}

	maxFrames := c.MaxFrames
	if maxFrames <= 0 {
		maxFrames = int(s.BufferFrames)
	}

	ds := stream.NewDevStream(s, target.Format(), maxFrames)
	ds.OpusDecoder = c.OpusDecoder
	e.devices.AddStream(s)
	e.AttachStream(target.ID(), ds, target.ActiveNode())
}

// checkDrains is called once per service loop iteration to resolve any
// pending Drain commands (spec.md 4.G).
func (e *Engine) checkDrains(now time.Time) {
	if len(e.pendingDrains) == 0 {
		return
	}
	remaining := e.pendingDrains[:0]
	for _, p := range e.pendingDrains {
		empty := e.streamRingEmpty(p.id)
		switch {
		case empty:
			p.reply <- nil
		case now.After(p.deadline):
			p.reply <- crasderr.Timeoutf("drain timed out for stream %#x", uint32(p.id))
		default:
			remaining = append(remaining, p)
		}
	}
	e.pendingDrains = remaining
}

func (e *Engine) streamRingEmpty(id stream.ID) bool {
	for _, atts := range e.attachments {
		for _, a := range atts {
			if a.DevStream.Stream.ID == id {
				return a.DevStream.Stream.Ring.FramesQueued() == 0
			}
		}
	}
	return true
}

func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{}
	for _, d := range e.devices.Devices() {
		snap.Devices = append(snap.Devices, DeviceSnapshot{
			ID:            d.ID(),
			Name:          d.Name(),
			Direction:     d.Direction(),
			State:         d.State(),
			AttachedCount: len(e.attachments[d.ID()]),
		})
	}
	return snap
}
