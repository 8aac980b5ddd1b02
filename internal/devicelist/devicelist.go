// Package devicelist implements device list and routing (spec.md 4.E): the
// set of known devices, the currently enabled device per direction, and the
// reattachment of unpinned streams when the active node changes.
package devicelist

import (
	"github.com/gen2brain/crasd/internal/iodev"
	"github.com/gen2brain/crasd/internal/node"
	"github.com/gen2brain/crasd/internal/stream"
)

// EnabledHook is called whenever a device becomes enabled or disabled for
// its direction (spec.md 4.E: "fires device_enabled_hook and
// device_disabled_hook subscribers"; spec.md 9: "subscriber registry
// delivering tagged events").
type EnabledHook func(dev iodev.Device)

// List owns every known device, keyed by id, plus insertion order for
// iteration (spec.md 9: "owned vectors keyed by stable id ... iteration
// order must remain insertion order").
type List struct {
	order []uint32
	byID  map[uint32]iodev.Device

	enabledOutput uint32 // device id currently enabled for Output
	enabledInput  uint32 // device id currently enabled for Input
	hasOutput     bool
	hasInput      bool

	streams []*stream.RStream

	onEnabled  []EnabledHook
	onDisabled []EnabledHook

	nextEmptyID uint32
}

// New creates an empty list. nextEmptyID seeds the id space used for the
// synthetic empty devices created by EnsureEnabled.
func New(nextEmptyID uint32) *List {
	return &List{
		byID:        make(map[uint32]iodev.Device),
		nextEmptyID: nextEmptyID,
	}
}

// AddDevice registers a device, preserving insertion order.
func (l *List) AddDevice(d iodev.Device) {
	if _, exists := l.byID[d.ID()]; exists {
		return
	}
	l.order = append(l.order, d.ID())
	l.byID[d.ID()] = d
}

// RemoveDevice drops a device from the list. If it was the enabled device
// for its direction, the caller must follow up with EnsureEnabled to
// restore the empty-device invariant (spec.md 8: "removing the last
// enabled device of a direction leaves exactly one empty device enabled").
func (l *List) RemoveDevice(id uint32) {
	d, ok := l.byID[id]
	if !ok {
		return
	}
	delete(l.byID, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	if d.Direction() == iodev.Output && l.hasOutput && l.enabledOutput == id {
		l.hasOutput = false
	}
	if d.Direction() == iodev.Input && l.hasInput && l.enabledInput == id {
		l.hasInput = false
	}
}

// Device looks up a device by id.
func (l *List) Device(id uint32) (iodev.Device, bool) {
	d, ok := l.byID[id]
	return d, ok
}

// Devices returns every known device in insertion order.
func (l *List) Devices() []iodev.Device {
	out := make([]iodev.Device, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

// EnabledDevice returns the currently enabled device for a direction, or
// nil if none is enabled (callers should follow with EnsureEnabled).
func (l *List) EnabledDevice(dir iodev.Direction) iodev.Device {
	if dir == iodev.Output {
		if !l.hasOutput {
			return nil
		}
		d, _ := l.byID[l.enabledOutput]
		return d
	}
	if !l.hasInput {
		return nil
	}
	d, _ := l.byID[l.enabledInput]
	return d
}

// FindNode locates a node by its stable id across every known device,
// returning the owning device and the node's index within it (for use
// with AddActiveNode/UpdateActiveNode).
func (l *List) FindNode(nodeID uint64) (dev iodev.Device, nodeIdx int, n *node.Node, ok bool) {
	for _, id := range l.order {
		d := l.byID[id]
		for i, candidate := range d.Nodes() {
			if candidate.StableID == nodeID {
				return d, i, candidate, true
			}
		}
	}
	return nil, 0, nil, false
}

// OnEnabled/OnDisabled register subscribers for the enable/disable event
// stream (spec.md 9: subscriber registry, no global state beyond it).
func (l *List) OnEnabled(hook EnabledHook)  { l.onEnabled = append(l.onEnabled, hook) }
func (l *List) OnDisabled(hook EnabledHook) { l.onDisabled = append(l.onDisabled, hook) }

// AddActiveNode implements spec.md 4.E's add_active_node: opens the node's
// device if needed, fires the enabled/disabled hooks, and returns the set
// of unpinned streams of the matching direction that the caller (the
// engine, which owns the actual dev_stream adapters) must now reattach to
// this device (spec.md 4.E step 2; spec.md 8 scenario 6: "streams pinned
// to A remain on A"). Configure is the caller-supplied function that
// opens/binds the device's format (the list doesn't know device formats).
func (l *List) AddActiveNode(devID uint32, nodeIdx int, configure func(iodev.Device) error) (toReattach []*stream.RStream, err error) {
	d, ok := l.byID[devID]
	if !ok {
		return nil, nil
	}

	var previous iodev.Device
	if d.Direction() == iodev.Output && l.hasOutput {
		previous, _ = l.byID[l.enabledOutput]
	} else if d.Direction() == iodev.Input && l.hasInput {
		previous, _ = l.byID[l.enabledInput]
	}

	if d.State() == iodev.StateClosed {
		if err := configure(d); err != nil {
			return nil, err
		}
	}
	d.UpdateActiveNode(nodeIdx, true)

	if d.Direction() == iodev.Output {
		l.enabledOutput = devID
		l.hasOutput = true
	} else {
		l.enabledInput = devID
		l.hasInput = true
	}

	toReattach = l.unpinnedOfDirection(d.Direction())

	if previous != nil && previous.ID() != devID {
		l.fireDisabled(previous)
	}
	l.fireEnabled(d)

	return toReattach, nil
}

// unpinnedOfDirection returns every unpinned stream matching dir.
func (l *List) unpinnedOfDirection(dir iodev.Direction) []*stream.RStream {
	var out []*stream.RStream
	for _, s := range l.streams {
		if s.Pinned() {
			continue
		}
		if s.Direction != dir {
			continue
		}
		out = append(out, s)
	}
	return out
}

// AddStream registers a stream with the list so future routing changes
// know whether to reattach it.
func (l *List) AddStream(s *stream.RStream) {
	l.streams = append(l.streams, s)
}

// RemoveStream drops a stream from the routing bookkeeping.
func (l *List) RemoveStream(id stream.ID) {
	for i, s := range l.streams {
		if s.ID == id {
			l.streams = append(l.streams[:i], l.streams[i+1:]...)
			return
		}
	}
}

// EnsureEnabled guarantees the empty-device invariant: if dir has no
// enabled device, an Empty device is created, added, and enabled (spec.md
// 4.E step 4, spec.md 8: "removing the last enabled device of a direction
// leaves exactly one empty device enabled in that direction").
func (l *List) EnsureEnabled(dir iodev.Direction) iodev.Device {
	if dir == iodev.Output && l.hasOutput {
		d, _ := l.byID[l.enabledOutput]
		return d
	}
	if dir == iodev.Input && l.hasInput {
		d, _ := l.byID[l.enabledInput]
		return d
	}

	empty := iodev.NewEmpty(l.nextEmptyID, dir)
	l.nextEmptyID++
	empty.AddNode(node.New("Empty", node.TypeUnknown))
	l.AddDevice(empty)

	if dir == iodev.Output {
		l.enabledOutput = empty.ID()
		l.hasOutput = true
	} else {
		l.enabledInput = empty.ID()
		l.hasInput = true
	}
	l.fireEnabled(empty)
	return empty
}

func (l *List) fireEnabled(d iodev.Device) {
	for _, h := range l.onEnabled {
		h(d)
	}
}

func (l *List) fireDisabled(d iodev.Device) {
	for _, h := range l.onDisabled {
		h(d)
	}
}
