package iodev

import (
	"sync"
	"time"

	"github.com/gen2brain/crasd/internal/audioformat"
	"github.com/gen2brain/crasd/internal/node"
)

// Base is embedded by every backend. It owns the bookkeeping common to all
// devices -- identity, node list, format/state, and the loopback hook
// registry -- so each backend only needs to implement the handful of
// methods that are actually backend-specific (spec.md design notes:
// "tagged variants owning their backend state exclusively").
type Base struct {
	id        uint32
	name      string
	direction Direction

	mu         sync.Mutex
	nodes      []*node.Node
	activeNode int // index into nodes, -1 if none

	format     audioformat.Format
	bufferSize uint32
	state      State

	hooksMu sync.Mutex
	hooks   map[uint32]registeredHook
}

type registeredHook struct {
	sample  SampleHook
	onStart HookStartFunc
}

// NewBase constructs a Base with no nodes and State closed.
func NewBase(id uint32, name string, direction Direction) *Base {
	return &Base{
		id:         id,
		name:       name,
		direction:  direction,
		activeNode: -1,
		state:      StateClosed,
		hooks:      make(map[uint32]registeredHook),
	}
}

func (b *Base) ID() uint32           { return b.id }
func (b *Base) Name() string         { return b.name }
func (b *Base) Direction() Direction { return b.direction }

func (b *Base) Nodes() []*node.Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*node.Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// AddNode appends a node, preserving insertion order (spec.md design
// notes: "iteration order must remain insertion order").
func (b *Base) AddNode(n *node.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = append(b.nodes, n)
	if b.activeNode == -1 {
		b.activeNode = len(b.nodes) - 1
	}
}

func (b *Base) ActiveNode() *node.Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeNode < 0 || b.activeNode >= len(b.nodes) {
		return nil
	}
	return b.nodes[b.activeNode]
}

func (b *Base) SetActiveNodeIndex(idx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx >= 0 && idx < len(b.nodes) {
		b.activeNode = idx
	}
}

func (b *Base) Format() audioformat.Format     { return b.format }
func (b *Base) SetFormat(f audioformat.Format) { b.format = f }

func (b *Base) BufferSize() uint32          { return b.bufferSize }
func (b *Base) SetBufferSize(frames uint32) { b.bufferSize = frames }

func (b *Base) State() State     { return b.state }
func (b *Base) SetState(s State) { b.state = s }

func (b *Base) RegisterLoopbackHook(hook SampleHook, onStart HookStartFunc, loopbackID uint32) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.hooks[loopbackID] = registeredHook{sample: hook, onStart: onStart}
}

func (b *Base) UnregisterLoopbackHook(loopbackID uint32) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	delete(b.hooks, loopbackID)
}

// InvokeLoopbackHooks fans the finished mix out to every registered hook.
// A hook that can't keep up simply drops frames (its own return value is
// ignored here; callers of the sample hook itself apply backpressure by
// being best-effort internally, spec.md 4.F).
func (b *Base) InvokeLoopbackHooks(frames []byte, nframes int) {
	b.hooksMu.Lock()
	hooks := make([]registeredHook, 0, len(b.hooks))
	for _, h := range b.hooks {
		hooks = append(hooks, h)
	}
	b.hooksMu.Unlock()

	for _, h := range hooks {
		h.sample(frames, nframes, b.format)
	}
}

// NotifyHookStart tells every registered loopback tap whether this device
// just started or stopped producing (spec.md design notes: sample_hook_start).
func (b *Base) NotifyHookStart(start bool) {
	b.hooksMu.Lock()
	hooks := make([]registeredHook, 0, len(b.hooks))
	for _, h := range b.hooks {
		hooks = append(hooks, h)
	}
	b.hooksMu.Unlock()

	for _, h := range hooks {
		if h.onStart != nil {
			h.onStart(start)
		}
	}
}

// NextWakeTime implements the deadline formula of spec.md 4.A: start-time
// plus (frames_consumed + target_level) / rate. Backends that need custom
// scheduling (e.g. loopback) override this; most just embed this helper.
func (b *Base) NextWakeTime(startTime time.Time, framesConsumed uint64, targetLevel uint32, rate uint32) time.Time {
	if rate == 0 {
		return startTime
	}
	seconds := float64(framesConsumed+uint64(targetLevel)) / float64(rate)
	return startTime.Add(time.Duration(seconds * float64(time.Second)))
}
