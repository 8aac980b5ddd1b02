package control

import (
	"sync"

	"github.com/gen2brain/crasd/internal/iodev"
	"github.com/gen2brain/crasd/internal/stream"
)

// registry tracks which streams are currently live per client, for cleanup
// on disconnect. Stream ids already carry their owning client in their high
// 16 bits (stream.ID.ClientID), so ownership checks (spec.md 8 scenario 3:
// "cross-client id") never need a lookup here.
type registry struct {
	mu sync.Mutex

	nextID uint16

	live map[uint16]map[stream.ID]bool

	// allowedDirections restricts which directions a client may open
	// streams in. A client not present here may use either direction;
	// this mirrors the platform's own permission grant (e.g. a
	// capture-only sandboxed app), which arrives out of band from the
	// wire protocol itself.
	allowedDirections map[uint16]iodev.Direction
	restricted        map[uint16]bool
}

func newRegistry() *registry {
	return &registry{
		live:              make(map[uint16]map[stream.ID]bool),
		allowedDirections: make(map[uint16]iodev.Direction),
		restricted:        make(map[uint16]bool),
	}
}

func (r *registry) nextClientID() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// restrictDirection limits clientID to a single direction. Exposed for
// tests exercising the invalid-direction rejection path (spec.md 8 scenario
// 2); production clients are unrestricted by default.
func (r *registry) restrictDirection(clientID uint16, dir iodev.Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowedDirections[clientID] = dir
	r.restricted[clientID] = true
}

func (r *registry) directionAllowed(clientID uint16, dir iodev.Direction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.restricted[clientID] {
		return true
	}
	return r.allowedDirections[clientID] == dir
}

func (r *registry) registerStream(id stream.ID, clientID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[clientID] == nil {
		r.live[clientID] = make(map[stream.ID]bool)
	}
	r.live[clientID][id] = true
}

func (r *registry) forget(id stream.ID, clientID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live[clientID], id)
}

// streamsFor returns every live stream id owned by clientID, for cleanup on
// disconnect.
func (r *registry) streamsFor(clientID uint16) []stream.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]stream.ID, 0, len(r.live[clientID]))
	for id := range r.live[clientID] {
		ids = append(ids, id)
	}
	return ids
}

// dropClient forgets every stream owned by clientID without emitting
// individual forgets, used once a client's connection has already closed.
func (r *registry) dropClient(clientID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, clientID)
	delete(r.allowedDirections, clientID)
	delete(r.restricted, clientID)
}
