package shm

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/gen2brain/crasd/internal/crasderr"
)

// Segment owns an anonymous memory-backed file and its mmap'd region. The
// server creates one per stream (spec.md 4.C) and passes the fd to the
// client over the control socket (spec.md 6); the client maps the same fd
// read/write on its side.
type Segment struct {
	fd     int
	region []byte
}

// CreateSegment allocates a new memfd-backed segment sized to hold a
// Header plus used_size*2 frames of frameBytes-wide samples (spec.md 4.C:
// "shm segment sized to hold (used_size x 2) bytes"), and returns it
// already wrapped as an owner-side Ring.
func CreateSegment(name string, usedSizeFrames, frameBytes uint32) (*Segment, *Ring, error) {
	size := HeaderSize + int(usedSizeFrames)*2*int(frameBytes)

	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, nil, crasderr.Resourcef("shm: memfd_create failed: %v", err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, nil, crasderr.Resourcef("shm: ftruncate failed: %v", err)
	}

	region, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, nil, crasderr.Resourcef("shm: mmap failed: %v", err)
	}

	ring, err := NewRing(region, usedSizeFrames, frameBytes, true)
	if err != nil {
		_ = unix.Munmap(region)
		_ = unix.Close(fd)
		return nil, nil, err
	}

	return &Segment{fd: fd, region: region}, ring, nil
}

// OpenSegment maps an fd received from the peer (e.g. via SCM_RIGHTS) as a
// non-owning Ring view. size must match the size the owner created it with;
// the caller typically learns it from the STREAM_CONNECTED reply.
func OpenSegment(fd int, usedSizeFrames, frameBytes uint32) (*Segment, *Ring, error) {
	size := HeaderSize + int(usedSizeFrames)*2*int(frameBytes)

	region, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("shm: mmap of peer fd failed: %w", err)
	}

	ring, err := NewRing(region, usedSizeFrames, frameBytes, false)
	if err != nil {
		_ = unix.Munmap(region)
		return nil, nil, err
	}

	return &Segment{fd: fd, region: region}, ring, nil
}

// Fd returns the underlying file descriptor, to be sent to the peer over
// the control socket as ancillary data.
func (s *Segment) Fd() int { return s.fd }

// Close unmaps the region and closes the fd.
func (s *Segment) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.region != nil {
		err = unix.Munmap(s.region)
		s.region = nil
	}
	if s.fd >= 0 {
		if cerr := unix.Close(s.fd); cerr != nil && err == nil {
			err = cerr
		}
		s.fd = -1
	}
	return err
}
