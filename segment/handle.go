// Package segment implements SegmentHandle: named shared-memory object
// lifecycle (create/open, size negotiation, map/unmap, existence check) as
// specified in spec.md §3 and §4.1.
package segment

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AlephTX/shmipc/shmerr"
)

// Mode selects whether Open may create the segment if it doesn't exist.
type Mode int

const (
	// ReadWriteCreate creates the segment if it does not already exist.
	ReadWriteCreate Mode = iota
	// ReadWriteOpen requires the segment to already exist.
	ReadWriteOpen
)

// Perm is a bitmask of owner/group/other read/write, mapped directly to
// POSIX file-mode bits.
type Perm uint32

// DefaultPerm grants read+write to owner, group and other, per spec.md §6.
const DefaultPerm Perm = 0o666

// Handle owns a named shared-memory object: its file descriptor and, once
// Connect has been called, its mapping. Handle's methods serialize on an
// internal mutex; the mapped bytes returned by Base are not protected by it
// and rely on the process-shared primitives embedded in the region itself.
type Handle struct {
	mu   sync.Mutex
	name string
	path string
	fd   int
	data []byte
	size int64
}

// Open resolves name to its canonical path and creates or opens the backing
// shared-memory object according to mode. It does not map the segment;
// call Connect for that.
func Open(name string, mode Mode, perm Perm) (*Handle, error) {
	if name == "" {
		return nil, shmerr.New("segment.Open", name, shmerr.InvalidName, nil)
	}

	path := CanonicalPath(name)

	flags := unix.O_RDWR
	if mode == ReadWriteCreate {
		flags |= unix.O_CREAT
	}

	fd, err := unix.Open(path, flags, uint32(perm))
	if err != nil {
		return nil, shmerr.New("segment.Open", name, shmerr.SegmentOpen, err)
	}

	return &Handle{name: name, path: path, fd: fd, size: -1}, nil
}

// Name returns the caller-supplied logical name.
func (h *Handle) Name() string { return h.name }

// Path returns the canonical OS path backing this handle.
func (h *Handle) Path() string { return h.path }

// Base returns the mapped byte slice. Valid only after a successful
// Connect; nil otherwise.
func (h *Handle) Base() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

// Size returns the current segment size in bytes (post-Connect).
func (h *Handle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Connect maps the segment. If requiredSize > 0 and the current size is
// smaller, the segment is grown (ftruncate) before mapping. If
// requiredSize == 0, the segment is mapped at its current size, and it is
// an error for that size to be zero (segment exists but was never sized).
//
// Truncation failure is a fatal condition per spec.md §4.1: the caller
// cannot proceed without the requested size, and the returned error's Kind
// is shmerr.SegmentSize regardless of cause.
func (h *Handle) Connect(requiredSize int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fd < 0 {
		return shmerr.New("segment.Connect", h.name, shmerr.NotConnected, nil)
	}

	var st unix.Stat_t
	if err := unix.Fstat(h.fd, &st); err != nil {
		return shmerr.New("segment.Connect", h.name, shmerr.SegmentSize, err)
	}
	size := st.Size

	if requiredSize > 0 && size < requiredSize {
		if err := unix.Ftruncate(h.fd, requiredSize); err != nil {
			return shmerr.New("segment.Connect", h.name, shmerr.SegmentSize, err)
		}
		size = requiredSize
	}

	if size == 0 {
		return shmerr.New("segment.Connect", h.name, shmerr.SegmentSize, nil)
	}

	data, err := unix.Mmap(h.fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(h.fd)
		h.fd = -1
		return shmerr.New("segment.Connect", h.name, shmerr.Mapping, err)
	}

	h.data = data
	h.size = size
	return nil
}

// IsDisconnected reports whether this handle's descriptor is invalid, the
// segment was never mapped, or the segment's link count has reached zero
// (another process unlinked it).
func (h *Handle) IsDisconnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isDisconnectedLocked()
}

func (h *Handle) isDisconnectedLocked() bool {
	if h.fd < 0 || h.data == nil {
		return true
	}
	var st unix.Stat_t
	if err := unix.Fstat(h.fd, &st); err != nil {
		return true
	}
	return st.Nlink == 0
}

// Exists opens name read-only, verifies the initialization handshake
// (init_flag becomes 1, polled at a short interval) within timeout, then
// closes. It never creates the segment.
//
// This relies on every layout (ring, service, action) placing its 32-bit
// init_flag atomic at offset 0 of the segment, so existence can be checked
// without knowing which pattern the segment belongs to.
func Exists(name string, timeout time.Duration) bool {
	path := CanonicalPath(name)

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil || st.Size < 4 {
		return false
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return false
	}
	defer unix.Munmap(data)

	deadline := time.Now().Add(timeout)
	for {
		if loadInitFlag(data) == 1 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// Disconnect unmaps and closes the handle. It does not unlink the name.
// Idempotent.
func (h *Handle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnectLocked()
}

func (h *Handle) disconnectLocked() error {
	var err error
	if h.data != nil {
		err = unix.Munmap(h.data)
		h.data = nil
	}
	if h.fd >= 0 {
		if cerr := unix.Close(h.fd); cerr != nil && err == nil {
			err = cerr
		}
		h.fd = -1
	}
	if err != nil {
		return shmerr.New("segment.Disconnect", h.name, shmerr.NotConnected, err)
	}
	return nil
}

// DisconnectAndUnlink unmaps, closes, and unlinks the name iff the
// segment's link count was <= 1 at the moment of decision. The link-count
// check is taken from the descriptor before close, so it is race-tolerant
// with respect to other holders disconnecting concurrently (spec.md §4.1).
func (h *Handle) DisconnectAndUnlink() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	shouldUnlink := false
	if h.fd >= 0 {
		var st unix.Stat_t
		if err := unix.Fstat(h.fd, &st); err == nil {
			shouldUnlink = st.Nlink <= 1
		}
	}

	if err := h.disconnectLocked(); err != nil {
		return err
	}

	if shouldUnlink {
		if err := unix.Unlink(h.path); err != nil && err != unix.ENOENT {
			return shmerr.New("segment.DisconnectAndUnlink", h.name, shmerr.SegmentOpen, err)
		}
	}
	return nil
}
