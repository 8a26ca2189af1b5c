package memfs

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/osdev-labs/myfs/server/internal/models"
)

// Self-description constants reported to the kernel client.
const (
	Magic   uint64 = 0x858458f6 // RAMFS_MAGIC
	Version        = "0.1"
)

// MountState tracks the superblock lifecycle.
type MountState int32

const (
	StateUnconfigured MountState = iota
	StateConfiguring
	StateMounted
	StateUnmounting
	StateDestroyed
)

func (s MountState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateMounted:
		return "mounted"
	case StateUnmounting:
		return "unmounting"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Limits are the per-mount resource bounds, fixed at mount time.
type Limits struct {
	MaxInodes   int64
	MaxFileSize int64
	BlockSize   int64
}

const (
	DefaultBlockSize   int64 = 4096 // PAGE_SIZE
	DefaultMaxFileSize int64 = 1 << 31
)

func (l Limits) withDefaults() Limits {
	if l.BlockSize <= 0 {
		l.BlockSize = DefaultBlockSize
	}
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = DefaultMaxFileSize
	}
	return l
}

// Mount is the per-mount state: parsed options, the inode store, the content
// store and the root directory. Options are immutable once the mount leaves
// the configuring state; the root is fixed when the tree is anchored.
type Mount struct {
	Token     string
	CreatedAt time.Time

	opts    MountOptions
	limits  Limits
	store   *InodeStore
	tree    *Tree
	content *PagedStore
	root    *Inode
	state   atomic.Int32
}

// NewMount runs the configure→mount transition: parse options, allocate the
// root directory with the (possibly overridden) default mode, anchor the
// tree. A configuration or allocation failure leaves nothing allocated.
func NewMount(token, rawOptions string, limits Limits) (*Mount, error) {
	m := &Mount{
		Token:     token,
		CreatedAt: time.Now(),
		limits:    limits.withDefaults(),
	}
	m.state.Store(int32(StateConfiguring))

	opts, err := ParseOptions(rawOptions)
	if err != nil {
		m.state.Store(int32(StateDestroyed))
		return nil, err
	}
	m.opts = opts

	m.content = NewPagedStore(m.limits.BlockSize, m.limits.MaxFileSize)
	m.store = NewInodeStore(m.limits.MaxInodes, m.content)
	m.tree = NewTree(m.store)

	root, err := m.store.Allocate(models.NodeTypeDir, opts.Mode, models.DeviceID{})
	if err != nil {
		m.state.Store(int32(StateDestroyed))
		return nil, err
	}
	m.root = root

	m.state.Store(int32(StateMounted))
	return m, nil
}

func (m *Mount) State() MountState {
	return MountState(m.state.Load())
}

// Ready returns ErrInvalidState unless the mount accepts operations.
func (m *Mount) Ready() error {
	if m.State() != StateMounted {
		return fmt.Errorf("%w: %s", ErrInvalidState, m.State())
	}
	return nil
}

func (m *Mount) Root() *Inode        { return m.root }
func (m *Mount) Store() *InodeStore  { return m.store }
func (m *Mount) Tree() *Tree         { return m.tree }
func (m *Mount) Content() *PagedStore { return m.content }

// DefaultMode is the creation mode applied when a caller passes no explicit
// mode bits.
func (m *Mount) DefaultMode() uint32 {
	return m.opts.Mode
}

// Info is the /proc/mounts-style self-description.
func (m *Mount) Info() models.MountInfo {
	return models.MountInfo{
		Token:     m.Token,
		Magic:     Magic,
		Version:   Version,
		Options:   m.opts.String(),
		BlockSize: m.limits.BlockSize,
		Inodes:    m.store.Len(),
	}
}

// Unmount tears the mount down: the tree is walked depth-first and released
// bottom-up so every inode's link count reaches zero, then orphaned
// (tmpfile) inodes are dropped. An inode surviving the walk is a lifecycle
// invariant breach and panics rather than leaking silently. A second
// Unmount is rejected with ErrInvalidState, never a double free.
func (m *Mount) Unmount() error {
	if !m.state.CompareAndSwap(int32(StateMounted), int32(StateUnmounting)) {
		return fmt.Errorf("%w: %s", ErrInvalidState, m.State())
	}

	m.releaseDir(m.root)
	m.store.Unlink(m.root) // the mount anchor
	m.store.Unlink(m.root) // the root's own "." reference
	m.store.ReleaseOrphans()

	if n := m.store.Len(); n != 0 {
		panic(fmt.Sprintf("memfs: unmount of %q leaked %d inodes", m.Token, n))
	}
	m.state.Store(int32(StateDestroyed))
	return nil
}

// releaseDir removes every entry of dir bottom-up.
func (m *Mount) releaseDir(dir *Inode) {
	entries, err := m.tree.Entries(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Type == models.NodeTypeDir {
			child, _ := m.tree.Lookup(dir, e.Name)
			if child != nil {
				m.releaseDir(child)
				_, _ = m.tree.RemoveDir(dir, e.Name)
			}
			continue
		}
		_, _ = m.tree.Remove(dir, e.Name)
	}
}
