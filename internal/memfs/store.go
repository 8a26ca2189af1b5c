package memfs

import (
	"sync"
	"time"

	"github.com/osdev-labs/myfs/server/internal/models"
)

const firstIno = 1000 // MYFS_ROOT_INO

// InodeStore owns every inode of one mount. It allocates identities, keeps
// the link-count and open-handle accounting and destroys inodes once both
// reach zero. Its lock is independent of directory locks and may be taken
// while a directory lock is held, never the other way around.
type InodeStore struct {
	mu       sync.Mutex
	inodes   map[int64]*Inode
	nextIno  int64
	maxNodes int64 // 0 means unlimited
	content  ContentStore
}

func NewInodeStore(maxNodes int64, content ContentStore) *InodeStore {
	return &InodeStore{
		inodes:   make(map[int64]*Inode),
		nextIno:  firstIno,
		maxNodes: maxNodes,
		content:  content,
	}
}

// Allocate reserves a fresh identity and initializes a kind-specific inode.
// Directories begin with link count 2: the "." self-reference plus the single
// parent entry they will ever have (counted up front since directories cannot
// be hard-linked). All other kinds begin at 0 until a name references them.
func (s *InodeStore) Allocate(t models.NodeType, mode uint32, dev models.DeviceID) (*Inode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxNodes > 0 && int64(len(s.inodes)) >= s.maxNodes {
		return nil, ErrNoSpace
	}
	if s.nextIno < firstIno { // identity counter wrapped
		return nil, ErrNoSpace
	}

	now := time.Now()
	inode := &Inode{
		Ino:   s.nextIno,
		Type:  t,
		Mode:  TypeBits(t) | (mode & S_IALLUGO),
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	s.nextIno++

	switch t {
	case models.NodeTypeDir:
		inode.nlink = 2
		inode.dir = newDirPayload(inode.Ino)
	case models.NodeTypeFile:
		s.content.Allocate(inode.Ino)
	default:
		if t.IsSpecial() {
			inode.dev = dev
		}
	}

	s.inodes[inode.Ino] = inode
	return inode, nil
}

// AllocateSymlink is Allocate for symlinks; the target path payload is
// immutable afterwards.
func (s *InodeStore) AllocateSymlink(target string, mode uint32) (*Inode, error) {
	inode, err := s.Allocate(models.NodeTypeSymlink, mode, models.DeviceID{})
	if err != nil {
		return nil, err
	}
	inode.target = target
	inode.size = int64(len(target))
	return inode, nil
}

// Get returns a live inode by number.
func (s *InodeStore) Get(ino int64) (*Inode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inode, ok := s.inodes[ino]
	return inode, ok
}

// Link adds a name reference. It fails with ErrStale when the inode has
// already dropped to zero references, which closes the race between a
// concurrent unlink-to-zero and a new hard link.
func (s *InodeStore) Link(inode *Inode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, live := s.inodes[inode.Ino]; !live {
		return ErrStale
	}
	inode.nlink++
	return nil
}

// Unlink drops a name reference and destroys the inode when no reference of
// any kind remains. Destruction releases the content payload outside of any
// directory lock; callers must not hold one.
func (s *InodeStore) Unlink(inode *Inode) {
	s.mu.Lock()
	if inode.nlink > 0 {
		inode.nlink--
	}
	destroy := inode.nlink == 0 && inode.handles == 0
	if destroy {
		delete(s.inodes, inode.Ino)
	}
	s.mu.Unlock()

	if destroy {
		s.releasePayload(inode)
	}
}

// Retain takes an open-handle reference (anonymous tmpfile inodes are kept
// alive solely by these).
func (s *InodeStore) Retain(inode *Inode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inode.handles++
}

// Release drops an open-handle reference, destroying the inode if it is also
// nameless.
func (s *InodeStore) Release(inode *Inode) {
	s.mu.Lock()
	if inode.handles > 0 {
		inode.handles--
	}
	destroy := inode.nlink == 0 && inode.handles == 0
	if destroy {
		delete(s.inodes, inode.Ino)
	}
	s.mu.Unlock()

	if destroy {
		s.releasePayload(inode)
	}
}

func (s *InodeStore) releasePayload(inode *Inode) {
	if inode.Type == models.NodeTypeFile {
		s.content.Release(inode.Ino)
	}
	inode.dir = nil
}

// Nlink reports the current link count.
func (s *InodeStore) Nlink(inode *Inode) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return inode.nlink
}

// Size reports the byte size of an inode: content size for regular files,
// target length for symlinks, 0 otherwise.
func (s *InodeStore) Size(inode *Inode) int64 {
	if inode.Type == models.NodeTypeFile {
		return s.content.Size(inode.Ino)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return inode.size
}

// Len reports the number of live inodes.
func (s *InodeStore) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.inodes))
}

// ReleaseOrphans force-drops every nameless inode still pinned by open
// handles. Used by teardown, where the host is going away and no handle can
// come back.
func (s *InodeStore) ReleaseOrphans() {
	s.mu.Lock()
	var orphans []*Inode
	for ino, inode := range s.inodes {
		if inode.nlink == 0 {
			orphans = append(orphans, inode)
			delete(s.inodes, ino)
		}
	}
	s.mu.Unlock()

	for _, inode := range orphans {
		s.releasePayload(inode)
	}
}
