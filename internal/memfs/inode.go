package memfs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/osdev-labs/myfs/server/internal/models"
)

// Mode bits, matching the kernel umode_t layout the client module uses.
const (
	S_IFMT   uint32 = 0o170000
	S_IFSOCK uint32 = 0o140000
	S_IFLNK  uint32 = 0o120000
	S_IFREG  uint32 = 0o100000
	S_IFBLK  uint32 = 0o060000
	S_IFDIR  uint32 = 0o040000
	S_IFCHR  uint32 = 0o020000
	S_IFIFO  uint32 = 0o010000

	S_IALLUGO uint32 = 0o7777
	S_IRWXUGO uint32 = 0o0777
)

// TypeBits returns the S_IF* bits for a node type.
func TypeBits(t models.NodeType) uint32 {
	switch t {
	case models.NodeTypeDir:
		return S_IFDIR
	case models.NodeTypeFile:
		return S_IFREG
	case models.NodeTypeSymlink:
		return S_IFLNK
	case models.NodeTypeCharDev:
		return S_IFCHR
	case models.NodeTypeBlkDev:
		return S_IFBLK
	case models.NodeTypeFifo:
		return S_IFIFO
	case models.NodeTypeSocket:
		return S_IFSOCK
	}
	return 0
}

// Inode is a single in-memory filesystem object. Identity (Ino) is unique
// per mount and never reused while the inode is referenced. The kind-specific
// payload is exactly one of dir, target or dev.
type Inode struct {
	Ino  int64
	Type models.NodeType
	Mode uint32 // permission + type bits
	UID  uint32
	GID  uint32

	Atime time.Time
	Mtime time.Time
	Ctime time.Time

	// nlink and handles are guarded by the owning InodeStore.
	nlink   uint32
	handles uint32
	size    int64

	dir    *dirPayload
	target string // symlink target path, immutable after creation
	dev    models.DeviceID
}

// dirPayload holds a directory's entry set. The mutex guards the entries,
// their insertion order and the directory's own timestamps. Two-directory
// operations must lock payloads in ascending inode order. parentIno is a
// weak back-reference (an inode number, never a pointer) and is atomic so it
// can be re-homed during rename without taking the child's lock out of
// order.
type dirPayload struct {
	mu        sync.Mutex
	entries   map[string]*Inode
	order     []string
	parentIno atomic.Int64
}

func newDirPayload(parentIno int64) *dirPayload {
	d := &dirPayload{entries: make(map[string]*Inode)}
	d.parentIno.Store(parentIno)
	return d
}

func (d *dirPayload) insertLocked(name string, target *Inode) {
	d.entries[name] = target
	d.order = append(d.order, name)
}

func (d *dirPayload) removeLocked(name string) {
	delete(d.entries, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

func (i *Inode) IsDir() bool {
	return i.Type == models.NodeTypeDir
}

// Target returns the symlink payload.
func (i *Inode) Target() string {
	return i.target
}

// Device returns the special-node payload.
func (i *Inode) Device() models.DeviceID {
	return i.dev
}

// ParentIno returns the weak back-reference of a directory. For the root it
// is the root's own inode number.
func (i *Inode) ParentIno() int64 {
	if i.dir == nil {
		return 0
	}
	return i.dir.parentIno.Load()
}

func (i *Inode) touchCMLocked(now time.Time) {
	i.Mtime = now
	i.Ctime = now
}
