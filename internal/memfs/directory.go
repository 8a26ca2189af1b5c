package memfs

import (
	"sort"
	"sync"
	"time"

	"github.com/osdev-labs/myfs/server/internal/models"
)

// Tree implements the namespace: name→inode entries inside directory inodes.
// Locking discipline: a single-directory operation holds that directory's
// payload lock for the duration of the mutation. Two-directory operations
// (rename, rmdir's empty check) lock both payloads in ascending inode order.
// The store lock is leaf-level, so taking a link reference under a directory
// lock is fine; destruction paths (Unlink, Release) only run after directory
// locks are released, so content-store releases never happen under one.
// Renames that move a directory across parents additionally serialize on
// renameMu, keeping the ancestry walk valid while the move is in flight.
type Tree struct {
	store    *InodeStore
	renameMu sync.Mutex
}

func NewTree(store *InodeStore) *Tree {
	return &Tree{store: store}
}

// lockPair acquires both directory locks in ascending inode order. The same
// directory passed twice is locked once.
func lockPair(a, b *Inode) func() {
	if a == b {
		a.dir.mu.Lock()
		return a.dir.mu.Unlock
	}
	first, second := a, b
	if second.Ino < first.Ino {
		first, second = second, first
	}
	first.dir.mu.Lock()
	second.dir.mu.Lock()
	return func() {
		second.dir.mu.Unlock()
		first.dir.mu.Unlock()
	}
}

// lockAscending locks any number of distinct directories in ascending inode
// order and returns an unlock for the whole set.
func lockAscending(dirs ...*Inode) func() {
	uniq := make([]*Inode, 0, len(dirs))
	for _, d := range dirs {
		dup := false
		for _, u := range uniq {
			if u == d {
				dup = true
				break
			}
		}
		if !dup {
			uniq = append(uniq, d)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].Ino < uniq[j].Ino })
	for _, d := range uniq {
		d.dir.mu.Lock()
	}
	return func() {
		for i := len(uniq) - 1; i >= 0; i-- {
			uniq[i].dir.mu.Unlock()
		}
	}
}

// Lookup resolves name inside dir by exact byte match.
func (t *Tree) Lookup(dir *Inode, name string) (*Inode, error) {
	if !dir.IsDir() {
		return nil, ErrNotDirectory
	}
	dir.dir.mu.Lock()
	defer dir.dir.mu.Unlock()

	target, ok := dir.dir.entries[name]
	if !ok {
		return nil, ErrNotFound
	}
	return target, nil
}

// Insert adds a (name, inode) entry for a freshly allocated inode and takes
// the name's ownership reference. Directories carry their single parent
// reference from allocation, so only non-directories gain a link here.
func (t *Tree) Insert(dir *Inode, name string, target *Inode) error {
	if !dir.IsDir() {
		return ErrNotDirectory
	}
	if err := validName(name); err != nil {
		return err
	}

	dir.dir.mu.Lock()
	if _, exists := dir.dir.entries[name]; exists {
		dir.dir.mu.Unlock()
		return ErrExist
	}
	if target.IsDir() {
		target.dir.parentIno.Store(dir.Ino)
	} else {
		// take the name's reference before the entry becomes visible, so a
		// racing remove cannot destroy the target out from under its creator
		if err := t.store.Link(target); err != nil {
			dir.dir.mu.Unlock()
			return err
		}
	}
	dir.dir.insertLocked(name, target)
	dir.touchCMLocked(time.Now())
	dir.dir.mu.Unlock()
	return nil
}

// LinkExisting adds an additional name for an inode already linked elsewhere
// (hard link). Directories are rejected to keep the tree acyclic. The link
// count is taken before the entry becomes visible so a racing unlink-to-zero
// cannot destroy the target under us.
func (t *Tree) LinkExisting(dir *Inode, name string, target *Inode) error {
	if !dir.IsDir() {
		return ErrNotDirectory
	}
	if target.IsDir() {
		return ErrIsDirectory
	}
	if err := validName(name); err != nil {
		return err
	}

	if err := t.store.Link(target); err != nil {
		return err
	}

	dir.dir.mu.Lock()
	if _, exists := dir.dir.entries[name]; exists {
		dir.dir.mu.Unlock()
		t.store.Unlink(target)
		return ErrExist
	}
	dir.dir.insertLocked(name, target)
	dir.touchCMLocked(time.Now())
	dir.dir.mu.Unlock()

	return nil
}

// Remove deletes the named entry and drops its link. The removed inode is
// returned so callers can observe whether it became unreachable.
func (t *Tree) Remove(dir *Inode, name string) (*Inode, error) {
	if !dir.IsDir() {
		return nil, ErrNotDirectory
	}

	dir.dir.mu.Lock()
	target, ok := dir.dir.entries[name]
	if !ok {
		dir.dir.mu.Unlock()
		return nil, ErrNotFound
	}
	dir.dir.removeLocked(name)
	dir.touchCMLocked(time.Now())
	dir.dir.mu.Unlock()

	t.store.Unlink(target)
	return target, nil
}

// RemoveDir removes the named subdirectory. Both the parent and the child
// are locked (ordered) so the empty check and the removal are one atomic
// step; otherwise a concurrent create inside the child could be orphaned.
// The child loses both of its references ("." and the parent entry) and the
// parent loses the child's ".." back-reference.
func (t *Tree) RemoveDir(dir *Inode, name string) (*Inode, error) {
	if !dir.IsDir() {
		return nil, ErrNotDirectory
	}

	// resolve first so we know which pair to lock, then re-verify
	child, err := t.Lookup(dir, name)
	if err != nil {
		return nil, err
	}
	if !child.IsDir() {
		return nil, ErrNotDirectory
	}

	unlock := lockPair(dir, child)
	if current, ok := dir.dir.entries[name]; !ok || current != child {
		unlock()
		return nil, ErrNotFound
	}
	if len(child.dir.entries) != 0 {
		unlock()
		return nil, ErrNotEmpty
	}
	dir.dir.removeLocked(name)
	now := time.Now()
	dir.touchCMLocked(now)
	unlock()

	t.store.Unlink(child) // the parent's entry
	t.store.Unlink(child) // the child's own "." reference
	t.store.Unlink(dir)   // the child's ".." back-reference
	return child, nil
}

// Rename moves srcName from srcDir to dstName in dstDir atomically with
// respect to concurrent lookups: under the locks the name never appears in
// both directories nor in neither. An existing destination entry is silently
// replaced and its inode unlinked after the locks drop, matching rename(2)
// overwrite semantics; a displaced directory must be empty. Moving a
// directory into its own subtree is rejected with ErrInvalidArg, as
// vfs_rename does: it would detach a self-referential cycle unreachable from
// the root.
func (t *Tree) Rename(srcDir *Inode, srcName string, dstDir *Inode, dstName string) error {
	if !srcDir.IsDir() || !dstDir.IsDir() {
		return ErrNotDirectory
	}
	if err := validName(dstName); err != nil {
		return err
	}

	movingDir := false
	defer func() {
		if movingDir {
			t.renameMu.Unlock()
		}
	}()

	for {
		unlock := lockPair(srcDir, dstDir)
		target, ok := srcDir.dir.entries[srcName]
		if !ok {
			unlock()
			return ErrNotFound
		}
		if srcDir == dstDir && srcName == dstName {
			unlock()
			return nil
		}
		if target.IsDir() && srcDir != dstDir {
			if !movingDir {
				// a cross-parent directory move: serialize against other
				// directory moves so the ancestry walk cannot go stale
				unlock()
				t.renameMu.Lock()
				movingDir = true
				continue
			}
			if t.isAncestor(target, dstDir) {
				unlock()
				return ErrInvalidArg
			}
		}
		prior, exists := dstDir.dir.entries[dstName]
		if exists && prior.IsDir() {
			if !target.IsDir() {
				unlock()
				return ErrIsDirectory
			}
			// the emptiness check needs the displaced directory's own lock;
			// restart with all three locked in ascending-ino order
			unlock()
			done, err := t.renameOverDir(srcDir, srcName, target, dstDir, dstName, prior)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue // the entry set changed under us, retry
		}
		if exists && target.IsDir() {
			unlock()
			return ErrNotDirectory
		}

		t.moveLocked(srcDir, srcName, target, dstDir, dstName, prior)
		movedDir := target.IsDir() && srcDir != dstDir
		unlock()

		t.renameFixups(srcDir, dstDir, prior, movedDir, false)
		return nil
	}
}

// renameOverDir is the rename slow path: the destination name currently
// refers to a directory. Returns done=false when the snapshot went stale and
// the caller must retry.
func (t *Tree) renameOverDir(srcDir *Inode, srcName string, target *Inode, dstDir *Inode, dstName string, prior *Inode) (bool, error) {
	unlock := lockAscending(srcDir, dstDir, prior)
	if cur, ok := srcDir.dir.entries[srcName]; !ok || cur != target {
		unlock()
		return false, nil
	}
	if cur, ok := dstDir.dir.entries[dstName]; !ok || cur != prior {
		unlock()
		return false, nil
	}
	if len(prior.dir.entries) != 0 {
		unlock()
		return false, ErrNotEmpty
	}

	t.moveLocked(srcDir, srcName, target, dstDir, dstName, prior)
	movedDir := srcDir != dstDir
	unlock()

	t.renameFixups(srcDir, dstDir, prior, movedDir, true)
	return true, nil
}

// moveLocked performs the entry swap; every involved directory lock is held.
func (t *Tree) moveLocked(srcDir *Inode, srcName string, target *Inode, dstDir *Inode, dstName string, prior *Inode) {
	if prior != nil {
		dstDir.dir.removeLocked(dstName)
	}
	srcDir.dir.removeLocked(srcName)
	dstDir.dir.insertLocked(dstName, target)
	if target.IsDir() {
		// moving a directory re-homes its ".." reference
		target.dir.parentIno.Store(dstDir.Ino)
	}
	now := time.Now()
	srcDir.touchCMLocked(now)
	if dstDir != srcDir {
		dstDir.touchCMLocked(now)
	}
}

// renameFixups applies the link-count consequences of a completed move, with
// no directory lock held.
func (t *Tree) renameFixups(srcDir, dstDir, prior *Inode, movedDir, priorIsDir bool) {
	if movedDir {
		// ".." accounting follows the directory across parents
		_ = t.store.Link(dstDir)
		t.store.Unlink(srcDir)
	}
	if prior == nil {
		return
	}
	t.store.Unlink(prior)
	if priorIsDir {
		t.store.Unlink(prior)  // its own "." reference
		t.store.Unlink(dstDir) // its ".." back-reference
	}
}

// isAncestor reports whether dir is node itself or an ancestor of node,
// following the weak ".." chain up to the root (its own parent). Callers must
// hold renameMu so no concurrent move can re-home the chain mid-walk.
func (t *Tree) isAncestor(dir, node *Inode) bool {
	for {
		if node == dir {
			return true
		}
		parent := node.ParentIno()
		if parent == 0 || parent == node.Ino {
			return false
		}
		next, ok := t.store.Get(parent)
		if !ok {
			return false
		}
		node = next
	}
}

// Entries snapshots the directory's entry list in insertion order.
func (t *Tree) Entries(dir *Inode) ([]models.Dirent, error) {
	if !dir.IsDir() {
		return nil, ErrNotDirectory
	}
	dir.dir.mu.Lock()
	defer dir.dir.mu.Unlock()

	out := make([]models.Dirent, 0, len(dir.dir.order))
	for _, name := range dir.dir.order {
		e := dir.dir.entries[name]
		out = append(out, models.Dirent{Name: name, Ino: e.Ino, Type: e.Type})
	}
	return out, nil
}

// EntryAt returns the entry at the given insertion-order offset, or
// ErrNotFound past the end. This is the dirent-at-a-time surface the kernel
// client's iterate_dir uses.
func (t *Tree) EntryAt(dir *Inode, offset uint64) (*models.Dirent, error) {
	if !dir.IsDir() {
		return nil, ErrNotDirectory
	}
	dir.dir.mu.Lock()
	defer dir.dir.mu.Unlock()

	if offset >= uint64(len(dir.dir.order)) {
		return nil, ErrNotFound
	}
	name := dir.dir.order[offset]
	e := dir.dir.entries[name]
	return &models.Dirent{Name: name, Ino: e.Ino, Type: e.Type}, nil
}

// IsEmpty reports whether the directory has no entries.
func (t *Tree) IsEmpty(dir *Inode) (bool, error) {
	if !dir.IsDir() {
		return false, ErrNotDirectory
	}
	dir.dir.mu.Lock()
	defer dir.dir.mu.Unlock()
	return len(dir.dir.entries) == 0, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidArg
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return ErrInvalidArg
		}
	}
	return nil
}
