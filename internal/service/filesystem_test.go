package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osdev-labs/myfs/server/internal/memfs"
	"github.com/osdev-labs/myfs/server/internal/models"
	"github.com/osdev-labs/myfs/server/internal/pkg/kerrors"
	"github.com/osdev-labs/myfs/server/pkg/logging"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return logging.MakeContextWithLogger(context.Background(), logger)
}

// newService mounts one default filesystem and returns its token and root.
func newService(t *testing.T, options string) (FileSystemService, context.Context, string, int64) {
	t.Helper()
	ctx := testContext()
	svc := NewFileSystemService(memfs.NewRegistry(memfs.Limits{}))

	info, err := svc.Mount(ctx, "", options)
	require.NoError(t, err)
	require.NotEmpty(t, info.Token)

	root, err := svc.GetRoot(ctx, info.Token)
	require.NoError(t, err)
	return svc, ctx, info.Token, root.Ino
}

func assertCode(t *testing.T, err error, code int64) {
	t.Helper()
	require.Error(t, err)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, code, svcErr.GetCode())
}

func TestMountAndStatfs(t *testing.T) {
	svc, ctx, token, _ := newService(t, "mode=750")

	info, err := svc.Statfs(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, memfs.Magic, info.Magic)
	assert.Equal(t, "mode=750", info.Options)
	assert.Equal(t, int64(1), info.Inodes, "a fresh mount holds only the root")

	_, err = svc.Statfs(ctx, "unknown")
	assertCode(t, err, kerrors.ENOENT)
}

func TestMountDuplicateToken(t *testing.T) {
	ctx := testContext()
	svc := NewFileSystemService(memfs.NewRegistry(memfs.Limits{}))

	_, err := svc.Mount(ctx, "fixed", "")
	require.NoError(t, err)
	_, err = svc.Mount(ctx, "fixed", "")
	assertCode(t, err, kerrors.EEXIST)
}

func TestMountBadOptions(t *testing.T) {
	ctx := testContext()
	svc := NewFileSystemService(memfs.NewRegistry(memfs.Limits{}))

	_, err := svc.Mount(ctx, "", "mode=xyz")
	assertCode(t, err, kerrors.EINVAL)
}

func TestGetRoot(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	root, err := svc.GetRoot(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeDir, root.Type)
	assert.Equal(t, memfs.S_IFDIR|memfs.DefaultMode, root.Mode)
	assert.Equal(t, uint32(2), root.Nlink)
	assert.Equal(t, rootIno, root.ParentIno, "the root is its own parent")
}

func TestCreateFileAndLookup(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	created, err := svc.CreateFile(ctx, token, rootIno, "a.txt", 0o640)
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeFile, created.Type)
	assert.Equal(t, memfs.S_IFREG|0o640, created.Mode)
	assert.Equal(t, uint32(1), created.Nlink)

	found, err := svc.Lookup(ctx, token, rootIno, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, created.Ino, found.Ino)

	_, err = svc.Lookup(ctx, token, rootIno, "missing")
	assertCode(t, err, kerrors.ENOENT)

	_, err = svc.CreateFile(ctx, token, rootIno, "a.txt", 0o640)
	assertCode(t, err, kerrors.EEXIST)
}

func TestCreateFileInheritsMountMode(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "mode=700")

	created, err := svc.CreateFile(ctx, token, rootIno, "f", 0)
	require.NoError(t, err)
	assert.Equal(t, memfs.S_IFREG|0o700, created.Mode)
}

func TestCreateDirAndRemove(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	dir, err := svc.CreateDir(ctx, token, rootIno, "sub", 0o755)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), dir.Nlink)

	root, err := svc.GetRoot(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), root.Nlink, "mkdir adds the child's .. reference")

	// non-empty directory refuses removal
	_, err = svc.CreateFile(ctx, token, dir.Ino, "keep", 0o644)
	require.NoError(t, err)
	err = svc.Rmdir(ctx, token, rootIno, "sub")
	assertCode(t, err, kerrors.ENOTEMPTY)

	require.NoError(t, svc.Unlink(ctx, token, dir.Ino, "keep"))
	require.NoError(t, svc.Rmdir(ctx, token, rootIno, "sub"))

	root, err = svc.GetRoot(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), root.Nlink)

	_, err = svc.Lookup(ctx, token, rootIno, "sub")
	assertCode(t, err, kerrors.ENOENT)
}

func TestWriteProtectedDirectory(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "mode=500")

	_, err := svc.CreateFile(ctx, token, rootIno, "f", 0o644)
	assertCode(t, err, kerrors.EACCES)
	_, err = svc.CreateDir(ctx, token, rootIno, "d", 0o755)
	assertCode(t, err, kerrors.EACCES)
	err = svc.Unlink(ctx, token, rootIno, "f")
	assertCode(t, err, kerrors.EACCES)
}

func TestUnlinkRejectsDirectory(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	_, err := svc.CreateDir(ctx, token, rootIno, "sub", 0o755)
	require.NoError(t, err)

	err = svc.Unlink(ctx, token, rootIno, "sub")
	assertCode(t, err, kerrors.EISDIR)
}

func TestRmdirRejectsFile(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	_, err := svc.CreateFile(ctx, token, rootIno, "f", 0o644)
	require.NoError(t, err)

	err = svc.Rmdir(ctx, token, rootIno, "f")
	assertCode(t, err, kerrors.ENOTDIR)
}

func TestHardLinkAccounting(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	created, err := svc.CreateFile(ctx, token, rootIno, "a", 0o644)
	require.NoError(t, err)

	require.NoError(t, svc.Link(ctx, token, created.Ino, rootIno, "b"))
	n, err := svc.CountLinks(ctx, token, created.Ino)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	require.NoError(t, svc.Unlink(ctx, token, rootIno, "a"))
	n, err = svc.CountLinks(ctx, token, created.Ino)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	require.NoError(t, svc.Unlink(ctx, token, rootIno, "b"))
	_, err = svc.CountLinks(ctx, token, created.Ino)
	assertCode(t, err, kerrors.ENOENT)
}

func TestSymlinkReadlink(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	link, err := svc.Symlink(ctx, token, rootIno, "l", "/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeSymlink, link.Type)
	assert.Equal(t, memfs.S_IFLNK|memfs.S_IRWXUGO, link.Mode)
	assert.Equal(t, int64(len("/etc/hosts")), link.Size)

	target, err := svc.Readlink(ctx, token, link.Ino)
	require.NoError(t, err)
	assert.Equal(t, "/etc/hosts", target)

	_, err = svc.Symlink(ctx, token, rootIno, "empty", "")
	assertCode(t, err, kerrors.EINVAL)

	file, err := svc.CreateFile(ctx, token, rootIno, "f", 0o644)
	require.NoError(t, err)
	_, err = svc.Readlink(ctx, token, file.Ino)
	assertCode(t, err, kerrors.EINVAL)
}

func TestMknod(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	dev, err := svc.Mknod(ctx, token, rootIno, "null",
		memfs.S_IFCHR|0o666, models.DeviceID{Major: 1, Minor: 3})
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeCharDev, dev.Type)
	assert.Equal(t, memfs.S_IFCHR|0o666, dev.Mode)

	fifo, err := svc.Mknod(ctx, token, rootIno, "pipe", memfs.S_IFIFO|0o600, models.DeviceID{})
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeFifo, fifo.Type)

	// plain mode bits make a regular file, like mknod(2) with S_IFREG
	reg, err := svc.Mknod(ctx, token, rootIno, "plain", 0o644, models.DeviceID{})
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeFile, reg.Type)

	_, err = svc.Mknod(ctx, token, rootIno, "bad", memfs.S_IFDIR|0o755, models.DeviceID{})
	assertCode(t, err, kerrors.EINVAL)
}

func TestIterateDir(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	for _, name := range []string{"one", "two", "three"} {
		_, err := svc.CreateFile(ctx, token, rootIno, name, 0o644)
		require.NoError(t, err)
	}

	var names []string
	offset := uint64(0)
	for {
		d, err := svc.IterateDir(ctx, token, rootIno, &offset)
		if err != nil {
			assertCode(t, err, kerrors.ENOENT)
			break
		}
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"one", "two", "three"}, names)
	assert.Equal(t, uint64(3), offset)
}

func TestRenameAcrossDirectories(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	src, err := svc.CreateDir(ctx, token, rootIno, "src", 0o755)
	require.NoError(t, err)
	dst, err := svc.CreateDir(ctx, token, rootIno, "dst", 0o755)
	require.NoError(t, err)
	file, err := svc.CreateFile(ctx, token, src.Ino, "f", 0o644)
	require.NoError(t, err)

	require.NoError(t, svc.Rename(ctx, token, src.Ino, "f", dst.Ino, "g"))

	_, err = svc.Lookup(ctx, token, src.Ino, "f")
	assertCode(t, err, kerrors.ENOENT)
	moved, err := svc.Lookup(ctx, token, dst.Ino, "g")
	require.NoError(t, err)
	assert.Equal(t, file.Ino, moved.Ino)
}

func TestRenameIntoOwnSubtreeRejected(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	dir, err := svc.CreateDir(ctx, token, rootIno, "a", 0o755)
	require.NoError(t, err)

	err = svc.Rename(ctx, token, rootIno, "a", dir.Ino, "x")
	assertCode(t, err, kerrors.EINVAL)

	// the directory is still where it was, and the mount still tears down
	_, err = svc.Lookup(ctx, token, rootIno, "a")
	require.NoError(t, err)
	require.NoError(t, svc.Unmount(ctx, token))
}

func TestReadWrite(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	file, err := svc.CreateFile(ctx, token, rootIno, "f", 0o644)
	require.NoError(t, err)

	data := []byte("persistent until reboot")
	n, err := svc.Write(ctx, token, file.Ino, data, uint64(len(data)), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	buf := make([]byte, len(data))
	n, err = svc.Read(ctx, token, file.Ino, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, buf)

	stat, err := svc.Lookup(ctx, token, rootIno, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), stat.Size)

	// reading past the end is a zero-byte success
	n, err = svc.Read(ctx, token, file.Ino, buf, int64(len(data))+100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = svc.Write(ctx, token, file.Ino, []byte("x"), 5, 0)
	assertCode(t, err, kerrors.EINVAL)

	_, err = svc.Read(ctx, token, rootIno, buf, 0)
	assertCode(t, err, kerrors.EISDIR)
	_, err = svc.Write(ctx, token, rootIno, data, uint64(len(data)), 0)
	assertCode(t, err, kerrors.EISDIR)
}

func TestTmpfileLifecycle(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	tmp, err := svc.Tmpfile(ctx, token, 0o600)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), tmp.Nlink)

	// anonymous: invisible to the namespace
	offset := uint64(0)
	_, err = svc.IterateDir(ctx, token, rootIno, &offset)
	assertCode(t, err, kerrors.ENOENT)

	// but fully usable through its inode number
	_, err = svc.Write(ctx, token, tmp.Ino, []byte("scratch"), 7, 0)
	require.NoError(t, err)
	buf := make([]byte, 7)
	n, err := svc.Read(ctx, token, tmp.Ino, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "scratch", string(buf))

	// dropping the last handle destroys it
	require.NoError(t, svc.ReleaseHandle(ctx, token, tmp.Ino))
	_, err = svc.Read(ctx, token, tmp.Ino, buf, 0)
	assertCode(t, err, kerrors.ENOENT)
}

func TestUnmountInvalidatesToken(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	_, err := svc.CreateFile(ctx, token, rootIno, "f", 0o644)
	require.NoError(t, err)

	require.NoError(t, svc.Unmount(ctx, token))

	_, err = svc.GetRoot(ctx, token)
	assertCode(t, err, kerrors.ENOENT)
	err = svc.Unmount(ctx, token)
	assertCode(t, err, kerrors.ENOENT)
}

func TestOperationsOnMissingInode(t *testing.T) {
	svc, ctx, token, _ := newService(t, "")

	_, err := svc.Lookup(ctx, token, 424242, "x")
	assertCode(t, err, kerrors.ENOENT)
	_, err = svc.CountLinks(ctx, token, 424242)
	assertCode(t, err, kerrors.ENOENT)
	err = svc.Link(ctx, token, 424242, 424242, "x")
	assertCode(t, err, kerrors.ENOENT)
}

func TestLookupOnNonDirectory(t *testing.T) {
	svc, ctx, token, rootIno := newService(t, "")

	file, err := svc.CreateFile(ctx, token, rootIno, "f", 0o644)
	require.NoError(t, err)

	_, err = svc.Lookup(ctx, token, file.Ino, "x")
	assertCode(t, err, kerrors.ENOTDIR)
}
