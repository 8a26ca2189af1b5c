package service

import (
	"context"
	"log/slog"

	"github.com/osdev-labs/myfs/server/internal/memfs"
	"github.com/osdev-labs/myfs/server/internal/models"
	"github.com/osdev-labs/myfs/server/internal/pkg/kerrors"
	"github.com/osdev-labs/myfs/server/pkg/logging"
	"github.com/osdev-labs/myfs/server/pkg/logging/slogext"
)

// FileSystemService is the public operation surface of the filesystem. Every
// call addresses one mount by its token and is safe for concurrent use.
type FileSystemService interface {
	Mount(ctx context.Context, token string, options string) (*models.MountInfo, error)
	Unmount(ctx context.Context, token string) error
	Statfs(ctx context.Context, token string) (*models.MountInfo, error)

	GetRoot(ctx context.Context, token string) (*models.NodeMeta, error)
	Lookup(ctx context.Context, token string, parentIno int64, name string) (*models.NodeMeta, error)
	IterateDir(ctx context.Context, token string, dirIno int64, offset *uint64) (*models.Dirent, error)

	CreateFile(ctx context.Context, token string, parentIno int64, name string, mode uint32) (*models.NodeMeta, error)
	CreateDir(ctx context.Context, token string, parentIno int64, name string, mode uint32) (*models.NodeMeta, error)
	Symlink(ctx context.Context, token string, parentIno int64, name string, target string) (*models.NodeMeta, error)
	Mknod(ctx context.Context, token string, parentIno int64, name string, mode uint32, dev models.DeviceID) (*models.NodeMeta, error)
	Tmpfile(ctx context.Context, token string, mode uint32) (*models.NodeMeta, error)
	ReleaseHandle(ctx context.Context, token string, ino int64) error

	Unlink(ctx context.Context, token string, parentIno int64, name string) error
	Rmdir(ctx context.Context, token string, parentIno int64, name string) error
	Link(ctx context.Context, token string, targetIno int64, parentIno int64, name string) error
	Rename(ctx context.Context, token string, srcParentIno int64, srcName string, dstParentIno int64, dstName string) error

	Read(ctx context.Context, token string, ino int64, buffer []byte, offset int64) (int64, error)
	Write(ctx context.Context, token string, ino int64, data []byte, length uint64, offset int64) (int64, error)
	Readlink(ctx context.Context, token string, ino int64) (string, error)
	CountLinks(ctx context.Context, token string, ino int64) (uint32, error)
}

type fileSystemService struct {
	registry *memfs.Registry
}

func NewFileSystemService(registry *memfs.Registry) FileSystemService {
	return &fileSystemService{registry: registry}
}

// mount resolves a token to a mount that accepts operations.
func (s *fileSystemService) mount(token string) (*memfs.Mount, error) {
	m, err := s.registry.Get(token)
	if err != nil {
		return nil, serviceErr(kerrors.ENOENT, "no such mount")
	}
	if err := m.Ready(); err != nil {
		return nil, mapCoreError(err)
	}
	return m, nil
}

// dirInode resolves an inode number that must be a directory.
func dirInode(m *memfs.Mount, ino int64) (*memfs.Inode, error) {
	inode, ok := m.Store().Get(ino)
	if !ok {
		return nil, serviceErr(kerrors.ENOENT, "no such inode")
	}
	if !inode.IsDir() {
		return nil, serviceErr(kerrors.ENOTDIR, "not a directory")
	}
	return inode, nil
}

// checkWrite enforces the owner-write bit on the directory being mutated.
func checkWrite(dir *memfs.Inode) error {
	if dir.Mode&0o200 == 0 {
		return serviceErr(kerrors.EACCES, "permission denied")
	}
	return nil
}

// resolveMode applies the mount default when the caller passed no mode bits.
func resolveMode(m *memfs.Mount, mode uint32) uint32 {
	if mode&memfs.S_IALLUGO == 0 {
		return (mode &^ memfs.S_IALLUGO) | m.DefaultMode()
	}
	return mode
}

func meta(m *memfs.Mount, inode *memfs.Inode, parentIno int64) *models.NodeMeta {
	return &models.NodeMeta{
		Ino:       inode.Ino,
		ParentIno: parentIno,
		Type:      inode.Type,
		Mode:      inode.Mode,
		Size:      m.Store().Size(inode),
		Nlink:     m.Store().Nlink(inode),
	}
}

func (s *fileSystemService) Mount(ctx context.Context, token string, options string) (*models.MountInfo, error) {
	const op = "service.fileSystemService.Mount"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Mount", slog.String("token", token), slog.String("options", options))

	m, err := s.registry.Mount(token, options)
	if err != nil {
		logger.Error("Failed to mount", slogext.Err(err), slog.String("token", token))
		return nil, mapCoreError(err)
	}

	info := m.Info()
	logger.Info("Mounted",
		slog.String("token", m.Token),
		slog.String("options", info.Options),
	)
	return &info, nil
}

func (s *fileSystemService) Unmount(ctx context.Context, token string) error {
	const op = "service.fileSystemService.Unmount"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Unmount", slog.String("token", token))

	if err := s.registry.Unmount(token); err != nil {
		logger.Error("Failed to unmount", slogext.Err(err), slog.String("token", token))
		return mapCoreError(err)
	}

	logger.Info("Unmounted", slog.String("token", token))
	return nil
}

func (s *fileSystemService) Statfs(ctx context.Context, token string) (*models.MountInfo, error) {
	m, err := s.mount(token)
	if err != nil {
		return nil, err
	}
	info := m.Info()
	return &info, nil
}

func (s *fileSystemService) GetRoot(ctx context.Context, token string) (*models.NodeMeta, error) {
	const op = "service.fileSystemService.GetRoot"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("GetRoot", slog.String("token", token))

	m, err := s.mount(token)
	if err != nil {
		return nil, err
	}

	root := m.Root()
	return meta(m, root, root.Ino), nil
}

func (s *fileSystemService) Lookup(ctx context.Context, token string, parentIno int64, name string) (*models.NodeMeta, error) {
	const op = "service.fileSystemService.Lookup"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Lookup",
		slog.String("token", token),
		slog.Int64("parent_ino", parentIno),
		slog.String("name", name),
	)

	m, err := s.mount(token)
	if err != nil {
		return nil, err
	}
	parent, err := dirInode(m, parentIno)
	if err != nil {
		return nil, err
	}

	inode, err := m.Tree().Lookup(parent, name)
	if err != nil {
		return nil, mapCoreError(err)
	}
	return meta(m, inode, parentIno), nil
}

func (s *fileSystemService) IterateDir(ctx context.Context, token string, dirIno int64, offset *uint64) (*models.Dirent, error) {
	const op = "service.fileSystemService.IterateDir"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("IterateDir",
		slog.String("token", token),
		slog.Int64("dir_ino", dirIno),
		slog.Uint64("offset", *offset),
	)

	m, err := s.mount(token)
	if err != nil {
		return nil, err
	}
	dir, err := dirInode(m, dirIno)
	if err != nil {
		return nil, err
	}

	dirent, err := m.Tree().EntryAt(dir, *offset)
	if err != nil {
		return nil, mapCoreError(err)
	}
	*offset++
	return dirent, nil
}

func (s *fileSystemService) CreateFile(ctx context.Context, token string, parentIno int64, name string, mode uint32) (*models.NodeMeta, error) {
	const op = "service.fileSystemService.CreateFile"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("CreateFile",
		slog.String("token", token),
		slog.Int64("parent_ino", parentIno),
		slog.String("name", name),
		slog.Uint64("mode", uint64(mode)),
	)

	m, err := s.mount(token)
	if err != nil {
		return nil, err
	}
	parent, err := dirInode(m, parentIno)
	if err != nil {
		return nil, err
	}
	if err := checkWrite(parent); err != nil {
		return nil, err
	}

	inode, err := m.Store().Allocate(models.NodeTypeFile, resolveMode(m, mode), models.DeviceID{})
	if err != nil {
		logger.Error("Failed to allocate inode", slogext.Err(err), slog.String("name", name))
		return nil, mapCoreError(err)
	}
	if err := m.Tree().Insert(parent, name, inode); err != nil {
		m.Store().Unlink(inode) // fresh, nlink 0: destroys it
		return nil, mapCoreError(err)
	}

	logger.Debug("File created", slog.String("name", name), slog.Int64("ino", inode.Ino))
	return meta(m, inode, parentIno), nil
}

func (s *fileSystemService) CreateDir(ctx context.Context, token string, parentIno int64, name string, mode uint32) (*models.NodeMeta, error) {
	const op = "service.fileSystemService.CreateDir"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("CreateDir",
		slog.String("token", token),
		slog.Int64("parent_ino", parentIno),
		slog.String("name", name),
		slog.Uint64("mode", uint64(mode)),
	)

	m, err := s.mount(token)
	if err != nil {
		return nil, err
	}
	parent, err := dirInode(m, parentIno)
	if err != nil {
		return nil, err
	}
	if err := checkWrite(parent); err != nil {
		return nil, err
	}

	inode, err := m.Store().Allocate(models.NodeTypeDir, resolveMode(m, mode), models.DeviceID{})
	if err != nil {
		logger.Error("Failed to allocate inode", slogext.Err(err), slog.String("name", name))
		return nil, mapCoreError(err)
	}
	if err := m.Tree().Insert(parent, name, inode); err != nil {
		m.Store().Unlink(inode)
		m.Store().Unlink(inode)
		return nil, mapCoreError(err)
	}
	// the new directory's ".." adds a reference to the parent
	if err := m.Store().Link(parent); err != nil {
		return nil, mapCoreError(err)
	}

	logger.Debug("Directory created", slog.String("name", name), slog.Int64("ino", inode.Ino))
	return meta(m, inode, parentIno), nil
}

func (s *fileSystemService) Symlink(ctx context.Context, token string, parentIno int64, name string, target string) (*models.NodeMeta, error) {
	const op = "service.fileSystemService.Symlink"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Symlink",
		slog.String("token", token),
		slog.Int64("parent_ino", parentIno),
		slog.String("name", name),
		slog.String("target", target),
	)

	m, err := s.mount(token)
	if err != nil {
		return nil, err
	}
	parent, err := dirInode(m, parentIno)
	if err != nil {
		return nil, err
	}
	if err := checkWrite(parent); err != nil {
		return nil, err
	}
	if target == "" {
		return nil, serviceErr(kerrors.EINVAL, "empty symlink target")
	}

	// symlinks are always created S_IRWXUGO, like ramfs
	inode, err := m.Store().AllocateSymlink(target, memfs.S_IRWXUGO)
	if err != nil {
		logger.Error("Failed to allocate inode", slogext.Err(err), slog.String("name", name))
		return nil, mapCoreError(err)
	}
	if err := m.Tree().Insert(parent, name, inode); err != nil {
		m.Store().Unlink(inode)
		return nil, mapCoreError(err)
	}

	logger.Debug("Symlink created", slog.String("name", name), slog.Int64("ino", inode.Ino))
	return meta(m, inode, parentIno), nil
}

func (s *fileSystemService) Mknod(ctx context.Context, token string, parentIno int64, name string, mode uint32, dev models.DeviceID) (*models.NodeMeta, error) {
	const op = "service.fileSystemService.Mknod"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Mknod",
		slog.String("token", token),
		slog.Int64("parent_ino", parentIno),
		slog.String("name", name),
		slog.Uint64("mode", uint64(mode)),
	)

	m, err := s.mount(token)
	if err != nil {
		return nil, err
	}
	parent, err := dirInode(m, parentIno)
	if err != nil {
		return nil, err
	}
	if err := checkWrite(parent); err != nil {
		return nil, err
	}

	kind, err := nodeTypeFromMode(mode)
	if err != nil {
		return nil, err
	}

	inode, err := m.Store().Allocate(kind, resolveMode(m, mode), dev)
	if err != nil {
		logger.Error("Failed to allocate inode", slogext.Err(err), slog.String("name", name))
		return nil, mapCoreError(err)
	}
	if err := m.Tree().Insert(parent, name, inode); err != nil {
		m.Store().Unlink(inode)
		return nil, mapCoreError(err)
	}

	logger.Debug("Node created",
		slog.String("name", name),
		slog.Int64("ino", inode.Ino),
		slog.Int("type", int(kind)),
	)
	return meta(m, inode, parentIno), nil
}

// nodeTypeFromMode dispatches mknod's mode type bits, the init_special_inode
// switch. mkdir has its own call, so directories are rejected here.
func nodeTypeFromMode(mode uint32) (models.NodeType, error) {
	switch mode & memfs.S_IFMT {
	case 0, memfs.S_IFREG:
		return models.NodeTypeFile, nil
	case memfs.S_IFCHR:
		return models.NodeTypeCharDev, nil
	case memfs.S_IFBLK:
		return models.NodeTypeBlkDev, nil
	case memfs.S_IFIFO:
		return models.NodeTypeFifo, nil
	case memfs.S_IFSOCK:
		return models.NodeTypeSocket, nil
	}
	return 0, serviceErr(kerrors.EINVAL, "unsupported node type")
}

func (s *fileSystemService) Tmpfile(ctx context.Context, token string, mode uint32) (*models.NodeMeta, error) {
	const op = "service.fileSystemService.Tmpfile"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Tmpfile", slog.String("token", token), slog.Uint64("mode", uint64(mode)))

	m, err := s.mount(token)
	if err != nil {
		return nil, err
	}

	// anonymous: never inserted into a directory, kept alive by the handle
	inode, err := m.Store().Allocate(models.NodeTypeFile, resolveMode(m, mode), models.DeviceID{})
	if err != nil {
		logger.Error("Failed to allocate inode", slogext.Err(err))
		return nil, mapCoreError(err)
	}
	m.Store().Retain(inode)

	logger.Debug("Tmpfile created", slog.Int64("ino", inode.Ino))
	return meta(m, inode, 0), nil
}

func (s *fileSystemService) ReleaseHandle(ctx context.Context, token string, ino int64) error {
	const op = "service.fileSystemService.ReleaseHandle"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("ReleaseHandle", slog.String("token", token), slog.Int64("ino", ino))

	m, err := s.mount(token)
	if err != nil {
		return err
	}
	inode, ok := m.Store().Get(ino)
	if !ok {
		return serviceErr(kerrors.ENOENT, "no such inode")
	}
	m.Store().Release(inode)
	return nil
}

func (s *fileSystemService) Unlink(ctx context.Context, token string, parentIno int64, name string) error {
	const op = "service.fileSystemService.Unlink"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Unlink",
		slog.String("token", token),
		slog.Int64("parent_ino", parentIno),
		slog.String("name", name),
	)

	m, err := s.mount(token)
	if err != nil {
		return err
	}
	parent, err := dirInode(m, parentIno)
	if err != nil {
		return err
	}
	if err := checkWrite(parent); err != nil {
		return err
	}

	target, err := m.Tree().Lookup(parent, name)
	if err != nil {
		return mapCoreError(err)
	}
	if target.IsDir() {
		return serviceErr(kerrors.EISDIR, "cannot unlink directory")
	}

	if _, err := m.Tree().Remove(parent, name); err != nil {
		return mapCoreError(err)
	}

	logger.Debug("Unlinked", slog.String("name", name), slog.Int64("ino", target.Ino))
	return nil
}

func (s *fileSystemService) Rmdir(ctx context.Context, token string, parentIno int64, name string) error {
	const op = "service.fileSystemService.Rmdir"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Rmdir",
		slog.String("token", token),
		slog.Int64("parent_ino", parentIno),
		slog.String("name", name),
	)

	m, err := s.mount(token)
	if err != nil {
		return err
	}
	parent, err := dirInode(m, parentIno)
	if err != nil {
		return err
	}
	if err := checkWrite(parent); err != nil {
		return err
	}

	removed, err := m.Tree().RemoveDir(parent, name)
	if err != nil {
		return mapCoreError(err)
	}

	logger.Debug("Directory removed", slog.String("name", name), slog.Int64("ino", removed.Ino))
	return nil
}

func (s *fileSystemService) Link(ctx context.Context, token string, targetIno int64, parentIno int64, name string) error {
	const op = "service.fileSystemService.Link"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Link",
		slog.String("token", token),
		slog.Int64("target_ino", targetIno),
		slog.Int64("parent_ino", parentIno),
		slog.String("name", name),
	)

	m, err := s.mount(token)
	if err != nil {
		return err
	}
	parent, err := dirInode(m, parentIno)
	if err != nil {
		return err
	}
	if err := checkWrite(parent); err != nil {
		return err
	}

	target, ok := m.Store().Get(targetIno)
	if !ok {
		return serviceErr(kerrors.ENOENT, "target not found")
	}

	if err := m.Tree().LinkExisting(parent, name, target); err != nil {
		return mapCoreError(err)
	}

	logger.Debug("Hard link created", slog.String("name", name), slog.Int64("target_ino", targetIno))
	return nil
}

func (s *fileSystemService) Rename(ctx context.Context, token string, srcParentIno int64, srcName string, dstParentIno int64, dstName string) error {
	const op = "service.fileSystemService.Rename"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Rename",
		slog.String("token", token),
		slog.Int64("src_parent_ino", srcParentIno),
		slog.String("src_name", srcName),
		slog.Int64("dst_parent_ino", dstParentIno),
		slog.String("dst_name", dstName),
	)

	m, err := s.mount(token)
	if err != nil {
		return err
	}
	srcParent, err := dirInode(m, srcParentIno)
	if err != nil {
		return err
	}
	dstParent, err := dirInode(m, dstParentIno)
	if err != nil {
		return err
	}
	if err := checkWrite(srcParent); err != nil {
		return err
	}
	if err := checkWrite(dstParent); err != nil {
		return err
	}

	if err := m.Tree().Rename(srcParent, srcName, dstParent, dstName); err != nil {
		return mapCoreError(err)
	}

	logger.Debug("Renamed",
		slog.String("src_name", srcName),
		slog.String("dst_name", dstName),
	)
	return nil
}

func (s *fileSystemService) Read(ctx context.Context, token string, ino int64, buffer []byte, offset int64) (int64, error) {
	const op = "service.fileSystemService.Read"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Read",
		slog.String("token", token),
		slog.Int64("ino", ino),
		slog.Int64("offset", offset),
		slog.Int("buffer_len", len(buffer)),
	)

	m, err := s.mount(token)
	if err != nil {
		return 0, err
	}
	inode, ok := m.Store().Get(ino)
	if !ok {
		return 0, serviceErr(kerrors.ENOENT, "no such inode")
	}
	if inode.Type != models.NodeTypeFile {
		return 0, serviceErr(kerrors.EISDIR, "not a regular file")
	}

	n, err := m.Content().ReadAt(ino, buffer, offset)
	if err != nil {
		logger.Error("Failed to read content", slogext.Err(err), slog.Int64("ino", ino))
		return 0, mapCoreError(err)
	}
	return int64(n), nil
}

func (s *fileSystemService) Write(ctx context.Context, token string, ino int64, data []byte, length uint64, offset int64) (int64, error) {
	const op = "service.fileSystemService.Write"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Write",
		slog.String("token", token),
		slog.Int64("ino", ino),
		slog.Int64("offset", offset),
		slog.Uint64("length", length),
	)

	if length > uint64(len(data)) {
		return 0, serviceErr(kerrors.EINVAL, "length exceeds buffer size")
	}

	m, err := s.mount(token)
	if err != nil {
		return 0, err
	}
	inode, ok := m.Store().Get(ino)
	if !ok {
		return 0, serviceErr(kerrors.ENOENT, "no such inode")
	}
	if inode.Type != models.NodeTypeFile {
		return 0, serviceErr(kerrors.EISDIR, "not a regular file")
	}

	n, err := m.Content().WriteAt(ino, data[:length], offset)
	if err != nil {
		logger.Error("Failed to write content", slogext.Err(err), slog.Int64("ino", ino))
		return 0, mapCoreError(err)
	}

	logger.Debug("Write successful", slog.Int64("ino", ino), slog.Int("bytes_written", n))
	return int64(n), nil
}

func (s *fileSystemService) Readlink(ctx context.Context, token string, ino int64) (string, error) {
	const op = "service.fileSystemService.Readlink"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Readlink", slog.String("token", token), slog.Int64("ino", ino))

	m, err := s.mount(token)
	if err != nil {
		return "", err
	}
	inode, ok := m.Store().Get(ino)
	if !ok {
		return "", serviceErr(kerrors.ENOENT, "no such inode")
	}
	if inode.Type != models.NodeTypeSymlink {
		return "", serviceErr(kerrors.EINVAL, "not a symlink")
	}
	return inode.Target(), nil
}

func (s *fileSystemService) CountLinks(ctx context.Context, token string, ino int64) (uint32, error) {
	const op = "service.fileSystemService.CountLinks"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("CountLinks", slog.String("token", token), slog.Int64("ino", ino))

	m, err := s.mount(token)
	if err != nil {
		return 0, err
	}
	inode, ok := m.Store().Get(ino)
	if !ok {
		return 0, serviceErr(kerrors.ENOENT, "no such inode")
	}
	return m.Store().Nlink(inode), nil
}
