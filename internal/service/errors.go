package service

import (
	"errors"

	"github.com/osdev-labs/myfs/server/internal/memfs"
	"github.com/osdev-labs/myfs/server/internal/pkg/kerrors"
)

// ServiceError carries a kernel error code across the host boundary.
type ServiceError struct {
	Code    int64
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) GetCode() int64 {
	return e.Code
}

func serviceErr(code int64, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// mapCoreError converts a memfs error into the errno the client expects.
// Nothing is recovered: every core failure surfaces verbatim.
func mapCoreError(err error) *ServiceError {
	switch {
	case errors.Is(err, memfs.ErrExist):
		return serviceErr(kerrors.EEXIST, "entry already exists")
	case errors.Is(err, memfs.ErrNotFound):
		return serviceErr(kerrors.ENOENT, "no such entry")
	case errors.Is(err, memfs.ErrNotEmpty):
		return serviceErr(kerrors.ENOTEMPTY, "directory not empty")
	case errors.Is(err, memfs.ErrIsDirectory):
		return serviceErr(kerrors.EISDIR, "is a directory")
	case errors.Is(err, memfs.ErrNotDirectory):
		return serviceErr(kerrors.ENOTDIR, "not a directory")
	case errors.Is(err, memfs.ErrNoSpace):
		return serviceErr(kerrors.ENOSPC, "no space left on device")
	case errors.Is(err, memfs.ErrFileTooLarge):
		return serviceErr(kerrors.EFBIG, "file too large")
	case errors.Is(err, memfs.ErrStale):
		return serviceErr(kerrors.ENOENT, "inode is gone")
	case errors.Is(err, memfs.ErrInvalidOption),
		errors.Is(err, memfs.ErrInvalidArg),
		errors.Is(err, memfs.ErrInvalidState):
		return serviceErr(kerrors.EINVAL, err.Error())
	}
	return serviceErr(kerrors.ENOMEM, err.Error())
}
