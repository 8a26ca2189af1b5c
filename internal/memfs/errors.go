package memfs

import "errors"

// Core error taxonomy. The service layer maps these onto kernel error codes;
// nothing is recovered internally.
var (
	ErrExist         = errors.New("entry already exists")
	ErrNotFound      = errors.New("entry not found")
	ErrNotEmpty      = errors.New("directory not empty")
	ErrIsDirectory   = errors.New("is a directory")
	ErrNotDirectory  = errors.New("not a directory")
	ErrNoSpace       = errors.New("no space left")
	ErrFileTooLarge  = errors.New("file too large")
	ErrStale         = errors.New("inode is no longer live")
	ErrInvalidOption = errors.New("invalid mount option")
	ErrInvalidArg    = errors.New("invalid argument")
	ErrInvalidState  = errors.New("mount is not in a valid state")
)
