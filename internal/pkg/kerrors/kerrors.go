package kerrors

// Linux kernel error codes surfaced to the client module.
const (
	EPERM     int64 = 1  // Operation not permitted
	ENOENT    int64 = 2  // No such file or directory
	EACCES    int64 = 13 // Permission denied
	ENOMEM    int64 = 12 // Out of memory
	EEXIST    int64 = 17 // File exists
	ENOTDIR   int64 = 20 // Not a directory
	EISDIR    int64 = 21 // Is a directory
	EINVAL    int64 = 22 // Invalid argument
	EFBIG     int64 = 27 // File too large
	ENOSPC    int64 = 28 // No space left on device
	EMLINK    int64 = 31 // Too many links
	ENOTEMPTY int64 = 39 // Directory not empty

	ENOMEM_NEG int64 = -ENOMEM // Out of memory (negative)
	EINVAL_NEG int64 = -EINVAL // Invalid argument (negative)
)
