package memfs

import "sync"

// ContentStore is the byte-storage collaborator for regular files. The
// metadata core only ever calls Allocate and Release; the surrounding I/O
// layer drives reads and writes. Implementations must be safe for concurrent
// use and must never be invoked while a directory lock is held.
type ContentStore interface {
	Allocate(ino int64)
	ReadAt(ino int64, p []byte, off int64) (int, error)
	WriteAt(ino int64, p []byte, off int64) (int, error)
	Truncate(ino int64, size int64) error
	Release(ino int64)
	Size(ino int64) int64
}

// PagedStore keeps file contents in fixed-size memory pages, growing on
// write up to maxFileSize.
type PagedStore struct {
	mu          sync.RWMutex
	files       map[int64]*pagedFile
	blockSize   int64
	maxFileSize int64
}

type pagedFile struct {
	mu    sync.RWMutex
	pages [][]byte
	size  int64
}

func NewPagedStore(blockSize, maxFileSize int64) *PagedStore {
	return &PagedStore{
		files:       make(map[int64]*pagedFile),
		blockSize:   blockSize,
		maxFileSize: maxFileSize,
	}
}

func (s *PagedStore) Allocate(ino int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[ino]; !ok {
		s.files[ino] = &pagedFile{}
	}
}

func (s *PagedStore) Release(ino int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, ino)
}

func (s *PagedStore) get(ino int64) (*pagedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[ino]
	return f, ok
}

func (s *PagedStore) Size(ino int64) int64 {
	f, ok := s.get(ino)
	if !ok {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size
}

// ReadAt copies up to len(p) bytes starting at off. Reading at or past the
// end of file returns 0, nil (EOF is the caller's concern).
func (s *PagedStore) ReadAt(ino int64, p []byte, off int64) (int, error) {
	f, ok := s.get(ino)
	if !ok {
		return 0, ErrNotFound
	}
	if off < 0 {
		return 0, ErrInvalidArg
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if off >= f.size {
		return 0, nil
	}
	toRead := int64(len(p))
	if avail := f.size - off; toRead > avail {
		toRead = avail
	}

	read := int64(0)
	for read < toRead {
		page := off / s.blockSize
		pageOff := off % s.blockSize
		n := copy(p[read:toRead], f.pages[page][pageOff:])
		read += int64(n)
		off += int64(n)
	}
	return int(read), nil
}

// WriteAt stores len(p) bytes at off, extending the file (zero-filled pages)
// as needed.
func (s *PagedStore) WriteAt(ino int64, p []byte, off int64) (int, error) {
	f, ok := s.get(ino)
	if !ok {
		return 0, ErrNotFound
	}
	if off < 0 {
		return 0, ErrInvalidArg
	}
	end := off + int64(len(p))
	if s.maxFileSize > 0 && end > s.maxFileSize {
		return 0, ErrFileTooLarge
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.grow(end, s.blockSize)

	written := int64(0)
	pos := off
	for written < int64(len(p)) {
		page := pos / s.blockSize
		pageOff := pos % s.blockSize
		n := copy(f.pages[page][pageOff:], p[written:])
		written += int64(n)
		pos += int64(n)
	}
	if end > f.size {
		f.size = end
	}
	return int(written), nil
}

// Truncate sets the file size, discarding trailing pages or zero-extending.
func (s *PagedStore) Truncate(ino int64, size int64) error {
	f, ok := s.get(ino)
	if !ok {
		return ErrNotFound
	}
	if size < 0 {
		return ErrInvalidArg
	}
	if s.maxFileSize > 0 && size > s.maxFileSize {
		return ErrFileTooLarge
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if size > f.size {
		f.grow(size, s.blockSize)
	} else {
		keep := (size + s.blockSize - 1) / s.blockSize
		f.pages = f.pages[:keep]
		// zero the tail of the last kept page so a later extend reads zeros
		if size%s.blockSize != 0 && keep > 0 {
			tail := f.pages[keep-1][size%s.blockSize:]
			for i := range tail {
				tail[i] = 0
			}
		}
	}
	f.size = size
	return nil
}

func (f *pagedFile) grow(to int64, blockSize int64) {
	need := (to + blockSize - 1) / blockSize
	for int64(len(f.pages)) < need {
		f.pages = append(f.pages, make([]byte, blockSize))
	}
}
