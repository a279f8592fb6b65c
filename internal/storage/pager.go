package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// PageSize is the unit of both I/O and cache residency. Every page is
// exactly one B+tree node; page N lives at byte offset N*PageSize.
const PageSize = 4096

// MaxPages bounds the page cache. There is no eviction: exhausting the
// cache surfaces as a table-full condition at the statement layer.
const MaxPages = 100

var (
	// ErrCorruptFile reports a database file whose length is not a
	// multiple of the page size.
	ErrCorruptFile = errors.New("database file is corrupt")

	// ErrPageOutOfRange reports a page number beyond the cache bound.
	ErrPageOutOfRange = errors.New("page number out of range")

	// ErrInvalidChild reports a descent through an uninitialized or
	// out-of-range child pointer.
	ErrInvalidChild = errors.New("invalid child page")
)

// Pager owns the database file handle and a bounded cache of page
// buffers indexed by page number. Pages load lazily on first access and
// are written back by Flush.
type Pager struct {
	file       *os.File
	fileLength int64
	numPages   uint32
	pages      [MaxPages][]byte
}

// OpenPager opens or creates the database file at path. The file length
// must be a multiple of the page size.
func OpenPager(path string) (*Pager, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat database file: %w", err)
	}

	length := info.Size()
	if length%PageSize != 0 {
		file.Close()
		return nil, fmt.Errorf("%w: size %d is not a multiple of page size %d", ErrCorruptFile, length, PageSize)
	}

	return &Pager{
		file:       file,
		fileLength: length,
		numPages:   uint32(length / PageSize),
	}, nil
}

// NumPages returns the current page count, including pages touched in
// cache that are not yet on disk.
func (p *Pager) NumPages() uint32 {
	return p.numPages
}

// Get returns the cached buffer for pageNum, loading it from disk on a
// miss. A page past the end of the file comes back zeroed. Getting a page
// at or beyond the current count extends the count; Allocate relies on
// this to materialize fresh pages.
func (p *Pager) Get(pageNum uint32) ([]byte, error) {
	if pageNum >= MaxPages {
		return nil, fmt.Errorf("%w: page %d exceeds maximum %d", ErrPageOutOfRange, pageNum, MaxPages)
	}

	if p.pages[pageNum] == nil {
		page := make([]byte, PageSize)

		filePages := uint32(p.fileLength / PageSize)
		if p.fileLength%PageSize != 0 {
			filePages++
		}

		if pageNum <= filePages {
			_, err := p.file.ReadAt(page, int64(pageNum)*PageSize)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("read page %d: %w", pageNum, err)
			}
		}

		p.pages[pageNum] = page

		if pageNum >= p.numPages {
			p.numPages = pageNum + 1
		}
	}

	return p.pages[pageNum], nil
}

// Flush writes the cached page back to disk. Flushing an empty slot is an
// error; so is a short write.
func (p *Pager) Flush(pageNum uint32) error {
	if pageNum >= MaxPages || p.pages[pageNum] == nil {
		return fmt.Errorf("flush of unloaded page %d", pageNum)
	}

	n, err := p.file.WriteAt(p.pages[pageNum], int64(pageNum)*PageSize)
	if err != nil {
		return fmt.Errorf("write page %d: %w", pageNum, err)
	}
	if n != PageSize {
		return fmt.Errorf("short write for page %d: wrote %d of %d bytes", pageNum, n, PageSize)
	}

	end := (int64(pageNum) + 1) * PageSize
	if end > p.fileLength {
		p.fileLength = end
	}

	return nil
}

// Allocate returns the next unused page number. Pages are allocated by
// bumping a monotonic counter; there is no free list. The caller creates
// the buffer via Get and initializes it.
func (p *Pager) Allocate() uint32 {
	return p.numPages
}

// Evict drops the cached buffer for pageNum without writing it. Used when
// a merge abandons a page; the page number itself is never reused.
func (p *Pager) Evict(pageNum uint32) {
	if pageNum < MaxPages {
		p.pages[pageNum] = nil
	}
}

// Close flushes every populated slot and closes the file.
func (p *Pager) Close() error {
	for i := uint32(0); i < p.numPages; i++ {
		if p.pages[i] == nil {
			continue
		}
		if err := p.Flush(i); err != nil {
			return err
		}
		p.pages[i] = nil
	}

	if err := p.file.Close(); err != nil {
		return fmt.Errorf("close database file: %w", err)
	}
	return nil
}
