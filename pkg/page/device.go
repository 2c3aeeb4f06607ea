// Package page implements the device and page-cache layer that sits
// beneath the B-tree, freelist, and BLOB manager: fixed-size page
// read/write/allocate against a single backing file, mmap'd for reads the
// way the original device abstraction does.
package page

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/nainya/hamsterdb/pkg/herr"
)

// Size is the page size for every page in an environment. It matches the
// B-tree node page size so a page pointer always addresses a whole tree
// node, freelist node, or blob-storage extent.
//
// It is a package variable rather than a per-Device field: the device,
// cache, freelist, blob manager and B-tree all compute offsets against it,
// and threading a size parameter through every one of those call sites
// would duplicate what is, in this engine, a single process-wide setting
// (an embedded engine opens exactly one environment per process in every
// caller this repo has — cmd/hamsterdb and the test suite).
// env.WithPageSize calls SetSize before the device/cache for that
// environment is constructed; see DESIGN.md for the tradeoff.
var Size uint64 = 4096

// MinSize and MaxSize bound the page sizes SetSize accepts, matching
// spec.md §6's "power of two, typically 16 KiB" guidance with headroom
// in both directions.
const (
	MinSize uint64 = 512
	MaxSize uint64 = 1 << 20
)

// SetSize changes the page size used by every Device/Cache constructed
// afterward. It must be called before OpenDiskDevice/NewMemDevice for the
// new size to take effect, and rejects anything that is not a power of
// two within [MinSize, MaxSize].
func SetSize(n uint64) error {
	if n < MinSize || n > MaxSize || n&(n-1) != 0 {
		return fmt.Errorf("page.SetSize: %d is not a power of two in [%d, %d]", n, MinSize, MaxSize)
	}
	Size = n
	return nil
}

// Device is the storage backend a page cache reads and writes through.
// DiskDevice is the production implementation; MemDevice backs
// in-memory environments used by tests and by callers who explicitly ask
// for a transient environment (spec.md's "in-memory device").
type Device interface {
	// ReadAt reads exactly Size bytes for the page at the given page
	// number.
	ReadAt(pageNo uint64) ([]byte, error)
	// WriteAt writes exactly Size bytes at the given page number.
	WriteAt(pageNo uint64, data []byte) error
	// Truncate grows or shrinks the file to hold exactly numPages pages,
	// the header page at offset 0 counted as page 0.
	Truncate(numPages uint64) error
	// Flush durably persists everything written so far.
	Flush() error
	// Close releases the device's resources.
	Close() error
	// Cipher returns the configured page cipher, or nil.
	Cipher() Cipher
}

// Cipher transforms page bytes at the device boundary, e.g. for
// at-rest encryption. Installing a non-nil Cipher disables mmap, since an
// mmap'd page must be read back untransformed.
type Cipher interface {
	Encrypt(pageNo uint64, plaintext []byte) []byte
	Decrypt(pageNo uint64, ciphertext []byte) []byte
}

// DiskDevice is a page device backed by a single file, read via mmap and
// written via pwrite, mirroring how a production KV store keeps pages
// durable without buffering the whole file in user space.
type DiskDevice struct {
	path   string
	fd     int
	cipher Cipher

	mu sync.Mutex

	mmapTotal  int
	mmapChunks [][]byte

	fileSize uint64 // bytes, excluding growth not yet reflected on disk
}

// OpenDiskDevice opens or creates the backing file at path. If a cipher
// is supplied, mmap is never used for reads (ciphertext pages must be
// decrypted through ReadAt) even though the mapping is still established
// for bookkeeping of the mapped region size.
func OpenDiskDevice(path string, cipher Cipher) (*DiskDevice, error) {
	fd, err := createFileSync(path)
	if err != nil {
		return nil, herr.Wrap("page.OpenDiskDevice", herr.CodeIOError, err)
	}

	d := &DiskDevice{path: path, fd: fd, cipher: cipher}

	var stat syscall.Stat_t
	if err := syscall.Fstat(fd, &stat); err != nil {
		_ = syscall.Close(fd)
		return nil, herr.Wrap("page.OpenDiskDevice", herr.CodeIOError, err)
	}
	d.fileSize = uint64(stat.Size)

	if d.fileSize > 0 {
		if err := d.mapThrough(d.fileSize); err != nil {
			_ = syscall.Close(fd)
			return nil, err
		}
	}

	return d, nil
}

func (d *DiskDevice) Cipher() Cipher { return d.cipher }

func (d *DiskDevice) ReadAt(pageNo uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	offset := pageNo * Size
	if d.cipher != nil || offset+Size > uint64(d.mmapTotal) {
		// A cipher is installed, or the page is not yet mapped (e.g.
		// appended since the last map extension): read through pread.
		buf := make([]byte, Size)
		n, err := syscall.Pread(d.fd, buf, int64(offset))
		if err != nil {
			return nil, herr.Wrap("page.ReadAt", herr.CodeIOError, err)
		}
		if n != int(Size) {
			return nil, herr.New("page.ReadAt", herr.CodeIOError)
		}
		if d.cipher != nil {
			buf = d.cipher.Decrypt(pageNo, buf)
		}
		return buf, nil
	}

	start := uint64(0)
	for _, chunk := range d.mmapChunks {
		end := start + uint64(len(chunk))
		if offset >= start && offset+Size <= end {
			raw := chunk[offset-start : offset-start+Size]
			if d.cipher == nil {
				out := make([]byte, Size)
				copy(out, raw)
				return out, nil
			}
			return d.cipher.Decrypt(pageNo, raw), nil
		}
		start = end
	}
	return nil, fmt.Errorf("page.ReadAt: page %d not mapped", pageNo)
}

func (d *DiskDevice) WriteAt(pageNo uint64, data []byte) error {
	if len(data) != int(Size) {
		panic("page: write size mismatch")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	payload := data
	if d.cipher != nil {
		payload = d.cipher.Encrypt(pageNo, data)
	}

	offset := int64(pageNo * Size)
	if _, err := syscall.Pwrite(d.fd, payload, offset); err != nil {
		return herr.Wrap("page.WriteAt", herr.CodeIOError, err)
	}
	want := uint64(offset) + Size
	if want > d.fileSize {
		d.fileSize = want
	}
	return nil
}

func (d *DiskDevice) Truncate(numPages uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := numPages * Size
	if err := syscall.Ftruncate(d.fd, int64(size)); err != nil {
		return herr.Wrap("page.Truncate", herr.CodeIOError, err)
	}
	d.fileSize = size
	if size > uint64(d.mmapTotal) {
		return d.mapThroughLocked(size)
	}
	return nil
}

func (d *DiskDevice) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := syscall.Fsync(d.fd); err != nil {
		return herr.Wrap("page.Flush", herr.CodeIOError, err)
	}
	return nil
}

func (d *DiskDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, chunk := range d.mmapChunks {
		_ = syscall.Munmap(chunk)
	}
	d.mmapChunks = nil
	return syscall.Close(d.fd)
}

func (d *DiskDevice) mapThrough(size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mapThroughLocked(size)
}

// mapThroughLocked extends the mmap'd region to cover at least `size`
// bytes, doubling the mapping the way the original device grows its
// mapping rather than remapping on every single-page append.
func (d *DiskDevice) mapThroughLocked(size uint64) error {
	if uint64(d.mmapTotal) >= size {
		return nil
	}
	alloc := d.mmapTotal
	if alloc < 64<<20 {
		alloc = 64 << 20
	}
	for uint64(d.mmapTotal+alloc) < size {
		alloc *= 2
	}

	chunk, err := syscall.Mmap(d.fd, int64(d.mmapTotal), alloc, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return herr.Wrap("page.mapThrough", herr.CodeIOError, err)
	}
	d.mmapChunks = append(d.mmapChunks, chunk)
	d.mmapTotal += alloc
	return nil
}

func createFileSync(file string) (int, error) {
	flags := os.O_RDWR | os.O_CREATE
	fd, err := syscall.Open(file, flags, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open file: %w", err)
	}

	dirfd, err := syscall.Open(filepath.Dir(file), os.O_RDONLY, 0)
	if err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("open directory: %w", err)
	}
	defer syscall.Close(dirfd)

	if err := syscall.Fsync(dirfd); err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("fsync directory: %w", err)
	}
	return fd, nil
}

// MemDevice is an in-memory Device for transient environments and tests.
type MemDevice struct {
	mu     sync.Mutex
	pages  map[uint64][]byte
	cipher Cipher
}

// NewMemDevice creates an empty in-memory device.
func NewMemDevice(cipher Cipher) *MemDevice {
	return &MemDevice{pages: make(map[uint64][]byte), cipher: cipher}
}

func (m *MemDevice) Cipher() Cipher { return m.cipher }

func (m *MemDevice) ReadAt(pageNo uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageNo]
	if !ok {
		return make([]byte, Size), nil
	}
	out := make([]byte, Size)
	if m.cipher != nil {
		copy(out, m.cipher.Decrypt(pageNo, p))
	} else {
		copy(out, p)
	}
	return out, nil
}

func (m *MemDevice) WriteAt(pageNo uint64, data []byte) error {
	if len(data) != int(Size) {
		panic("page: write size mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, Size)
	if m.cipher != nil {
		copy(stored, m.cipher.Encrypt(pageNo, data))
	} else {
		copy(stored, data)
	}
	m.pages[pageNo] = stored
	return nil
}

func (m *MemDevice) Truncate(numPages uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.pages {
		if p >= numPages {
			delete(m.pages, p)
		}
	}
	return nil
}

func (m *MemDevice) Flush() error { return nil }
func (m *MemDevice) Close() error { return nil }
