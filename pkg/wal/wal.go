package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

const (
	// MaxLogFileSize is the default ceiling on a single log segment
	// before WAL rotates to the next one. An Environment with a larger
	// page.Size (env.WithPageSize) writes proportionally larger
	// OpPageWrite images per entry, so SegmentSize lets a caller raise
	// this past the default instead of rotating every few thousand
	// page writes.
	MaxLogFileSize = 100 << 20

	// MaxLogFiles is the number of segments, the live one included, kept
	// once cleanOldLogsNoLock runs.
	MaxLogFiles = 3

	// WALFilePrefix is unused by the current naming scheme (segments are
	// named after the owning database's path, not a shared prefix) but
	// kept for tooling that greps for "wal" in a data directory listing.
	WALFilePrefix = "wal"
)

// WAL is the durability log a pkg/env Environment appends to before a
// page write or transaction boundary is considered committed: every
// OpTxnBegin/OpPageWrite/OpCommit entry pkg/env.writeMeta emits, and
// every OpCheckpoint entry Checkpointer writes, passes through here first,
// and pkg/wal.Recovery replays exactly this stream on the next Open.
type WAL struct {
	// Path names this WAL's owning database file (e.g. "/data/orders.db");
	// segments are named "<Path>.wal.NNN" so two databases sharing a
	// directory never collide (see TestMultipleDatabasesSameDirectory).
	Path string

	// SegmentSize overrides MaxLogFileSize when non-zero. Left at its
	// zero value by every existing caller (pkg/env.openWAL builds a
	// bare &WAL{Path: ...}), so the default ceiling applies unless a
	// caller opts into a larger one.
	SegmentSize int64

	// fd is the currently open, append-only segment file.
	fd *os.File

	mu sync.Mutex

	// lsn is the last Log Sequence Number handed out; every entry's LSN
	// must be strictly increasing across the whole log, segments included.
	lsn uint64

	// fileSize tracks the live segment's size so Write knows when to
	// rotate without a stat() round trip per call.
	fileSize int64

	// fileIndex is the live segment's ordinal (0, 1, 2, ...).
	fileIndex int

	closed bool
}

// segmentSize returns the configured rotation ceiling for this WAL.
func (w *WAL) segmentSize() int64 {
	if w.SegmentSize > 0 {
		return w.SegmentSize
	}
	return MaxLogFileSize
}

// Open opens the most recent segment for this WAL's Path, or starts a
// fresh one, and recovers the last LSN handed out so NextLSN continues
// the same sequence across a process restart.
func (w *WAL) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	segments, err := w.findLogFiles()
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if len(segments) > 0 {
		latest := segments[len(segments)-1]
		fd, err := os.OpenFile(latest, os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		w.fd = fd

		stat, err := fd.Stat()
		if err != nil {
			return err
		}
		w.fileSize = stat.Size()

		if _, err := fmt.Sscanf(filepath.Base(latest), w.baseName()+".wal.%d", &w.fileIndex); err != nil {
			w.fileIndex = 0
		}

		maxLSN, err := w.scanForHighestLSN(segments)
		if err != nil {
			return err
		}
		atomic.StoreUint64(&w.lsn, maxLSN)
	} else {
		segPath := w.logFilePath(0)
		if err := os.MkdirAll(filepath.Dir(segPath), 0755); err != nil {
			return err
		}
		fd, err := os.OpenFile(segPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		w.fd = fd
		w.fileSize = 0
		w.fileIndex = 0
		atomic.StoreUint64(&w.lsn, 0)
	}

	w.closed = false
	return nil
}

// NextLSN hands out the next Log Sequence Number. Callers that record a
// transaction boundary (OpTxnBegin, OpCommit) and the page writes inside
// it each take their own LSN, so a committed transaction's entries form
// a contiguous-but-for-concurrent-writers run in the log.
func (w *WAL) NextLSN() uint64 {
	return atomic.AddUint64(&w.lsn, 1)
}

// Write appends entry to the live segment, rotating first if it would
// push the segment past its configured ceiling.
func (w *WAL) Write(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLogClosed
	}

	data := entry.Encode()

	if w.fileSize+int64(len(data)) > w.segmentSize() {
		if err := w.rotateNoLock(); err != nil {
			return err
		}
	}

	n, err := w.fd.Write(data)
	if err != nil {
		return err
	}

	w.fileSize += int64(n)
	return nil
}

// Fsync forces the live segment to stable storage — pkg/env calls this
// once per commit, after the OpCommit entry itself has been written, so
// a crash can never observe a commit marker without its preceding ops.
func (w *WAL) Fsync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLogClosed
	}

	return w.fd.Sync()
}

// Close closes the live segment. Further Write/Fsync calls fail with
// ErrLogClosed.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	err := w.fd.Close()
	w.closed = true
	return err
}

// rotateNoLock fsyncs and closes the live segment, opens the next one,
// and prunes segments beyond MaxLogFiles. Caller must hold mu.
func (w *WAL) rotateNoLock() error {
	if err := w.fd.Sync(); err != nil {
		return err
	}
	if err := w.fd.Close(); err != nil {
		return err
	}

	w.fileIndex++
	segPath := w.logFilePath(w.fileIndex)
	fd, err := os.OpenFile(segPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	w.fd = fd
	w.fileSize = 0

	return w.cleanOldLogsNoLock()
}

// cleanOldLogsNoLock deletes segments beyond the newest MaxLogFiles.
// Caller must hold mu. A checkpoint (pkg/wal.Checkpointer) should have
// already run before this matters in practice — pruning ahead of a
// checkpoint would discard entries recovery still needs.
func (w *WAL) cleanOldLogsNoLock() error {
	segments, err := w.findLogFiles()
	if err != nil {
		return err
	}

	if len(segments) > MaxLogFiles {
		for _, f := range segments[:len(segments)-MaxLogFiles] {
			os.Remove(f) // best-effort; a leftover segment is harmless
		}
	}

	return nil
}

// baseName is the owning database file's basename, e.g. "orders.db" from
// Path "/data/orders.db".
func (w *WAL) baseName() string {
	return filepath.Base(w.Path)
}

// logFilePath builds the on-disk name for segment index.
func (w *WAL) logFilePath(index int) string {
	dir := filepath.Dir(w.Path)
	name := fmt.Sprintf("%s.wal.%03d", w.baseName(), index)
	return filepath.Join(dir, name)
}

// findLogFiles lists every segment belonging to this WAL's database,
// sorted from oldest to newest.
func (w *WAL) findLogFiles() ([]string, error) {
	dir := filepath.Dir(w.Path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && w.isWALFile(entry.Name()) {
			segments = append(segments, filepath.Join(dir, entry.Name()))
		}
	}

	pattern := w.baseName() + ".wal.%d"
	sort.Slice(segments, func(i, j int) bool {
		var idxI, idxJ int
		fmt.Sscanf(filepath.Base(segments[i]), pattern, &idxI)
		fmt.Sscanf(filepath.Base(segments[j]), pattern, &idxJ)
		return idxI < idxJ
	})

	return segments, nil
}

// isWALFile reports whether name is one of this WAL's own segments —
// guards against a sibling database's segments in the same directory
// (see TestMultipleDatabasesSameDirectory).
func (w *WAL) isWALFile(name string) bool {
	var index int
	_, err := fmt.Sscanf(name, w.baseName()+".wal.%d", &index)
	return err == nil
}

// scanForHighestLSN walks every segment to find the highest LSN written
// so far, so a reopened WAL resumes numbering instead of restarting at
// zero and colliding with entries already on disk.
func (w *WAL) scanForHighestLSN(segments []string) (uint64, error) {
	var maxLSN uint64

	for _, seg := range segments {
		fd, err := os.Open(seg)
		if err != nil {
			return 0, err
		}

		for {
			entry, err := w.readEntry(fd)
			if err == io.EOF {
				break
			}
			if err != nil {
				// A mid-segment checksum failure shouldn't stop LSN
				// recovery; skip ahead and keep scanning for the max.
				fd.Seek(1024, io.SeekCurrent)
				continue
			}
			if entry.LSN > maxLSN {
				maxLSN = entry.LSN
			}
		}

		fd.Close()
	}

	return maxLSN, nil
}

// readEntry reads one framed Entry from r: fixed header, then the
// key/value/CRC32 tail whose length the header's KeyLen/ValLen describe.
func (w *WAL) readEntry(r io.Reader) (*Entry, error) {
	header := make([]byte, EntryHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	keyLen := binary.LittleEndian.Uint32(header[24:28])
	valLen := binary.LittleEndian.Uint32(header[28:32])

	dataLen := int(keyLen) + int(valLen) + 4
	data := make([]byte, EntryHeaderSize+dataLen)
	copy(data, header)
	if _, err := io.ReadFull(r, data[EntryHeaderSize:]); err != nil {
		return nil, err
	}

	return DecodeEntry(data)
}
