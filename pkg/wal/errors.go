// Package wal implements the write-ahead log pkg/env appends page writes
// and transaction boundaries to before they're considered durable, and
// replays on recovery.
package wal

import "errors"

var (
	// ErrCorrupted means an entry's CRC32 didn't match its framed bytes —
	// Reader treats this as "skip and keep scanning", not a fatal error,
	// since a half-written entry at the tail of a segment after a crash
	// is expected, not exceptional.
	ErrCorrupted = errors.New("wal: corrupted entry")

	// ErrInvalidEntry marks an entry whose header fields don't describe a
	// well-formed frame at all (as opposed to one whose checksum merely
	// disagrees).
	ErrInvalidEntry = errors.New("wal: invalid entry")

	// ErrLogClosed is returned by Write/Fsync once Close has run.
	ErrLogClosed = errors.New("wal: log closed")

	// ErrLogNotFound means Reader.Open was asked to recover a database
	// whose segment directory has no WAL files at all.
	ErrLogNotFound = errors.New("wal: log not found")

	// ErrInvalidLSN is not returned by this package; it is kept for
	// callers that validate an LSN ordering invariant outside it.
	ErrInvalidLSN = errors.New("wal: invalid LSN")

	// ErrTruncated means an entry's declared key/value length runs past
	// what's actually left in the segment — the tail of an fsync that
	// never completed before a crash.
	ErrTruncated = errors.New("wal: truncated entry")
)
