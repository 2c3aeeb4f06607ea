package env

import (
	"encoding/binary"
	"time"

	"github.com/nainya/hamsterdb/pkg/compress"
	"github.com/nainya/hamsterdb/pkg/freelist"
	"github.com/nainya/hamsterdb/pkg/herr"
	"github.com/nainya/hamsterdb/pkg/page"
	"github.com/nainya/hamsterdb/pkg/wal"
)

// compressorByte/compressorFromByte map a compress.Type's on-disk name to
// a single meta-page byte, since Type itself is a string and the meta
// page only budgets one byte for it at offCompressor.
func compressorByte(t compress.Type) byte {
	switch t {
	case compress.TypeSnappy:
		return 1
	case compress.TypeZlib:
		return 2
	default:
		return 0
	}
}

func compressorFromByte(b byte) compress.Type {
	switch b {
	case 1:
		return compress.TypeSnappy
	case 2:
		return compress.TypeZlib
	default:
		return compress.TypeNone
	}
}

// logDirtyPages flushes every page touched since the last writeMeta to
// the WAL as a single committed transaction, so recovery can replay
// them even if the device write behind them was never itself fsynced
// before a crash. A no-op when the WAL is disabled or nothing is dirty.
func (env *Environment) logDirtyPages() error {
	if env.wal == nil || len(env.dirty) == 0 {
		return nil
	}

	txnID := env.wal.NextLSN()
	if err := env.wal.Write(wal.Entry{LSN: env.wal.NextLSN(), TxnID: txnID, OpType: wal.OpTxnBegin, Timestamp: time.Now()}); err != nil {
		return err
	}
	for ptr, data := range env.dirty {
		key := make([]byte, 8)
		binary.LittleEndian.PutUint64(key, ptr)
		entry := wal.Entry{LSN: env.wal.NextLSN(), TxnID: txnID, OpType: wal.OpPageWrite, Key: key, Value: data, Timestamp: time.Now()}
		if err := env.wal.Write(entry); err != nil {
			return err
		}
	}
	if err := env.wal.Write(wal.Entry{LSN: env.wal.NextLSN(), TxnID: txnID, OpType: wal.OpCommit, Timestamp: time.Now()}); err != nil {
		return err
	}
	if err := env.wal.Fsync(); err != nil {
		return err
	}
	env.dirty = nil
	return nil
}

// writeMeta performs the environment's two-phase durable commit: every
// page mutated since the last commit was already written through to the
// device by pageAlloc/pageWrite/blob.Alloc, so phase one is simply
// fsyncing those writes before the meta page — which records the
// current page count, freelist state, and database directory — is
// itself written and fsynced a second time. A crash between the two
// fsyncs leaves the previous meta page in place, pointing only at pages
// that were already durable, exactly the teacher's updateFile invariant.
func (env *Environment) writeMeta() error {
	if err := env.logDirtyPages(); err != nil {
		return err
	}
	if err := env.dev.Flush(); err != nil {
		return err
	}

	buf := make([]byte, page.Size)
	copy(buf[offSig:], []byte(dbSig))
	binary.LittleEndian.PutUint64(buf[offFlushed:], env.pages)

	if env.opts.FreelistFull {
		buf[offFreelistKind] = freelistKindFull
	} else {
		buf[offFreelistKind] = freelistKindReduced
	}
	binary.LittleEndian.PutUint64(buf[offDirBlobID:], env.dirID)
	buf[offCompressor] = compressorByte(env.opts.Compressor)

	fl := env.free.Serialize()
	if offFreelistData+len(fl) > int(page.Size) {
		return herr.New("env.writeMeta", herr.CodeIntegrityViolated)
	}
	copy(buf[offFreelistData:], fl)

	if err := env.dev.WriteAt(metaPageNo, buf); err != nil {
		return err
	}
	if err := env.dev.Flush(); err != nil {
		return err
	}

	if env.checkpoint != nil {
		env.log.LogCheckpoint(env.dirID, 0)
	}
	return nil
}

func (env *Environment) readMeta() error {
	buf, err := env.dev.ReadAt(metaPageNo)
	if err != nil {
		return err
	}
	if string(buf[offSig:offSig+16]) != dbSig {
		return herr.New("env.readMeta", herr.CodeDatabaseNotFound)
	}

	env.pages = binary.LittleEndian.Uint64(buf[offFlushed:])
	env.opts.FreelistFull = buf[offFreelistKind] == freelistKindFull
	env.dirID = binary.LittleEndian.Uint64(buf[offDirBlobID:])
	env.opts.Compressor = compressorFromByte(buf[offCompressor])

	if env.opts.FreelistFull {
		env.free = freelist.NewFull(env.freelistCallbacks())
	} else {
		env.free = freelist.NewReduced(env.freelistCallbacks())
	}
	env.free.Deserialize(buf[offFreelistData:])
	env.free.Grow(env.pages)
	return nil
}
