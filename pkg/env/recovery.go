package env

import (
	"encoding/binary"

	"github.com/nainya/hamsterdb/pkg/wal"
)

// recoverIfNeeded replays every committed OpPageWrite entry logged since
// the last checkpoint straight back into the page cache. Because every
// mutation's dirty pages are logged as one committed transaction in
// logDirtyPages, replaying them is idempotent: a page write that had
// already reached the device before the crash is simply overwritten
// with the same bytes.
func (env *Environment) recoverIfNeeded() error {
	if env.recovery == nil {
		return nil
	}

	replay := func(op wal.OpType, key, value []byte) error {
		if op != wal.OpPageWrite {
			return nil
		}
		if len(key) < 8 {
			return nil
		}
		ptr := binary.LittleEndian.Uint64(key)
		return env.cache.Put(ptr, value)
	}

	return env.recovery.Recover(replay)
}
