package env

import "github.com/nainya/hamsterdb/pkg/freelist"

// The page-management callbacks below assume the caller already holds
// env.mu — they are only ever invoked synchronously from inside a public
// Environment/Database method (tree.Insert, blob.Alloc, and so on), the
// same nesting the teacher's KV uses for its own pageRead/pageAlloc/
// pageFree trio.

func (env *Environment) pageRead(ptr uint64) []byte {
	data, err := env.cache.Get(ptr)
	if err != nil {
		env.log.Error("page read failed").Uint64("page", ptr).Err(err).Send()
		return nil
	}
	return data
}

// pageAlloc satisfies a B-tree/BLOB node allocation, preferring a
// recycled page from the freelist over growing the file.
func (env *Environment) pageAlloc(node []byte) uint64 {
	if ptr := env.free.PopHead(); ptr != 0 {
		_ = env.cache.Put(ptr, node)
		env.markDirty(ptr, node)
		return ptr
	}
	return env.appendPage(node)
}

// appendPage grows the environment by exactly one page.
func (env *Environment) appendPage(node []byte) uint64 {
	ptr := env.pages
	env.pages++
	_ = env.cache.Put(ptr, node)
	env.free.Grow(env.pages)
	env.markDirty(ptr, node)
	return ptr
}

func (env *Environment) pageWrite(ptr uint64, node []byte) {
	_ = env.cache.Put(ptr, node)
	env.markDirty(ptr, node)
}

// markDirty records a page image touched since the last WAL flush, so
// writeMeta can log it as an OpPageWrite entry before the meta page
// itself is rewritten — the same page-image logging the teacher's
// pkg/storage/kv.go relies on implicitly by writing pages through
// before ever touching the meta page, made explicit here so recovery
// has something to replay if the device write itself was never
// fsynced before a crash.
func (env *Environment) markDirty(ptr uint64, node []byte) {
	if env.wal == nil {
		return
	}
	if env.dirty == nil {
		env.dirty = make(map[uint64][]byte)
	}
	env.dirty[ptr] = append([]byte(nil), node...)
}

func (env *Environment) pageFree(ptr uint64) {
	env.free.FreeArea(ptr, 1)
	env.cache.Invalidate(ptr)
}

// extKeyRead/extKeyAlloc/extKeyFree back a B-tree's extended-key storage
// with the same BLOB manager pkg/env hands oversized record values to —
// an extended key is just a BLOB whose id happens to live in a node's
// key slot instead of its value slot. Errors are logged and swallowed
// rather than propagated, matching pageRead/pageAlloc/pageFree's
// infallible-by-signature convention above: btree.BTree's callback
// surface has no room for an error return without threading one through
// every recursive split/merge helper.
func (env *Environment) extKeyRead(id uint64) []byte {
	data, err := env.blobs.Read(id)
	if err != nil {
		env.log.Error("extended key read failed").Uint64("blob", id).Err(err).Send()
		return nil
	}
	return data
}

func (env *Environment) extKeyAlloc(key []byte) uint64 {
	id, err := env.blobs.Alloc(key)
	if err != nil {
		env.log.Error("extended key alloc failed").Err(err).Send()
		return 0
	}
	return id
}

func (env *Environment) extKeyFree(id uint64) {
	if err := env.blobs.Free(id); err != nil {
		env.log.Error("extended key free failed").Uint64("blob", id).Err(err).Send()
	}
}

func (env *Environment) freelistCallbacks() freelist.Callbacks {
	return freelist.Callbacks{
		Get: func(ptr uint64) []byte { return env.pageRead(ptr) },
		New: func(node []byte) uint64 { return env.appendPage(node) },
		Set: func(ptr uint64, node []byte) { env.pageWrite(ptr, node) },
	}
}
