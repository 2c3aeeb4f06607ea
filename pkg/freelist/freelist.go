// Package freelist tracks which pages in an environment's backing file
// are free for reuse. Two policies are offered, matching the two
// configurations the original engine supported: Reduced keeps only an
// unrolled linked list of recently freed single pages (cheap, but loses freed
// space on an unclean shutdown before the next checkpoint persists it),
// and Full maintains a persistent bitmap capable of servicing
// multi-page "area" allocations for BLOB storage.
package freelist

// Policy is the freelist contract the B-tree, BLOB manager, and
// environment facade allocate pages through.
type Policy interface {
	// PopHead returns a single free page, or 0 if none is available.
	PopHead() uint64
	// PushTail returns a single page to the free pool.
	PushTail(ptr uint64)
	// AllocArea finds (and removes) a run of n contiguous free pages,
	// returning the first page number, or 0 if no run of that length is
	// free. Only the Full policy supports runs longer than 1; Reduced
	// always returns 0 for n > 1, and the caller (pkg/blob) then appends
	// n fresh pages at the end of the file instead.
	AllocArea(n int) uint64
	// FreeArea returns n contiguous pages, starting at ptr, to the pool.
	FreeArea(ptr uint64, n int)
	// SetMaxSeq freezes the watermark beyond which PopHead will not
	// consume pages freed by the in-flight transaction, so a crash
	// mid-commit can never reuse a page that the about-to-be-committed
	// transaction also freed.
	SetMaxSeq()
	// Serialize encodes policy-specific metadata for the meta/header
	// page.
	Serialize() []byte
	// Deserialize restores policy-specific metadata from the meta/header
	// page.
	Deserialize(data []byte)
	// Grow tells the policy the environment now has totalPages pages
	// allocated. Full uses this to extend its bitmap; Reduced ignores
	// it, since its linked list only ever tracks pages explicitly
	// pushed to it.
	Grow(totalPages uint64)
}

// Callbacks wires a Policy to the page cache it allocates pages through.
type Callbacks struct {
	Get func(ptr uint64) []byte
	New func(node []byte) uint64
	Set func(ptr uint64, node []byte)
}
