package freelist

import (
	"encoding/binary"

	"github.com/nainya/hamsterdb/pkg/page"
)

const (
	nodeHeader  = 8
	reducedSize = 40
)

// pageSize mirrors the environment's configured page.Size; both freelist
// policies lay out their on-disk nodes against it rather than a compiled-in
// constant, so env.WithPageSize takes effect here too.
func pageSize() int { return int(page.Size) }

// nodeCap is how many page pointers fit in one unrolled-list node after
// its header.
func nodeCap() int { return (pageSize() - nodeHeader) / 8 }

// lnode is one node of the unrolled linked list Reduced persists its
// recently-freed single pages in.
type lnode []byte

func (n lnode) getNext() uint64      { return binary.LittleEndian.Uint64(n[0:8]) }
func (n lnode) setNext(next uint64)  { binary.LittleEndian.PutUint64(n[0:8], next) }
func (n lnode) getPtr(idx int) uint64 {
	return binary.LittleEndian.Uint64(n[nodeHeader+idx*8:])
}
func (n lnode) setPtr(idx int, ptr uint64) {
	binary.LittleEndian.PutUint64(n[nodeHeader+idx*8:], ptr)
}

// Reduced is an unrolled-linked-list freelist: O(1) push/pop of single
// pages, no support for multi-page extents, and metadata small enough to
// fit inline in the meta page. This is the policy the teacher's original
// KV engine already implemented; it becomes the "reduced" freelist of
// hamsterdb, where the original engine's default full bitmap tracking is
// skipped to save a bitmap page per ~32K database pages at the cost of
// losing freed-but-uncheckpointed space across a crash.
type Reduced struct {
	cb Callbacks

	headPage uint64
	headSeq  uint64
	tailPage uint64
	tailSeq  uint64
	maxSeq   uint64
}

// NewReduced creates an empty Reduced freelist wired to cb.
func NewReduced(cb Callbacks) *Reduced {
	return &Reduced{cb: cb}
}

// Total reports the number of pages currently tracked as free.
func (fl *Reduced) Total() int {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	return int(fl.tailSeq - fl.headSeq)
}

func (fl *Reduced) PopHead() uint64 {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	// maxSeq prevents a transaction from consuming pages it (or a
	// transaction still being committed) only just freed: those pages
	// are not safely reusable until the commit that freed them is
	// itself durable.
	if fl.maxSeq > 0 && fl.maxSeq < fl.tailSeq && fl.headSeq >= fl.maxSeq {
		return 0
	}
	if fl.headPage == 0 {
		return 0
	}

	node := lnode(fl.cb.Get(fl.headPage))
	idx := int(fl.headSeq % uint64(nodeCap()))
	ptr := node.getPtr(idx)
	fl.headSeq++

	if fl.headSeq%uint64(nodeCap()) == 0 {
		next := node.getNext()
		if next != 0 {
			fl.PushTail(fl.headPage)
			fl.headPage = next
		}
	}
	return ptr
}

func (fl *Reduced) PushTail(ptr uint64) {
	if fl.tailPage == 0 {
		page := make([]byte, pageSize())
		lnode(page).setNext(0)
		fl.tailPage = fl.cb.New(page)
		fl.headPage = fl.tailPage
	}

	idx := int(fl.tailSeq % uint64(nodeCap()))
	if idx == 0 && fl.tailSeq > 0 {
		newPage := make([]byte, pageSize())
		lnode(newPage).setNext(0)
		newTail := fl.cb.New(newPage)

		oldPage := make([]byte, pageSize())
		copy(oldPage, fl.cb.Get(fl.tailPage))
		lnode(oldPage).setNext(newTail)
		fl.cb.Set(fl.tailPage, oldPage)

		fl.tailPage = newTail
		idx = 0
	}

	page := make([]byte, pageSize())
	copy(page, fl.cb.Get(fl.tailPage))
	lnode(page).setPtr(idx, ptr)
	fl.cb.Set(fl.tailPage, page)
	fl.tailSeq++
}

// AllocArea never services multi-page runs under the reduced policy.
func (fl *Reduced) AllocArea(n int) uint64 {
	if n != 1 {
		return 0
	}
	return fl.PopHead()
}

// FreeArea frees pages one at a time; Reduced has no notion of a run.
func (fl *Reduced) FreeArea(ptr uint64, n int) {
	for i := 0; i < n; i++ {
		fl.PushTail(ptr + uint64(i))
	}
}

func (fl *Reduced) SetMaxSeq() { fl.maxSeq = fl.tailSeq }

// Grow is a no-op for Reduced: it only ever tracks pages explicitly
// pushed to it via PushTail/FreeArea.
func (fl *Reduced) Grow(uint64) {}

func (fl *Reduced) Serialize() []byte {
	data := make([]byte, reducedSize)
	binary.LittleEndian.PutUint64(data[0:], fl.headPage)
	binary.LittleEndian.PutUint64(data[8:], fl.headSeq)
	binary.LittleEndian.PutUint64(data[16:], fl.tailPage)
	binary.LittleEndian.PutUint64(data[24:], fl.tailSeq)
	binary.LittleEndian.PutUint64(data[32:], fl.maxSeq)
	return data
}

func (fl *Reduced) Deserialize(data []byte) {
	fl.headPage = binary.LittleEndian.Uint64(data[0:])
	fl.headSeq = binary.LittleEndian.Uint64(data[8:])
	fl.tailPage = binary.LittleEndian.Uint64(data[16:])
	fl.tailSeq = binary.LittleEndian.Uint64(data[24:])
	fl.maxSeq = binary.LittleEndian.Uint64(data[32:])
}
