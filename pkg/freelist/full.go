package freelist

import "encoding/binary"

// bitmapHeader is the on-page header of a bitmap extent: a next pointer
// (chaining bitmap pages), the first page number this page's bits
// describe, and how many of those bits are meaningful.
const bitmapHeader = 20

func bitsPerPage() uint32 { return uint32(pageSize()-bitmapHeader) * 8 }

type bitmapPage []byte

func (b bitmapPage) next() uint64          { return binary.LittleEndian.Uint64(b[0:8]) }
func (b bitmapPage) setNext(v uint64)      { binary.LittleEndian.PutUint64(b[0:8], v) }
func (b bitmapPage) base() uint64          { return binary.LittleEndian.Uint64(b[8:16]) }
func (b bitmapPage) setBase(v uint64)      { binary.LittleEndian.PutUint64(b[8:16], v) }
func (b bitmapPage) numBits() uint32       { return binary.LittleEndian.Uint32(b[16:20]) }
func (b bitmapPage) setNumBits(v uint32)   { binary.LittleEndian.PutUint32(b[16:20], v) }

func (b bitmapPage) getBit(i uint32) bool {
	byteIdx := bitmapHeader + i/8
	return b[byteIdx]&(1<<(i%8)) != 0
}

func (b bitmapPage) setBit(i uint32, free bool) {
	byteIdx := bitmapHeader + i/8
	mask := byte(1 << (i % 8))
	if free {
		b[byteIdx] |= mask
	} else {
		b[byteIdx] &^= mask
	}
}

// Full is a persistent-bitmap freelist policy: every page the
// environment has ever allocated has a corresponding bit (1 = free, 0 =
// in use) in a chain of bitmap pages. Unlike Reduced, it can service
// multi-page AllocArea requests, which pkg/blob needs for large BLOBs
// that span several pages.
type Full struct {
	cb Callbacks

	headPage uint64
	total    uint64 // total pages currently tracked

	// pending holds pages freed by the in-flight transaction; they are
	// not folded into the bitmap (and so not reusable) until the next
	// SetMaxSeq call, mirroring Reduced's maxSeq watermark.
	pending []uint64
}

// NewFull creates an empty Full freelist wired to cb.
func NewFull(cb Callbacks) *Full {
	return &Full{cb: cb}
}

func (fl *Full) ensureCapacity(totalPages uint64) {
	if totalPages <= fl.total {
		return
	}

	if fl.headPage == 0 {
		page := make([]byte, pageSize())
		bp := bitmapPage(page)
		bp.setNext(0)
		bp.setBase(0)
		bp.setNumBits(0)
		fl.headPage = fl.cb.New(page)
	}

	// Walk to the last bitmap page, extending its numBits until it's
	// full, then chaining a new bitmap page.
	ptr := fl.headPage
	for {
		page := make([]byte, pageSize())
		copy(page, fl.cb.Get(ptr))
		bp := bitmapPage(page)

		base := bp.base()
		covered := base + uint64(bp.numBits())
		if totalPages <= covered || bp.numBits() == bitsPerPage() {
			next := bp.next()
			if totalPages <= covered {
				fl.total = totalPages
				return
			}
			if next == 0 {
				newPage := make([]byte, pageSize())
				newBp := bitmapPage(newPage)
				newBp.setNext(0)
				newBp.setBase(covered)
				newBp.setNumBits(0)
				newPtr := fl.cb.New(newPage)
				bp.setNext(newPtr)
				fl.cb.Set(ptr, page)
				ptr = newPtr
				continue
			}
			ptr = next
			continue
		}

		// Grow this page's bit count; newly covered pages start as
		// "used" (bit cleared) since the environment just appended them
		// for immediate use — the caller frees them explicitly if they
		// turn out to be spare capacity.
		want := totalPages - base
		if want > uint64(bitsPerPage()) {
			want = uint64(bitsPerPage())
		}
		bp.setNumBits(uint32(want))
		fl.cb.Set(ptr, page)
		fl.total = base + want
		if fl.total >= totalPages {
			return
		}
	}
}

func (fl *Full) Grow(totalPages uint64) { fl.ensureCapacity(totalPages) }

// findAndClearRun scans the bitmap chain for n contiguous free bits and
// clears them, returning the first absolute page number, or 0 if no such
// run exists.
func (fl *Full) findAndClearRun(n int) uint64 {
	ptr := fl.headPage
	for ptr != 0 {
		page := make([]byte, pageSize())
		copy(page, fl.cb.Get(ptr))
		bp := bitmapPage(page)

		numBits := bp.numBits()
		run := 0
		for i := uint32(0); i < numBits; i++ {
			if bp.getBit(i) && !fl.isPending(bp.base()+uint64(i)) {
				run++
				if run == n {
					start := i - uint32(n) + 1
					for j := start; j <= i; j++ {
						bp.setBit(j, false)
					}
					fl.cb.Set(ptr, page)
					return bp.base() + uint64(start)
				}
			} else {
				run = 0
			}
		}
		ptr = bp.next()
	}
	return 0
}

func (fl *Full) isPending(p uint64) bool {
	for _, q := range fl.pending {
		if q == p {
			return true
		}
	}
	return false
}

func (fl *Full) PopHead() uint64 { return fl.findAndClearRun(1) }

func (fl *Full) PushTail(ptr uint64) {
	fl.pending = append(fl.pending, ptr)
}

func (fl *Full) AllocArea(n int) uint64 {
	if n <= 0 {
		return 0
	}
	return fl.findAndClearRun(n)
}

func (fl *Full) FreeArea(ptr uint64, n int) {
	for i := 0; i < n; i++ {
		fl.pending = append(fl.pending, ptr+uint64(i))
	}
}

// SetMaxSeq folds the previous round's quarantined pages into the
// bitmap as free, then starts a fresh quarantine for the round about to
// begin. See the Reduced policy for the analogous single-generation
// watermark this mirrors.
func (fl *Full) SetMaxSeq() {
	for _, p := range fl.pending {
		fl.markFree(p)
	}
	fl.pending = fl.pending[:0]
}

func (fl *Full) markFree(pageNo uint64) {
	ptr := fl.headPage
	for ptr != 0 {
		page := make([]byte, pageSize())
		copy(page, fl.cb.Get(ptr))
		bp := bitmapPage(page)
		base := bp.base()
		numBits := uint64(bp.numBits())
		if pageNo >= base && pageNo < base+numBits {
			bp.setBit(uint32(pageNo-base), true)
			fl.cb.Set(ptr, page)
			return
		}
		ptr = bp.next()
	}
}

func (fl *Full) Serialize() []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:], fl.headPage)
	binary.LittleEndian.PutUint64(data[8:], fl.total)
	return data
}

func (fl *Full) Deserialize(data []byte) {
	fl.headPage = binary.LittleEndian.Uint64(data[0:])
	fl.total = binary.LittleEndian.Uint64(data[8:])
}
