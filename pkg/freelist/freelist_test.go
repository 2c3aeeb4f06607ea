package freelist

import "testing"

func newCallbacks() (Callbacks, map[uint64][]byte, *uint64) {
	store := make(map[uint64][]byte)
	next := uint64(1)
	cb := Callbacks{
		Get: func(ptr uint64) []byte { return store[ptr] },
		New: func(node []byte) uint64 {
			ptr := next
			next++
			cp := make([]byte, len(node))
			copy(cp, node)
			store[ptr] = cp
			return ptr
		},
		Set: func(ptr uint64, node []byte) {
			cp := make([]byte, len(node))
			copy(cp, node)
			store[ptr] = cp
		},
	}
	return cb, store, &next
}

func TestReducedPushPop(t *testing.T) {
	cb, _, _ := newCallbacks()
	fl := NewReduced(cb)

	fl.PushTail(100)
	fl.PushTail(200)
	fl.SetMaxSeq()

	if got := fl.PopHead(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := fl.PopHead(); got != 200 {
		t.Fatalf("expected 200, got %d", got)
	}
	if got := fl.PopHead(); got != 0 {
		t.Fatalf("expected empty freelist, got %d", got)
	}
}

func TestReducedWatermark(t *testing.T) {
	cb, _, _ := newCallbacks()
	fl := NewReduced(cb)

	fl.PushTail(1)
	fl.SetMaxSeq() // freezes the watermark at tailSeq=1

	// A page pushed after SetMaxSeq must not be immediately poppable.
	fl.PushTail(2)
	if got := fl.PopHead(); got == 0 {
		t.Fatal("expected the pre-watermark page to be poppable")
	}
	if got := fl.PopHead(); got != 0 {
		t.Fatalf("expected the post-watermark page to be held back, got %d", got)
	}
}

func TestFullAllocArea(t *testing.T) {
	cb, _, _ := newCallbacks()
	fl := NewFull(cb)
	fl.Grow(16)

	// Everything just grown starts as "in use"; free a run explicitly.
	fl.FreeArea(4, 3)
	fl.SetMaxSeq()

	got := fl.AllocArea(3)
	if got != 4 {
		t.Fatalf("expected area starting at page 4, got %d", got)
	}

	// The run is now consumed; a second request for 3 pages should fail.
	if got := fl.AllocArea(3); got != 0 {
		t.Fatalf("expected no free run of 3 left, got %d", got)
	}
}

func TestFullSerializeRoundTrip(t *testing.T) {
	cb, _, _ := newCallbacks()
	fl := NewFull(cb)
	fl.Grow(8)
	fl.FreeArea(0, 2)
	fl.SetMaxSeq()

	data := fl.Serialize()

	fl2 := NewFull(cb)
	fl2.Deserialize(data)

	if got := fl2.AllocArea(2); got != 0 {
		t.Fatalf("expected deserialized freelist to find area at page 0, got %d", got)
	}
}
