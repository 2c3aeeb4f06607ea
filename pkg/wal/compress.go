package wal

import (
	"encoding/binary"

	"github.com/nainya/hamsterdb/pkg/compress"
)

// EncodeCompressed encodes the entry the same way Encode does, except
// Value is first run through c (if non-nil), with the original
// uncompressed length prepended so DecodeCompressed can size its output
// buffer without guessing.
func (e *Entry) EncodeCompressed(c compress.Compressor) []byte {
	if c == nil {
		return e.Encode()
	}

	compressedVal := c.Compress(e.Value)
	prefixed := make([]byte, 4+len(compressedVal))
	binary.LittleEndian.PutUint32(prefixed[0:4], uint32(len(e.Value)))
	copy(prefixed[4:], compressedVal)

	clone := *e
	clone.Value = prefixed
	return clone.Encode()
}

// DecodeEntryCompressed decodes an entry encoded with EncodeCompressed,
// reversing the value compression.
func DecodeEntryCompressed(data []byte, c compress.Compressor) (*Entry, error) {
	entry, err := DecodeEntry(data)
	if err != nil {
		return nil, err
	}
	if c == nil || len(entry.Value) == 0 {
		return entry, nil
	}
	if len(entry.Value) < 4 {
		return nil, ErrCorrupted
	}
	origLen := binary.LittleEndian.Uint32(entry.Value[0:4])
	out, err := c.Decompress(make([]byte, 0, origLen), entry.Value[4:])
	if err != nil {
		return nil, err
	}
	entry.Value = out
	return entry, nil
}
