// Package compress provides the pluggable compressor that pkg/wal's
// EncodeCompressed/DecodeEntryCompressed apply to WAL entry values.
// env.Options.Compressor names a codec; Open returns an error for an
// unknown name.
package compress

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Compressor compresses and decompresses opaque byte payloads (WAL
// entry payloads) before they reach storage.
type Compressor interface {
	// Name returns the codec's Type name.
	Name() string
	Compress(src []byte) []byte
	Decompress(dst, src []byte) ([]byte, error)
}

// Type names the supported compressor implementations.
type Type string

const (
	TypeNone   Type = "none"
	TypeSnappy Type = "snappy"
	TypeZlib   Type = "zlib"
)

// Open returns the Compressor for the named type.
func Open(t Type) (Compressor, error) {
	switch t {
	case "", TypeNone:
		return identity{}, nil
	case TypeSnappy:
		return snappyCodec{}, nil
	case TypeZlib:
		return zlibCodec{}, nil
	default:
		return nil, fmt.Errorf("compress: unknown compressor type %q", t)
	}
}

type identity struct{}

func (identity) Name() string                 { return string(TypeNone) }
func (identity) Compress(src []byte) []byte   { return src }
func (identity) Decompress(dst, src []byte) ([]byte, error) {
	return src, nil
}

type snappyCodec struct{}

func (snappyCodec) Name() string { return string(TypeSnappy) }

func (snappyCodec) Compress(src []byte) []byte {
	return snappy.Encode(nil, src)
}

func (snappyCodec) Decompress(dst, src []byte) ([]byte, error) {
	return snappy.Decode(dst, src)
}

type zlibCodec struct{}

func (zlibCodec) Name() string { return string(TypeZlib) }

func (zlibCodec) Compress(src []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, _ = w.Write(src)
	_ = w.Close()
	return buf.Bytes()
}

func (zlibCodec) Decompress(dst, src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	return append(dst[:0], out...), nil
}
