package store

import (
	"github.com/golang/snappy"
	"github.com/juju/errors"
	"github.com/pierrec/lz4/v4"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
)

// Codec ids persisted in the WAL header.
const (
	CodecNone   int32 = 0
	CodecSnappy int32 = 1
	CodecLz4    int32 = 2
)

// Codec compresses WAL update payloads. A payload whose length equals the
// page size is stored raw, so Decompress treats full-size input as an
// uncompressed page image.
type Codec interface {
	Id() int32
	Name() string
	Compress(src []byte) []byte
	Decompress(src []byte, dst []byte) error
}

type noneCodec struct{}

func (noneCodec) Id() int32    { return CodecNone }
func (noneCodec) Name() string { return "none" }

func (noneCodec) Compress(src []byte) []byte {
	return src
}

func (noneCodec) Decompress(src []byte, dst []byte) error {
	if len(src) != len(dst) {
		return errors.Annotatef(basic.ErrDataCorruption, "payload size %d does not match page size %d", len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

type snappyCodec struct{}

func (snappyCodec) Id() int32    { return CodecSnappy }
func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Compress(src []byte) []byte {
	return snappy.Encode(nil, src)
}

func (snappyCodec) Decompress(src []byte, dst []byte) error {
	if len(src) == len(dst) {
		copy(dst, src)
		return nil
	}
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return errors.Annotatef(basic.ErrDataCorruption, "snappy decode: %v", err)
	}
	if len(out) != len(dst) {
		return errors.Annotatef(basic.ErrDataCorruption, "snappy payload decodes to %d bytes, want %d", len(out), len(dst))
	}
	if &out[0] != &dst[0] {
		copy(dst, out)
	}
	return nil
}

type lz4Codec struct{}

func (lz4Codec) Id() int32    { return CodecLz4 }
func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(src []byte) []byte {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil || n == 0 || n >= len(src) {
		// incompressible; store the raw page image
		raw := make([]byte, len(src))
		copy(raw, src)
		return raw
	}
	return dst[:n]
}

func (lz4Codec) Decompress(src []byte, dst []byte) error {
	if len(src) == len(dst) {
		copy(dst, src)
		return nil
	}
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return errors.Annotatef(basic.ErrDataCorruption, "lz4 decode: %v", err)
	}
	if n != len(dst) {
		return errors.Annotatef(basic.ErrDataCorruption, "lz4 payload decodes to %d bytes, want %d", n, len(dst))
	}
	return nil
}

// CodecFor resolves a persisted codec id.
func CodecFor(id int32) (Codec, error) {
	switch id {
	case CodecNone:
		return noneCodec{}, nil
	case CodecSnappy:
		return snappyCodec{}, nil
	case CodecLz4:
		return lz4Codec{}, nil
	}
	return nil, errors.Annotatef(basic.ErrDataCorruption, "unknown WAL codec id %d", id)
}

// CodecByName resolves a configured codec name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "none":
		return noneCodec{}, nil
	case "snappy":
		return snappyCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	}
	return nil, errors.Errorf("unknown WAL codec %q", name)
}
