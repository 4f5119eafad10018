// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/tidwall/jsonc"

	"github.com/phosphorescence/eos/lib/codec"
)

// Compression identifies how a corpus blob is compressed.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// Encoding identifies the serialization inside a corpus blob.
type Encoding string

const (
	EncodingCBOR Encoding = "cbor"
	EncodingJSON Encoding = "json"
)

// ParseCompression parses a compression name.
func ParseCompression(name string) (Compression, error) {
	switch compression := Compression(name); compression {
	case CompressionNone, CompressionGzip, CompressionZstd, CompressionLZ4:
		return compression, nil
	}
	return "", fmt.Errorf("unknown compression %q (want none, gzip, zstd, or lz4)", name)
}

// ParseEncoding parses an encoding name.
func ParseEncoding(name string) (Encoding, error) {
	switch encoding := Encoding(name); encoding {
	case EncodingCBOR, EncodingJSON:
		return encoding, nil
	}
	return "", fmt.Errorf("unknown encoding %q (want cbor or json)", name)
}

// MaxDecompressedSize bounds the payload a blob may expand to.
const MaxDecompressedSize = 1 << 30

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("track: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		panic("track: zstd decoder initialization failed: " + err.Error())
	}
}

// SniffCompression identifies the compression of data from its magic
// bytes.
func SniffCompression(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(data, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(data, lz4Magic):
		return CompressionLZ4
	}
	return CompressionNone
}

// SniffEncoding identifies the encoding of an uncompressed payload.
// JSON corpora are objects, possibly preceded by whitespace or
// comments; anything else is CBOR.
func SniffEncoding(payload []byte) Encoding {
	trimmed := bytes.TrimLeft(payload, " \t\r\n\ufeff")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '/') {
		return EncodingJSON
	}
	return EncodingCBOR
}

// Decompress returns the payload of a possibly compressed blob.
func Decompress(data []byte) ([]byte, error) {
	switch SniffCompression(data) {
	case CompressionGzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer reader.Close()
		return readLimited(reader, "gzip")
	case CompressionZstd:
		payload, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return payload, nil
	case CompressionLZ4:
		return readLimited(lz4.NewReader(bytes.NewReader(data)), "lz4")
	}
	return data, nil
}

func readLimited(reader io.Reader, name string) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(reader, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(payload) > MaxDecompressedSize {
		return nil, fmt.Errorf("%s: payload exceeds %d bytes", name, MaxDecompressedSize)
	}
	return payload, nil
}

// Compress compresses payload with the given algorithm.
func Compress(payload []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone, "":
		return payload, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(payload, nil), nil
	case CompressionGzip:
		var buffer bytes.Buffer
		writer, err := gzip.NewWriterLevel(&buffer, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := writer.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return buffer.Bytes(), nil
	case CompressionLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		return buffer.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported compression %q", compression)
}

// DecodeCorpus decodes a corpus blob in any supported compression and
// encoding.
func DecodeCorpus(data []byte) (*Corpus, error) {
	if len(data) == 0 {
		return nil, errors.New("empty corpus blob")
	}
	payload, err := Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompressing corpus: %w", err)
	}
	corpus := new(Corpus)
	if err := decodePayload(payload, corpus); err != nil {
		return nil, fmt.Errorf("decoding corpus: %w", err)
	}
	corpus.reconcile()
	return corpus, nil
}

// EncodeCorpus serializes and compresses a corpus.
func EncodeCorpus(corpus *Corpus, encoding Encoding, compression Compression) ([]byte, error) {
	var payload []byte
	var err error
	switch encoding {
	case EncodingCBOR, "":
		payload, err = codec.Marshal(corpus)
	case EncodingJSON:
		payload, err = json.Marshal(corpus)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding corpus: %w", err)
	}
	return Compress(payload, compression)
}

// DecodeRecord decodes a single track record, as supplied for tracks
// added to a build on top of the corpus.
func DecodeRecord(data []byte) (Record, error) {
	var record Record
	payload, err := Decompress(data)
	if err != nil {
		return record, fmt.Errorf("decompressing track: %w", err)
	}
	if err := decodePayload(payload, &record); err != nil {
		return record, fmt.Errorf("decoding track: %w", err)
	}
	if record.ID() == "" {
		return record, errors.New("decoding track: record has no track.id")
	}
	return record, nil
}

func decodePayload(payload []byte, target any) error {
	if SniffEncoding(payload) == EncodingJSON {
		return json.Unmarshal(jsonc.ToJSON(payload), target)
	}
	return codec.Unmarshal(payload, target)
}
