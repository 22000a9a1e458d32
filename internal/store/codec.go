package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// maxDecompressed bounds what a stored blob may expand to.
const maxDecompressed = 256 << 20

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressed))
)

// Compress zstd-compresses data.
func Compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// Decompress reverses Compress. Data without the zstd frame magic is
// returned as-is so records written uncompressed stay readable.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0x28 || data[1] != 0xB5 || data[2] != 0x2F || data[3] != 0xFD {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}

// Encode serializes a record to CBOR.
func Encode(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

// Decode parses a CBOR record into v.
func Decode(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// EncodeRecord CBOR-encodes v and optionally compresses it.
func EncodeRecord(v interface{}, compress bool) ([]byte, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, err
	}
	if compress {
		data = Compress(data)
	}
	return data, nil
}

// PutRecord stores the EncodeRecord form of v.
func PutRecord(kv KV, key string, v interface{}, compress bool) error {
	data, err := EncodeRecord(v, compress)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Put([]byte(key), data)
}

// GetRecord loads and decodes a record written by PutRecord. A missing key
// returns ErrNotFound.
func GetRecord(kv KV, key string, v interface{}) error {
	data, err := kv.Get([]byte(key))
	if err != nil {
		return err
	}
	raw, err := Decompress(data)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", key, err)
	}
	return Decode(raw, v)
}
