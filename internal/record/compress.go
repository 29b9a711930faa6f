package record

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Payloads smaller than this are stored as-is.
const compressThreshold = 512

var errIncompressible = errors.New("record: data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("record: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("record: zstd decoder initialization failed: " + err.Error())
	}
}

// Pack returns the bytes to store and whether they are compressed.
func Pack(data []byte) ([]byte, bool) {
	if len(data) < compressThreshold {
		return data, false
	}
	compressed, err := compress(data)
	if err != nil {
		return data, false
	}
	return compressed, true
}

// Unpack reverses Pack. size is the original length.
func Unpack(stored []byte, compressed bool, size int64) ([]byte, error) {
	if !compressed {
		return stored, nil
	}
	result, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if int64(len(result)) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}

func compress(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}
