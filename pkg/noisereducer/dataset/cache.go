package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/himanishpuri/NoiseReducer/internal/kv"
)

// cacheKey identifies a decoded file by path, size, mtime and rate, so an
// edited file is decoded again.
func cacheKey(path string, rate int) (kv.Key, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: stat %s: %w", path, err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d", path, info.Size(), info.ModTime().UnixNano())
	return kv.Key{"wave", strconv.Itoa(rate), hex.EncodeToString(h.Sum(nil))}, nil
}

func encodeSamples(samples []float32) []byte {
	b := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func decodeSamples(b []byte) ([]float32, bool) {
	if len(b)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, true
}
