package embedding

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strconv"
)

// chunksPerDigest is the number of 4-byte values one SHA-256 digest yields.
const chunksPerDigest = sha256.Size / 4

// Fallback derives a deterministic unit vector of length dims from text. It
// depends on nothing but its inputs, so the same text always maps to the same
// bits whether or not the remote service is reachable.
func Fallback(text string, dims int) []float32 {
	if dims <= 0 {
		return nil
	}

	values := make([]float64, 0, dims)
	seeds := (dims + chunksPerDigest - 1) / chunksPerDigest
	for i := 0; i < seeds && len(values) < dims; i++ {
		digest := sha256.Sum256([]byte(text + "_" + strconv.Itoa(i)))
		for j := 0; j < len(digest) && len(values) < dims; j += 4 {
			v := int32(binary.LittleEndian.Uint32(digest[j : j+4]))
			values = append(values, float64(v)/(1<<31))
		}
	}

	var norm float64
	for _, v := range values {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dims)
	for i, v := range values {
		if norm > 0 {
			v /= norm
		}
		out[i] = float32(v)
	}
	return out
}
