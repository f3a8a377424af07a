package vectorindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

var magic = [4]byte{'L', 'V', 'E', 'C'}

type header struct {
	Magic [4]byte
	Dim   uint32
	Count uint32
}

// encodeVectors serialises vectors as a header followed by count*dim
// little-endian float32 values. All vectors must share one length.
func encodeVectors(vectors [][]float32) ([]byte, error) {
	h := header{Magic: magic, Count: uint32(len(vectors))}
	if len(vectors) > 0 {
		h.Dim = uint32(len(vectors[0]))
	}

	buf := new(bytes.Buffer)
	buf.Grow(12 + int(h.Count)*int(h.Dim)*4)
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}
	for i, v := range vectors {
		if uint32(len(v)) != h.Dim {
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimension, i, len(v), h.Dim)
		}
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("failed to encode vector: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func decodeVectors(data []byte) ([][]float32, error) {
	r := bytes.NewReader(data)
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h.Magic[:])
	}
	if want := int64(h.Count) * int64(h.Dim) * 4; int64(r.Len()) != want {
		return nil, fmt.Errorf("%w: expected %d payload bytes, found %d", ErrCorrupt, want, r.Len())
	}

	vectors := make([][]float32, h.Count)
	for i := range vectors {
		v := make([]float32, h.Dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return nil, fmt.Errorf("%w: truncated vector %d", ErrCorrupt, i)
			}
			return nil, fmt.Errorf("failed to decode vector: %w", err)
		}
		vectors[i] = v
	}
	return vectors, nil
}
