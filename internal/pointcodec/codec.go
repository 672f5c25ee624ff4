// Package pointcodec implements the compact binary encoding for point lists
// stored in annotation rows and bundle payloads.
//
// Format (little-endian): int32 count, then count times (float32 x, float32 y).
// A nil point encodes as a NaN pair; a non-finite pair decodes back to nil so
// legacy malformed rows survive a decode instead of aborting it.
package pointcodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hyperjump/fusen/internal/models"
)

// Encode serializes points into the binary blob format.
func Encode(points []*models.Point) []byte {
	buf := make([]byte, 4+len(points)*8)
	binary.LittleEndian.PutUint32(buf, uint32(len(points)))
	off := 4
	for _, p := range points {
		x, y := float32(math.NaN()), float32(math.NaN())
		if p != nil {
			x, y = p.X, p.Y
		}
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(x))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(y))
		off += 8
	}
	return buf
}

// Decode parses a blob produced by Encode. Entries with NaN or infinite
// coordinates decode to nil. A truncated or corrupt blob returns an error.
func Decode(blob []byte) ([]*models.Point, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("point blob too short: %d bytes", len(blob))
	}
	n := int(int32(binary.LittleEndian.Uint32(blob)))
	if n < 0 {
		return nil, fmt.Errorf("point blob has negative count %d", n)
	}
	if len(blob) < 4+n*8 {
		return nil, fmt.Errorf("point blob truncated: %d bytes for %d points", len(blob), n)
	}
	out := make([]*models.Point, n)
	off := 4
	for i := 0; i < n; i++ {
		x := math.Float32frombits(binary.LittleEndian.Uint32(blob[off:]))
		y := math.Float32frombits(binary.LittleEndian.Uint32(blob[off+4:]))
		off += 8
		p := models.Point{X: x, Y: y}
		if p.IsFinite() {
			out[i] = &p
		}
	}
	return out, nil
}
