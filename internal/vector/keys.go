package vector

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// PerceptualHash computes an average-hash over the 64x64 grayscale downscale
// of the frame. Near-identical consecutive frames collapse to the same key,
// which is what lets the image cache short-circuit redundant recognition.
func PerceptualHash(img image.Image) string {
	const side = 64
	small := image.NewGray(image.Rect(0, 0, side, side))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	var sum uint64
	for _, p := range small.Pix {
		sum += uint64(p)
	}
	mean := uint8(sum / uint64(len(small.Pix)))

	var sb strings.Builder
	var acc uint64
	bits := 0
	for _, p := range small.Pix {
		acc <<= 1
		if p > mean {
			acc |= 1
		}
		bits++
		if bits == 64 {
			fmt.Fprintf(&sb, "%016x", acc)
			acc, bits = 0, 0
		}
	}
	return sb.String()
}

// EmbeddingKey quantizes each component to 4 decimal places and packs the
// result, so embeddings that differ only by float noise share a key.
func EmbeddingKey(v []float32) string {
	buf := make([]byte, 0, len(v)*2)
	tmp := make([]byte, 2)
	for _, x := range v {
		q := int16(math.Round(float64(x) * 1e4))
		binary.BigEndian.PutUint16(tmp, uint16(q))
		buf = append(buf, tmp...)
	}
	return string(buf)
}
