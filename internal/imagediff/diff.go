// Package imagediff compares rendered rasters with the reference image.
package imagediff

import (
	"fmt"
	"image"
	"math"
)

// Stats summarises the absolute per-channel difference of two images, on an
// 8-bit scale. Alpha is ignored.
type Stats struct {
	Pixels int
	Sum    [3]float64
	RMS    [3]float64
}

// Difference compares a and b pixel by pixel. Both must have the same size.
func Difference(a, b image.Image) (Stats, error) {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return Stats{}, fmt.Errorf("image size mismatch: %dx%d vs %dx%d", ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}

	var stats Stats
	var squares [3]float64
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			ar, ag, abl, _ := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			br, bg, bbl, _ := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			deltas := [3]float64{
				channelDelta(ar, br),
				channelDelta(ag, bg),
				channelDelta(abl, bbl),
			}
			for c, d := range deltas {
				stats.Sum[c] += d
				squares[c] += d * d
			}
			stats.Pixels++
		}
	}
	if stats.Pixels > 0 {
		for c := range squares {
			stats.RMS[c] = math.Sqrt(squares[c] / float64(stats.Pixels))
		}
	}
	return stats, nil
}

func channelDelta(a, b uint32) float64 {
	return math.Abs(float64(a>>8) - float64(b>>8))
}
