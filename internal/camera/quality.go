package camera

import (
	"image"
	"image/color"
	"math"
)

// Quality scoring weights. Sharpness dominates because a blurry face is
// useless to the recognition engine regardless of exposure.
const (
	weightSharpness  = 0.40
	weightBrightness = 0.30
	weightContrast   = 0.30

	// Laplacian variance above this is treated as fully sharp.
	sharpnessCeiling = 1000.0
)

// ScoreQuality computes the weighted frame quality in [0,1] and its grade,
// and stamps both onto the frame.
func ScoreQuality(f *Frame) (float64, QualityGrade) {
	gray := toGray(f.Image)

	sharpness := math.Min(laplacianVariance(gray)/sharpnessCeiling, 1.0)

	mean, std := meanStddev(gray)
	// Brightness peaks at mid-gray and falls off linearly toward the clip
	// points.
	brightness := 1.0 - math.Min(1.0, 2.0*math.Abs(mean/255.0-0.5))
	contrast := math.Min(1.0, std/63.75)

	score := weightSharpness*sharpness + weightBrightness*brightness + weightContrast*contrast

	f.QualityScore = score
	f.QualityGrade = GradeFor(score)
	f.QualityKnown = true
	return score, f.QualityGrade
}

func GradeFor(score float64) QualityGrade {
	switch {
	case score >= 0.8:
		return GradeExcellent
	case score >= 0.6:
		return GradeGood
	case score >= 0.4:
		return GradeFair
	case score >= 0.2:
		return GradePoor
	default:
		return GradeUnusable
	}
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma.
			v := (299*(r>>8) + 587*(g>>8) + 114*(bl>>8)) / 1000
			gray.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return gray
}

// laplacianVariance applies the 4-neighbor Laplacian and returns the
// variance of the response, the standard sharpness estimator.
func laplacianVariance(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := float64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			up := float64(g.GrayAt(b.Min.X+x, b.Min.Y+y-1).Y)
			down := float64(g.GrayAt(b.Min.X+x, b.Min.Y+y+1).Y)
			left := float64(g.GrayAt(b.Min.X+x-1, b.Min.Y+y).Y)
			right := float64(g.GrayAt(b.Min.X+x+1, b.Min.Y+y).Y)

			lap := 4*c - up - down - left - right
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func meanStddev(g *image.Gray) (float64, float64) {
	b := g.Bounds()
	var sum, sumSq float64
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(g.GrayAt(x, y).Y)
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}
