package motion

import "math"

// Comparison summarizes the pixel difference between two processed frames.
// Changed and Shadow are per-pixel masks in row-major order; ignored rows
// stay false in both.
type Comparison struct {
	ChangedPixels        int
	ComparedPixels       int
	NormalizedDifference float64
	ShadowPixels         int
	ShadowRatio          float64
	Changed              []bool
	Shadow               []bool
}

// Thresholds used by the shadow-aware branches when the time-based schedule
// is disabled.
const (
	defaultBaseThreshold   = 25.0
	defaultShadowThreshold = 40.0
	// rawPixelThreshold is the plain per-pixel change threshold for the
	// non-shadow branch.
	rawPixelThreshold = 25
)

// compareRaw is the plain branch: a pixel changed if the absolute gray
// difference exceeds a fixed threshold. Ignored rows are excluded from both
// the changed count and the denominator.
func compareRaw(cur, prev *Pixels, mask ignoreMask) Comparison {
	c := newComparison(cur)
	for y := 0; y < cur.Height; y++ {
		if mask.skip(y) {
			continue
		}
		for x := 0; x < cur.Width; x++ {
			d := absDiff(cur.Gray(x, y), prev.Gray(x, y))
			if d > rawPixelThreshold {
				c.ChangedPixels++
				c.Changed[y*cur.Width+x] = true
			}
		}
	}
	c.ComparedPixels = mask.compared(cur.Width * cur.Height)
	c.NormalizedDifference = float64(c.ChangedPixels) / float64(c.ComparedPixels)
	return c
}

// compareGrayShadow is the shadow-aware grayscale branch. A pixel whose
// brightness ratio falls in the shadow band gets the higher shadow
// threshold; both thresholds scale with scene brightness so dusk frames are
// not over-sensitive.
func compareGrayShadow(cur, prev *Pixels, mask ignoreMask, base, shadow float64) Comparison {
	c := newComparison(cur)
	scale := brightnessScale(cur, prev, mask)

	for y := 0; y < cur.Height; y++ {
		if mask.skip(y) {
			continue
		}
		for x := 0; x < cur.Width; x++ {
			v1 := float64(prev.Gray(x, y))
			v2 := float64(cur.Gray(x, y))
			r := v2 / (v1 + 10)
			diff := math.Abs(v1 - v2)

			threshold := base * scale
			if r > 0.3 && r < 0.8 {
				c.ShadowPixels++
				c.Shadow[y*cur.Width+x] = true
				threshold = shadow * scale
			}
			if diff > threshold {
				c.ChangedPixels++
				c.Changed[y*cur.Width+x] = true
			}
		}
	}
	c.ComparedPixels = mask.compared(cur.Width * cur.Height)
	c.NormalizedDifference = float64(c.ChangedPixels) / float64(c.ComparedPixels)
	c.ShadowRatio = float64(c.ShadowPixels) / float64(c.ComparedPixels)
	return c
}

// compareColorShadow is the shadow-aware RGB branch. A luminance shift with
// stable hue and a plausible darkening ratio is classified as shadow rather
// than change; everything else changes on max channel diff or luma diff.
func compareColorShadow(cur, prev *Pixels, mask ignoreMask, base, shadow float64) Comparison {
	c := newComparison(cur)
	colorThreshold := base * 1.2

	for y := 0; y < cur.Height; y++ {
		if mask.skip(y) {
			continue
		}
		for x := 0; x < cur.Width; x++ {
			r1, g1, b1 := prev.RGB(x, y)
			r2, g2, b2 := cur.RGB(x, y)

			lum1 := luma(r1, g1, b1)
			lum2 := luma(r2, g2, b2)
			lumDiff := math.Abs(lum1 - lum2)

			maxChannel := float64(absDiff(r1, r2))
			if d := float64(absDiff(g1, g2)); d > maxChannel {
				maxChannel = d
			}
			if d := float64(absDiff(b1, b2)); d > maxChannel {
				maxChannel = d
			}

			hueChange := hueDistance(hue(r1, g1, b1), hue(r2, g2, b2))
			minLum, maxLum := lum1, lum2
			if minLum > maxLum {
				minLum, maxLum = maxLum, minLum
			}

			if lumDiff > shadow && hueChange < 20 && minLum/(maxLum+1) > 0.5 {
				c.ShadowPixels++
				c.Shadow[y*cur.Width+x] = true
				continue
			}
			if maxChannel > colorThreshold || lumDiff > base {
				c.ChangedPixels++
				c.Changed[y*cur.Width+x] = true
			}
		}
	}
	c.ComparedPixels = mask.compared(cur.Width * cur.Height)
	c.NormalizedDifference = float64(c.ChangedPixels) / float64(c.ComparedPixels)
	c.ShadowRatio = float64(c.ShadowPixels) / float64(c.ComparedPixels)
	return c
}

func newComparison(p *Pixels) Comparison {
	n := p.Width * p.Height
	return Comparison{
		Changed: make([]bool, n),
		Shadow:  make([]bool, n),
	}
}

// brightnessScale scales thresholds by mean scene brightness, clamped to
// [0.5, 1.5] around a mid-gray reference.
func brightnessScale(cur, prev *Pixels, mask ignoreMask) float64 {
	var sum float64
	var n int
	for y := 0; y < cur.Height; y++ {
		if mask.skip(y) {
			continue
		}
		for x := 0; x < cur.Width; x++ {
			sum += float64(cur.Gray(x, y)) + float64(prev.Gray(x, y))
			n += 2
		}
	}
	if n == 0 {
		return 1
	}
	scale := (sum / float64(n)) / 128
	if scale < 0.5 {
		return 0.5
	}
	if scale > 1.5 {
		return 1.5
	}
	return scale
}

func luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// hue returns the HSV hue in degrees [0, 360). Achromatic pixels return 0.
func hue(r, g, b uint8) float64 {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	maxV := math.Max(rf, math.Max(gf, bf))
	minV := math.Min(rf, math.Min(gf, bf))
	delta := maxV - minV
	if delta == 0 {
		return 0
	}
	var h float64
	switch maxV {
	case rf:
		h = math.Mod((gf-bf)/delta, 6)
	case gf:
		h = (bf-rf)/delta + 2
	default:
		h = (rf-gf)/delta + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h
}

// hueDistance is the shortest circular distance between two hues in degrees.
func hueDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
