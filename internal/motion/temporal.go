package motion

import "math"

// temporalHistorySize is how many recent frames the detector remembers.
const temporalHistorySize = 5

// temporalShadowDetector watches the short-term brightness trajectory of a
// source. A cloud passing the coop darkens or lightens the whole frame
// gradually and uniformly over a few samples; a chicken does neither. When
// the detector is confident it is watching such a drift, the engine scales
// the frame difference down instead of firing.
type temporalShadowDetector struct {
	history []*Pixels
}

func newTemporalShadowDetector() *temporalShadowDetector {
	return &temporalShadowDetector{
		history: make([]*Pixels, 0, temporalHistorySize),
	}
}

// push appends a frame to the circular history, evicting the oldest.
func (d *temporalShadowDetector) push(p *Pixels) {
	if len(d.history) == temporalHistorySize {
		copy(d.history, d.history[1:])
		d.history[temporalHistorySize-1] = p
		return
	}
	d.history = append(d.history, p)
}

// reset clears the history, used after pause so stale frames cannot vote.
func (d *temporalShadowDetector) reset() {
	d.history = d.history[:0]
}

// analyze reports whether the history looks like a global illumination
// drift, and with what confidence. Two signals multiply: how consistently
// the mean brightness moves in one direction, and how spatially uniform the
// oldest-to-newest change is.
func (d *temporalShadowDetector) analyze() (bool, float64) {
	if len(d.history) < 3 {
		return false, 0
	}

	means := make([]float64, len(d.history))
	for i, p := range d.history {
		means[i] = meanBrightness(p)
	}

	trend := means[len(means)-1] - means[0]
	consistent := 0
	steps := len(means) - 1
	for i := 0; i < steps; i++ {
		delta := means[i+1] - means[i]
		if math.Abs(delta) >= 0.5 && math.Abs(delta) <= 20 && sameSign(delta, trend) {
			consistent++
		}
	}
	monotonicity := float64(consistent) / float64(steps)

	uniformity := diffUniformity(d.history[0], d.history[len(d.history)-1])

	confidence := monotonicity * uniformity
	return confidence > 0.5, confidence
}

func meanBrightness(p *Pixels) float64 {
	var sum float64
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			sum += float64(p.Gray(x, y))
		}
	}
	return sum / float64(p.Width*p.Height)
}

// diffUniformity measures how evenly the per-pixel difference between two
// frames is distributed: 1 means every pixel moved by the same amount
// (global light change), 0 means the change is concentrated (an object).
func diffUniformity(a, b *Pixels) float64 {
	n := a.Width * a.Height
	diffs := make([]float64, 0, n)
	var sum float64
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			d := math.Abs(float64(a.Gray(x, y)) - float64(b.Gray(x, y)))
			diffs = append(diffs, d)
			sum += d
		}
	}
	mean := sum / float64(n)
	if mean < 0.5 {
		// Nothing changed at all; no drift to speak of.
		return 0
	}

	var variance float64
	for _, d := range diffs {
		variance += (d - mean) * (d - mean)
	}
	stddev := math.Sqrt(variance / float64(n))

	u := 1 - stddev/(mean+1)
	if u < 0 {
		return 0
	}
	return u
}

func sameSign(a, b float64) bool {
	return (a >= 0) == (b >= 0)
}
