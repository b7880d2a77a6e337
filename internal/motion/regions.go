package motion

import "math"

// shadowFreqAlpha is the smoothing factor for per-region shadow history.
const shadowFreqAlpha = 0.1

// regionAnalyzer divides the frame into a g x g grid and votes on motion
// per region instead of globally. A shadow sweeping the run floor lights up
// one or two edge regions; a chicken crossing lights up several interior
// ones. Each region also carries a slow-moving shadow frequency so
// chronically shadow-heavy regions (under the roost bar) lose their vote.
type regionAnalyzer struct {
	grid       int
	minActive  int
	shadowFreq []float64
}

// regionVote is the analyzer's decision with its supporting counts.
type regionVote struct {
	Motion        bool
	Confidence    float64
	Active        int
	NonShadow     int
	ShadowRegions int
}

func newRegionAnalyzer(grid, minActive int) *regionAnalyzer {
	if grid < 2 {
		grid = 4
	}
	if minActive < 1 {
		minActive = 2
	}
	return &regionAnalyzer{
		grid:       grid,
		minActive:  minActive,
		shadowFreq: make([]float64, grid*grid),
	}
}

func (r *regionAnalyzer) reset() {
	for i := range r.shadowFreq {
		r.shadowFreq[i] = 0
	}
}

// analyze votes on the comparison masks. threshold is the per-region
// changed-pixel ratio above which a region counts as active.
func (r *regionAnalyzer) analyze(c Comparison, width, height int, threshold float64) regionVote {
	cellW := int(math.Ceil(float64(width) / float64(r.grid)))
	cellH := int(math.Ceil(float64(height) / float64(r.grid)))

	var vote regionVote
	var weighted float64

	for gy := 0; gy < r.grid; gy++ {
		for gx := 0; gx < r.grid; gx++ {
			total, changed, shadow := 0, 0, 0
			for y := gy * cellH; y < (gy+1)*cellH && y < height; y++ {
				for x := gx * cellW; x < (gx+1)*cellW && x < width; x++ {
					total++
					i := y*width + x
					if c.Changed[i] {
						changed++
					}
					if c.Shadow[i] {
						shadow++
					}
				}
			}
			if total == 0 {
				continue
			}

			idx := gy*r.grid + gx
			changeRatio := float64(changed) / float64(total)
			shadowHere := float64(shadow)/float64(total) > 0.5
			r.shadowFreq[idx] = r.shadowFreq[idx]*(1-shadowFreqAlpha) + boolTo1(shadowHere)*shadowFreqAlpha

			active := changeRatio > threshold
			edge := gy == 0 || gy == r.grid-1 || gx == 0 || gx == r.grid-1
			isShadow := r.shadowFreq[idx] > 0.5 ||
				(edge && c.ShadowRatio > 0.6 && changeRatio > 0.03)

			if isShadow {
				vote.ShadowRegions++
			}
			if active {
				vote.Active++
				if isShadow {
					weighted += changeRatio * 0.3
				} else {
					vote.NonShadow++
					weighted += changeRatio
				}
			}
		}
	}

	weighted /= float64(r.grid * r.grid)

	vote.Motion = vote.NonShadow >= r.minActive ||
		(weighted > threshold && vote.ShadowRegions < vote.Active)

	denom := vote.Active
	if denom < 1 {
		denom = 1
	}
	vote.Confidence = math.Min(1, float64(vote.NonShadow)/float64(r.minActive)) *
		(1 - float64(vote.ShadowRegions)/float64(denom))
	if vote.Confidence < 0 {
		vote.Confidence = 0
	}
	return vote
}

func boolTo1(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
