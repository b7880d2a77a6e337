package motion

import "math"

// colorProfile is an inclusive HSV range. Hue is degrees [0, 360); a profile
// with HueMin > HueMax wraps through 0 (red).
type colorProfile struct {
	Name           string
	HueMin, HueMax float64
	SatMin, SatMax float64
	ValMin, ValMax float64
}

// chickenProfiles covers the plumage in the flock: white leghorns, brown
// hens, and the orange/red of combs and buff feathers.
var chickenProfiles = []colorProfile{
	{Name: "white", HueMin: 0, HueMax: 360, SatMin: 0, SatMax: 0.2, ValMin: 0.7, ValMax: 1},
	{Name: "brown", HueMin: 10, HueMax: 40, SatMin: 0.3, SatMax: 0.8, ValMin: 0.2, ValMax: 0.7},
	{Name: "orange", HueMin: 20, HueMax: 50, SatMin: 0.5, SatMax: 1, ValMin: 0.5, ValMax: 1},
	{Name: "red", HueMin: 350, HueMax: 10, SatMin: 0.5, SatMax: 1, ValMin: 0.3, ValMax: 1},
}

func (p colorProfile) matches(h, s, v float64) bool {
	if s < p.SatMin || s > p.SatMax || v < p.ValMin || v > p.ValMax {
		return false
	}
	if p.HueMin <= p.HueMax {
		return h >= p.HueMin && h <= p.HueMax
	}
	return h >= p.HueMin || h <= p.HueMax
}

// Blob is one connected component of chicken-colored pixels.
type Blob struct {
	Area                   int
	CentroidX, CentroidY   float64
	MinX, MinY, MaxX, MaxY int
}

// AspectRatio returns width/height of the bounding box.
func (b Blob) AspectRatio() float64 {
	w := float64(b.MaxX - b.MinX + 1)
	h := float64(b.MaxY - b.MinY + 1)
	return w / h
}

// chickenMask marks pixels matching any chicken color profile.
func chickenMask(p *Pixels) []bool {
	mask := make([]bool, p.Width*p.Height)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			r, g, b := p.RGB(x, y)
			h, s, v := rgbToHSV(r, g, b)
			for _, prof := range chickenProfiles {
				if prof.matches(h, s, v) {
					mask[y*p.Width+x] = true
					break
				}
			}
		}
	}
	return mask
}

// findBlobs labels connected components in the mask using 8-connectivity
// and discards those under minArea.
func findBlobs(mask []bool, width, height, minArea int) []Blob {
	visited := make([]bool, len(mask))
	var blobs []Blob
	var stack []int

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}

		blob := Blob{MinX: width, MinY: height, MaxX: -1, MaxY: -1}
		var sumX, sumY int
		stack = append(stack[:0], start)
		visited[start] = true

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%width, i/width

			blob.Area++
			sumX += x
			sumY += y
			if x < blob.MinX {
				blob.MinX = x
			}
			if x > blob.MaxX {
				blob.MaxX = x
			}
			if y < blob.MinY {
				blob.MinY = y
			}
			if y > blob.MaxY {
				blob.MaxY = y
			}

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= width || ny >= height {
						continue
					}
					n := ny*width + nx
					if mask[n] && !visited[n] {
						visited[n] = true
						stack = append(stack, n)
					}
				}
			}
		}

		if blob.Area >= minArea {
			blob.CentroidX = float64(sumX) / float64(blob.Area)
			blob.CentroidY = float64(sumY) / float64(blob.Area)
			blobs = append(blobs, blob)
		}
	}
	return blobs
}

// validateBlobs reports whether any blob looks like a chicken: big enough,
// roughly chicken-shaped, and not a color-cast over most of the frame.
func validateBlobs(blobs []Blob, frameArea, minArea int) bool {
	for _, b := range blobs {
		if b.Area < minArea {
			continue
		}
		ar := b.AspectRatio()
		if ar < 0.3 || ar > 3.0 {
			continue
		}
		frac := float64(b.Area) / float64(frameArea)
		if frac < 0.001 || frac > 0.5 {
			continue
		}
		return true
	}
	return false
}

// trackedBlob is a blob followed across frames in color_first mode.
type trackedBlob struct {
	cx, cy   float64
	lifetime int
	seen     bool
}

// BlobTrackerConfig tunes the color_first tracker.
type BlobTrackerConfig struct {
	MinBlobSize      int
	MaxMatchDistance float64
	MinBlobMovement  float64
	MinBlobLifetime  int
}

// blobTracker follows chicken-colored blobs frame to frame. Motion is a
// tracked blob that both persisted and actually moved; a blob that appears
// for a single frame (noise, a lighting flicker) never fires.
type blobTracker struct {
	cfg     BlobTrackerConfig
	tracked []trackedBlob
}

func newBlobTracker(cfg BlobTrackerConfig) *blobTracker {
	if cfg.MinBlobSize < 1 {
		cfg.MinBlobSize = 4
	}
	if cfg.MaxMatchDistance <= 0 {
		cfg.MaxMatchDistance = 8
	}
	if cfg.MinBlobMovement <= 0 {
		cfg.MinBlobMovement = 1.5
	}
	if cfg.MinBlobLifetime < 2 {
		cfg.MinBlobLifetime = 2
	}
	return &blobTracker{cfg: cfg}
}

func (t *blobTracker) reset() {
	t.tracked = t.tracked[:0]
}

// update ingests the blobs of one frame and reports whether any tracked
// blob moved this frame.
func (t *blobTracker) update(blobs []Blob) bool {
	for i := range t.tracked {
		t.tracked[i].seen = false
	}

	moved := false
	var next []trackedBlob

	for _, b := range blobs {
		bestIdx := -1
		bestDist := t.cfg.MaxMatchDistance
		for i, tr := range t.tracked {
			if tr.seen {
				continue
			}
			d := math.Hypot(b.CentroidX-tr.cx, b.CentroidY-tr.cy)
			if d <= bestDist {
				bestDist = d
				bestIdx = i
			}
		}

		if bestIdx >= 0 {
			tr := &t.tracked[bestIdx]
			tr.seen = true
			lifetime := tr.lifetime + 1
			if bestDist >= t.cfg.MinBlobMovement && lifetime >= t.cfg.MinBlobLifetime {
				moved = true
			}
			next = append(next, trackedBlob{cx: b.CentroidX, cy: b.CentroidY, lifetime: lifetime})
		} else {
			next = append(next, trackedBlob{cx: b.CentroidX, cy: b.CentroidY, lifetime: 1})
		}
	}

	// Unmatched tracked blobs are dropped; a chicken that left the frame is
	// re-acquired as a new blob when it returns.
	t.tracked = next
	return moved
}

// detect runs the full color_first step for one frame.
func (t *blobTracker) detect(p *Pixels) bool {
	mask := chickenMask(p)
	blobs := findBlobs(mask, p.Width, p.Height, t.cfg.MinBlobSize)
	return t.update(blobs)
}

// rgbToHSV converts 8-bit RGB to (hue degrees, saturation 0..1, value 0..1).
func rgbToHSV(r, g, b uint8) (float64, float64, float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	maxV := math.Max(rf, math.Max(gf, bf))
	minV := math.Min(rf, math.Min(gf, bf))
	delta := maxV - minV

	var h float64
	switch {
	case delta == 0:
		h = 0
	case maxV == rf:
		h = 60 * math.Mod((gf-bf)/delta, 6)
	case maxV == gf:
		h = 60 * ((bf-rf)/delta + 2)
	default:
		h = 60 * ((rf-gf)/delta + 4)
	}
	if h < 0 {
		h += 360
	}

	var s float64
	if maxV > 0 {
		s = delta / maxV
	}
	return h, s, maxV
}
