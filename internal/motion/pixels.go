// Package motion implements the frame-difference motion detection pipeline:
// JPEG preprocessing on a worker pool, shadow-aware comparison, temporal and
// regional shadow filters, chicken-color blob tracking, and the per-source
// detection engine that ties them together.
package motion

// Pixels is a processed frame at detection resolution. Grayscale data is one
// byte per pixel; color data is packed RGB, three bytes per pixel.
type Pixels struct {
	Data   []uint8
	Width  int
	Height int
	Color  bool
}

// Len returns the expected data length for the buffer's shape.
func (p *Pixels) Len() int {
	n := p.Width * p.Height
	if p.Color {
		n *= 3
	}
	return n
}

// Gray returns the grayscale value at (x, y). For color buffers it returns
// the BT.601 luma.
func (p *Pixels) Gray(x, y int) uint8 {
	if !p.Color {
		return p.Data[y*p.Width+x]
	}
	i := (y*p.Width + x) * 3
	r, g, b := float64(p.Data[i]), float64(p.Data[i+1]), float64(p.Data[i+2])
	return uint8(0.299*r + 0.587*g + 0.114*b)
}

// RGB returns the color channels at (x, y). Grayscale buffers return the
// gray value on every channel.
func (p *Pixels) RGB(x, y int) (uint8, uint8, uint8) {
	if !p.Color {
		v := p.Data[y*p.Width+x]
		return v, v, v
	}
	i := (y*p.Width + x) * 3
	return p.Data[i], p.Data[i+1], p.Data[i+2]
}

// ignoreMask precomputes which rows are excluded from comparison.
type ignoreMask struct {
	rows    []bool
	ignored int // ignored pixels per full frame
	width   int
}

// newIgnoreMask builds the row mask for a detection frame from inclusive
// [start, end] row bands. Bands beyond the frame height are clamped.
func newIgnoreMask(width, height int, bands []Band) ignoreMask {
	m := ignoreMask{rows: make([]bool, height), width: width}
	for _, b := range bands {
		start, end := b.Start, b.End
		if start < 0 {
			start = 0
		}
		if end >= height {
			end = height - 1
		}
		for y := start; y <= end; y++ {
			if !m.rows[y] {
				m.rows[y] = true
				m.ignored += width
			}
		}
	}
	return m
}

// Band is an inclusive range of detection-frame rows excluded from
// comparison (timestamp overlays, waving foliage at the frame edge).
type Band struct {
	Start int
	End   int
}

func (m ignoreMask) skip(y int) bool {
	return m.rows[y]
}

// compared returns the number of pixels that participate in comparison.
func (m ignoreMask) compared(total int) int {
	n := total - m.ignored
	if n < 1 {
		return 1
	}
	return n
}
