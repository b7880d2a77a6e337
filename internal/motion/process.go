package motion

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sort"

	"golang.org/x/image/draw"
)

// ProcessConfig controls how a raw JPEG becomes a detection-resolution
// pixel buffer.
type ProcessConfig struct {
	Width           int
	Height          int
	Color           bool
	ShadowEnabled   bool
	ShadowIntensity float64 // 0..1
}

// processFrame decodes a JPEG, downsamples it with a nearest-neighbor
// kernel, converts to gray or packed RGB, and optionally applies
// illumination normalization. This is the worker-pool task body.
func processFrame(data []byte, cfg ProcessConfig) (*Pixels, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding jpeg: %w", err)
	}

	small := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.NearestNeighbor.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	p := &Pixels{Width: cfg.Width, Height: cfg.Height, Color: cfg.Color}
	p.Data = make([]uint8, p.Len())

	if cfg.Color {
		for y := 0; y < cfg.Height; y++ {
			for x := 0; x < cfg.Width; x++ {
				i := small.PixOffset(x, y)
				o := (y*cfg.Width + x) * 3
				p.Data[o] = small.Pix[i]
				p.Data[o+1] = small.Pix[i+1]
				p.Data[o+2] = small.Pix[i+2]
			}
		}
	} else {
		for y := 0; y < cfg.Height; y++ {
			for x := 0; x < cfg.Width; x++ {
				i := small.PixOffset(x, y)
				r, g, b := float64(small.Pix[i]), float64(small.Pix[i+1]), float64(small.Pix[i+2])
				p.Data[y*cfg.Width+x] = uint8(0.299*r + 0.587*g + 0.114*b)
			}
		}
	}

	if cfg.ShadowEnabled {
		normalizeIllumination(p, cfg.ShadowIntensity)
	}
	return p, nil
}

// normalizeIllumination flattens global lighting changes so a passing cloud
// does not read as whole-frame motion: clip the histogram at the 2nd/98th
// percentiles, stretch contrast proportionally to intensity, then smooth
// with a 3x3 median filter.
func normalizeIllumination(p *Pixels, intensity float64) {
	if intensity <= 0 {
		return
	}
	if intensity > 1 {
		intensity = 1
	}

	channels := 1
	if p.Color {
		channels = 3
	}
	n := p.Width * p.Height

	for c := 0; c < channels; c++ {
		sorted := make([]uint8, n)
		for i := 0; i < n; i++ {
			sorted[i] = p.Data[i*channels+c]
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		lo := float64(sorted[n*2/100])
		hi := float64(sorted[n*98/100])
		if hi-lo < 1 {
			continue
		}
		scale := 255 / (hi - lo)

		for i := 0; i < n; i++ {
			v := float64(p.Data[i*channels+c])
			stretched := (v - lo) * scale
			blended := v + (stretched-v)*intensity
			p.Data[i*channels+c] = clampByte(blended)
		}
	}

	medianFilter3(p)
}

// medianFilter3 applies a 3x3 median filter in place, per channel. Border
// pixels are left untouched.
func medianFilter3(p *Pixels) {
	channels := 1
	if p.Color {
		channels = 3
	}
	src := make([]uint8, len(p.Data))
	copy(src, p.Data)

	var window [9]uint8
	for y := 1; y < p.Height-1; y++ {
		for x := 1; x < p.Width-1; x++ {
			for c := 0; c < channels; c++ {
				k := 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						window[k] = src[((y+dy)*p.Width+(x+dx))*channels+c]
						k++
					}
				}
				p.Data[(y*p.Width+x)*channels+c] = median9(window)
			}
		}
	}
}

func median9(w [9]uint8) uint8 {
	// Insertion sort; nine elements, no allocation.
	for i := 1; i < 9; i++ {
		v := w[i]
		j := i - 1
		for j >= 0 && w[j] > v {
			w[j+1] = w[j]
			j--
		}
		w[j+1] = v
	}
	return w[4]
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
