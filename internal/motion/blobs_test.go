package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paintRect fills an RGB rectangle in a color pixel buffer.
func paintRect(p *Pixels, x0, y0, x1, y1 int, r, g, b uint8) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			i := (y*p.Width + x) * 3
			p.Data[i] = r
			p.Data[i+1] = g
			p.Data[i+2] = b
		}
	}
}

// greenField is a background no chicken profile matches.
func greenField(w, h int) *Pixels {
	return colorPixels(w, h, 30, 120, 30)
}

func TestRGBToHSV(t *testing.T) {
	h, s, v := rgbToHSV(255, 0, 0)
	assert.InDelta(t, 0, h, 1e-9)
	assert.InDelta(t, 1, s, 1e-9)
	assert.InDelta(t, 1, v, 1e-9)

	h, s, v = rgbToHSV(0, 255, 0)
	assert.InDelta(t, 120, h, 1e-9)

	h, s, v = rgbToHSV(255, 255, 255)
	assert.Zero(t, h)
	assert.Zero(t, s)
	assert.InDelta(t, 1, v, 1e-9)
}

func TestChickenProfileMatching(t *testing.T) {
	cases := []struct {
		name    string
		r, g, b uint8
		want    bool
	}{
		{"white feathers", 240, 240, 235, true},
		{"brown hen", 140, 90, 50, true},
		{"red comb", 220, 30, 40, true},
		{"green grass", 30, 120, 30, false},
		{"blue tarp", 30, 60, 200, false},
		{"black shadow", 15, 15, 15, false},
	}
	for _, tc := range cases {
		h, s, v := rgbToHSV(tc.r, tc.g, tc.b)
		got := false
		for _, prof := range chickenProfiles {
			if prof.matches(h, s, v) {
				got = true
				break
			}
		}
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestFindBlobs8Connectivity(t *testing.T) {
	w, h := 8, 8
	mask := make([]bool, w*h)
	// Two pixels touching only diagonally: one blob under 8-connectivity.
	mask[1*w+1] = true
	mask[2*w+2] = true
	mask[3*w+3] = true

	blobs := findBlobs(mask, w, h, 1)
	require.Len(t, blobs, 1)
	assert.Equal(t, 3, blobs[0].Area)
	assert.InDelta(t, 2, blobs[0].CentroidX, 1e-9)
	assert.InDelta(t, 2, blobs[0].CentroidY, 1e-9)
}

func TestFindBlobsSeparatesAndFilters(t *testing.T) {
	w, h := 16, 16
	mask := make([]bool, w*h)
	// A 3x3 blob and a lone pixel far away.
	for y := 2; y <= 4; y++ {
		for x := 2; x <= 4; x++ {
			mask[y*w+x] = true
		}
	}
	mask[12*w+12] = true

	blobs := findBlobs(mask, w, h, 4)
	require.Len(t, blobs, 1)
	assert.Equal(t, 9, blobs[0].Area)
	assert.Equal(t, 2, blobs[0].MinX)
	assert.Equal(t, 4, blobs[0].MaxY)
}

func TestValidateBlobs(t *testing.T) {
	frameArea := 64 * 48

	ok := Blob{Area: 20, MinX: 10, MaxX: 15, MinY: 10, MaxY: 14}
	assert.True(t, validateBlobs([]Blob{ok}, frameArea, 4))

	// A 1-pixel-tall streak: aspect ratio way past 3.
	streak := Blob{Area: 20, MinX: 0, MaxX: 19, MinY: 5, MaxY: 5}
	assert.False(t, validateBlobs([]Blob{streak}, frameArea, 4))

	// Covers most of the frame: a lighting change, not a bird.
	flood := Blob{Area: frameArea * 3 / 4, MinX: 0, MaxX: 63, MinY: 0, MaxY: 47}
	assert.False(t, validateBlobs([]Blob{flood}, frameArea, 4))

	assert.False(t, validateBlobs(nil, frameArea, 4))
}

func TestBlobTrackerRequiresLifetimeAndMovement(t *testing.T) {
	tr := newBlobTracker(BlobTrackerConfig{
		MinBlobSize:      4,
		MaxMatchDistance: 8,
		MinBlobMovement:  1.5,
		MinBlobLifetime:  2,
	})

	w, h := 32, 24
	frame := func(x0, y0 int) *Pixels {
		p := greenField(w, h)
		paintRect(p, x0, y0, x0+3, y0+3, 240, 240, 235) // white hen
		return p
	}

	// First sighting: lifetime 1, no decision possible.
	assert.False(t, tr.detect(frame(4, 4)))

	// Second frame, moved 3px: lifetime 2 and movement over threshold.
	assert.True(t, tr.detect(frame(7, 4)))

	// Third frame, same place: no movement, no motion.
	assert.False(t, tr.detect(frame(7, 4)))
}

func TestBlobTrackerIgnoresTeleports(t *testing.T) {
	tr := newBlobTracker(BlobTrackerConfig{
		MinBlobSize:      4,
		MaxMatchDistance: 8,
		MinBlobMovement:  1.5,
		MinBlobLifetime:  2,
	})

	w, h := 32, 24
	frame := func(x0, y0 int) *Pixels {
		p := greenField(w, h)
		paintRect(p, x0, y0, x0+3, y0+3, 240, 240, 235)
		return p
	}

	assert.False(t, tr.detect(frame(2, 2)))
	// Far beyond maxMatchDistance: treated as a brand-new blob, lifetime 1.
	assert.False(t, tr.detect(frame(24, 18)))
}

func TestBlobTrackerResetClearsHistory(t *testing.T) {
	tr := newBlobTracker(BlobTrackerConfig{MinBlobLifetime: 2})

	w, h := 32, 24
	p := greenField(w, h)
	paintRect(p, 4, 4, 7, 7, 240, 240, 235)

	tr.detect(p)
	require.NotEmpty(t, tr.tracked)
	tr.reset()
	assert.Empty(t, tr.tracked)
}
