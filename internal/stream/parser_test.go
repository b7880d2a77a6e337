package stream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testJPEG builds a minimal well-delimited payload: SOI, body, EOI.
func testJPEG(body ...byte) []byte {
	frame := []byte{0xFF, 0xD8}
	frame = append(frame, body...)
	return append(frame, 0xFF, 0xD9)
}

func collectFrames(p *Parser, chunks ...[]byte) [][]byte {
	var out [][]byte
	for _, c := range chunks {
		p.Feed(c, func(frame []byte) {
			out = append(out, bytes.Clone(frame))
		})
	}
	return out
}

func TestParserSingleFrame(t *testing.T) {
	p := NewParser(0)
	frame := testJPEG(0x01, 0x02, 0x03)

	got := collectFrames(p, frame)

	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
	assert.Equal(t, uint64(1), p.Frames())
}

func TestParserSkipsMultipartChrome(t *testing.T) {
	p := NewParser(0)
	frame := testJPEG(0xAA)
	stream := []byte("--mjpegBoundary\r\nContent-Type: image/jpeg\r\n\r\n")
	stream = append(stream, frame...)
	stream = append(stream, []byte("\r\n--mjpegBoundary\r\n")...)

	got := collectFrames(p, stream)

	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
}

func TestParserMultipleFramesOneChunk(t *testing.T) {
	p := NewParser(0)
	f1 := testJPEG(0x01)
	f2 := testJPEG(0x02, 0x03)
	f3 := testJPEG(0x04)

	var stream []byte
	stream = append(stream, f1...)
	stream = append(stream, f2...)
	stream = append(stream, f3...)

	got := collectFrames(p, stream)

	require.Len(t, got, 3)
	assert.Equal(t, f1, got[0])
	assert.Equal(t, f2, got[1])
	assert.Equal(t, f3, got[2])
}

func TestParserFrameSplitAcrossChunks(t *testing.T) {
	frame := testJPEG(0x10, 0x20, 0x30, 0x40)

	// Every possible split point must yield the identical frame.
	for cut := 1; cut < len(frame); cut++ {
		p := NewParser(0)
		got := collectFrames(p, frame[:cut], frame[cut:])
		require.Len(t, got, 1, "cut at %d", cut)
		assert.Equal(t, frame, got[0], "cut at %d", cut)
	}
}

func TestParserMarkerStraddlesChunks(t *testing.T) {
	p := NewParser(0)
	frame := testJPEG(0x01)

	// SOI split: 0xFF at the end of one chunk, 0xD8 at the start of the next.
	got := collectFrames(p,
		[]byte{'j', 'u', 'n', 'k', 0xFF},
		append([]byte{0xD8, 0x01}, 0xFF, 0xD9),
	)
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])

	// EOI split the same way.
	p = NewParser(0)
	got = collectFrames(p,
		[]byte{0xFF, 0xD8, 0x01, 0xFF},
		[]byte{0xD9},
	)
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
}

func TestParserByteAtATime(t *testing.T) {
	p := NewParser(0)
	frame := testJPEG(0x0A, 0x0B, 0x0C)

	var got [][]byte
	for _, b := range frame {
		p.Feed([]byte{b}, func(f []byte) {
			got = append(got, bytes.Clone(f))
		})
	}

	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
}

func TestParserDiscardsGarbageBetweenFrames(t *testing.T) {
	p := NewParser(0)
	f1 := testJPEG(0x01)
	f2 := testJPEG(0x02)

	var stream []byte
	stream = append(stream, []byte("noise")...)
	stream = append(stream, f1...)
	stream = append(stream, []byte("more noise")...)
	stream = append(stream, f2...)

	got := collectFrames(p, stream)
	require.Len(t, got, 2)
	assert.Equal(t, f1, got[0])
	assert.Equal(t, f2, got[1])
}

func TestParserOverflowResets(t *testing.T) {
	p := NewParser(64)

	// SOI with no EOI, fed past the cap.
	p.Feed([]byte{0xFF, 0xD8}, func([]byte) { t.Fatal("no frame expected") })
	p.Feed(make([]byte, 128), func([]byte) { t.Fatal("no frame expected") })

	assert.Equal(t, uint64(1), p.Resets())

	// A clean frame afterwards still parses.
	frame := testJPEG(0x01)
	got := collectFrames(p, frame)
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
}
