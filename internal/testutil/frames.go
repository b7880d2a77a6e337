// Package testutil provides synthetic camera frames and a fake MJPEG
// upstream for tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

// SolidJPEG encodes a single-color JPEG of the given size.
func SolidJPEG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return EncodeJPEG(img)
}

// RectJPEG encodes a JPEG with a filled rectangle over a background color.
// Moving the rectangle between two frames is the cheapest way to synthesize
// motion.
func RectJPEG(w, h int, bg, fg color.Color, rx, ry, rw, rh int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= rx && x < rx+rw && y >= ry && y < ry+rh {
				img.Set(x, y, fg)
			} else {
				img.Set(x, y, bg)
			}
		}
	}
	return EncodeJPEG(img)
}

// EncodeJPEG encodes an image at the quality the synthetic tests use.
func EncodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		// Encoding an in-memory RGBA image cannot fail; keep the helper
		// signature clean.
		panic(err)
	}
	return buf.Bytes()
}

// MinimalJPEG returns a tiny well-formed-enough payload for parser and
// framing tests that never decode the image: an SOI marker, the given body
// bytes, and an EOI marker.
func MinimalJPEG(body ...byte) []byte {
	frame := append([]byte{0xFF, 0xD8}, body...)
	return append(frame, 0xFF, 0xD9)
}
