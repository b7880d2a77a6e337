package stream

import "bytes"

// JPEG markers delimiting a frame in the MJPEG byte stream.
var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}
)

// Parser is a stateful byte machine that extracts complete JPEG frames from
// an MJPEG stream. Multipart boundaries and part headers between frames are
// skipped without being parsed: everything outside SOI..EOI is discarded.
type Parser struct {
	buf      []byte
	inFrame  bool
	scanFrom int
	maxBytes int
	resets   uint64
	frames   uint64
}

// NewParser creates a parser whose scratch buffer is capped at maxBytes.
// When no EOI arrives before the cap is hit the parser resets its state and
// keeps scanning, so a corrupt stream cannot grow the buffer without bound.
func NewParser(maxBytes int) *Parser {
	if maxBytes <= 0 {
		maxBytes = 2 * DefaultSlotSize
	}
	return &Parser{maxBytes: maxBytes}
}

// Feed consumes one chunk from the upstream body and invokes emit once per
// completed frame. The emitted slice aliases the parser's scratch buffer and
// is valid only for the duration of the callback; consumers must copy.
func (p *Parser) Feed(chunk []byte, emit func(frame []byte)) {
	p.buf = append(p.buf, chunk...)

	for {
		if !p.inFrame {
			idx := bytes.Index(p.buf, soiMarker)
			if idx < 0 {
				// Keep a trailing 0xFF in case SOI straddles the chunk edge.
				if n := len(p.buf); n > 0 && p.buf[n-1] == 0xFF {
					p.buf[0] = 0xFF
					p.buf = p.buf[:1]
				} else {
					p.buf = p.buf[:0]
				}
				return
			}
			n := copy(p.buf, p.buf[idx:])
			p.buf = p.buf[:n]
			p.inFrame = true
			p.scanFrom = len(soiMarker)
		}

		rel := bytes.Index(p.buf[p.scanFrom:], eoiMarker)
		if rel < 0 {
			if len(p.buf) > p.maxBytes {
				p.buf = p.buf[:0]
				p.inFrame = false
				p.scanFrom = 0
				p.resets++
				return
			}
			// Rescan the last byte next time in case EOI straddles chunks.
			if p.scanFrom < len(p.buf)-1 {
				p.scanFrom = len(p.buf) - 1
			}
			return
		}

		end := p.scanFrom + rel + len(eoiMarker)
		p.frames++
		emit(p.buf[:end])

		n := copy(p.buf, p.buf[end:])
		p.buf = p.buf[:n]
		p.inFrame = false
		p.scanFrom = 0
	}
}

// Resets returns how many times the scratch buffer overflowed.
func (p *Parser) Resets() uint64 {
	return p.resets
}

// Frames returns how many complete frames have been emitted.
func (p *Parser) Frames() uint64 {
	return p.frames
}
