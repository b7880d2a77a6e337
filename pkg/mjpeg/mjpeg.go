// Package mjpeg implements the multipart/x-mixed-replace framing used to
// deliver motion-JPEG over HTTP.
package mjpeg

import "io"

// Boundary is the multipart boundary token used on every stream response.
const Boundary = "mjpegBoundary"

// ContentType is the response Content-Type for an MJPEG stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

var (
	partHeader  = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")
	partTrailer = []byte("\r\n")
)

// WritePart writes one JPEG frame as a multipart part. The header, payload,
// and trailer are written separately, never concatenated, so the runtime can
// use vectored I/O on the socket.
func WritePart(w io.Writer, jpeg []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write(partTrailer)
	return err
}

// PartOverhead is the number of framing bytes added around each frame.
func PartOverhead() int {
	return len(partHeader) + len(partTrailer)
}
