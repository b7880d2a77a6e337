package mjpeg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePart(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}

	require.NoError(t, WritePart(&buf, payload))

	out := buf.String()
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("--"+Boundary+"\r\n")))
	assert.Contains(t, out, "Content-Type: image/jpeg\r\n\r\n")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), append(payload, '\r', '\n')))
	assert.Equal(t, len(payload)+PartOverhead(), buf.Len())
}

// countingWriter fails on the nth write.
type countingWriter struct {
	writes int
	failAt int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.failAt > 0 && w.writes >= w.failAt {
		return 0, assert.AnError
	}
	return len(p), nil
}

func TestWritePart_ThreeWrites(t *testing.T) {
	w := &countingWriter{}
	require.NoError(t, WritePart(w, []byte{0x01}))
	assert.Equal(t, 3, w.writes)
}

func TestWritePart_PropagatesError(t *testing.T) {
	w := &countingWriter{failAt: 2}
	assert.Error(t, WritePart(w, []byte{0x01}))
}
