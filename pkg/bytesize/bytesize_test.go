package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		in   Size
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{KB, "1KB"},
		{1536, "1.5KB"},
		{5 * MB, "5MB"},
		{Size(2.25 * float64(GB)), "2.25GB"},
		{-3 * MB, "-3MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.in))
		assert.Equal(t, tt.want, tt.in.String())
	}
}

func TestBytes(t *testing.T) {
	assert.Equal(t, int64(1048576), MB.Bytes())
}
