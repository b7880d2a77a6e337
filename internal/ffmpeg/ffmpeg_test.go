package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	out := "ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc\n"
	assert.Equal(t, "6.1.1", parseVersion(out))
}

func TestParseVersionUnknown(t *testing.T) {
	assert.Equal(t, "unknown", parseVersion("garbage output"))
	assert.Equal(t, "unknown", parseVersion(""))
}

func TestFindExplicitPathWins(t *testing.T) {
	path, err := Find("/opt/ffmpeg/bin/ffmpeg")
	require.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", path)
}

func TestProbeFakeBinary(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\necho 'ffmpeg version 7.0-test Copyright (c) 2000-2024'\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := Probe(ctx, bin)
	require.NoError(t, err)
	assert.Equal(t, bin, info.Path)
	assert.Equal(t, "7.0-test", info.Version)
}

func TestProbeMissingBinary(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Probe(ctx, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
