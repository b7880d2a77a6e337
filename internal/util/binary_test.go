package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindBinaryPrefersEnvVar(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "coopcam-test-bin")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	t.Setenv("COOPCAM_TEST_BIN", bin)

	path, err := FindBinary("coopcam-test-bin", "COOPCAM_TEST_BIN")
	require.NoError(t, err)
	assert.Equal(t, bin, path)
}

func TestFindBinaryIgnoresNonExecutableEnvPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "coopcam-test-bin")
	require.NoError(t, os.WriteFile(bin, []byte("data"), 0o644))

	t.Setenv("COOPCAM_TEST_BIN", bin)

	_, err := FindBinary("coopcam-test-bin-does-not-exist", "COOPCAM_TEST_BIN")
	assert.Error(t, err)
}

func TestFindBinaryFallsBackToPath(t *testing.T) {
	// sh exists on every platform this runs on.
	path, err := FindBinary("sh", "")
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestFindBinaryNotFound(t *testing.T) {
	_, err := FindBinary("definitely-not-a-real-binary-name", "")
	assert.ErrorContains(t, err, "not found")
}
