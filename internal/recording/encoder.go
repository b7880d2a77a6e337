// Package recording turns motion events into MP4 clips: it snapshots the
// pre-motion window, extends the clip while motion continues, and hands the
// finished frame sequence to ffmpeg.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/coopcam/coopcam/internal/ffmpeg"
	"github.com/coopcam/coopcam/internal/stream"
)

// ErrFFmpegNotFound is returned when no usable ffmpeg binary is available.
var ErrFFmpegNotFound = errors.New("ffmpeg binary not found")

// Encoder turns an ordered JPEG frame sequence into a video file. The
// controller releases frame references only after Encode returns.
type Encoder interface {
	Encode(ctx context.Context, frames []*stream.Frame, outputPath string, fps int, quality string) error
}

// crf maps the quality presets to x264 constant-rate factors.
func crf(quality string) string {
	switch quality {
	case "low":
		return "30"
	case "high":
		return "20"
	default:
		return "25"
	}
}

// FFmpegEncoder drives an ffmpeg subprocess in image2pipe mode: frames are
// streamed over stdin, so nothing touches disk until the muxed output.
type FFmpegEncoder struct {
	path   string
	codec  string
	preset string
	logger *slog.Logger
}

// NewFFmpegEncoder resolves the ffmpeg binary (explicit path, $COOPCAM_FFMPEG,
// or $PATH) and returns an encoder using the given codec and speed preset.
func NewFFmpegEncoder(path, codec, preset string, logger *slog.Logger) (*FFmpegEncoder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	resolved, err := ffmpeg.Find(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrFFmpegNotFound, path, err)
		}
	}
	path = resolved
	if codec == "" {
		codec = "libx264"
	}
	if preset == "" {
		preset = "veryfast"
	}
	return &FFmpegEncoder{
		path:   path,
		codec:  codec,
		preset: preset,
		logger: logger.With(slog.String("component", "encoder")),
	}, nil
}

// Path returns the resolved ffmpeg binary path.
func (e *FFmpegEncoder) Path() string {
	return e.path
}

// Encode writes the frames through ffmpeg into outputPath. The file is
// written under a .part suffix and renamed on success so a crash never
// leaves a half-muxed MP4 in the output tree.
func (e *FFmpegEncoder) Encode(ctx context.Context, frames []*stream.Frame, outputPath string, fps int, quality string) error {
	if len(frames) == 0 {
		return errors.New("no frames to encode")
	}
	if fps < 1 {
		fps = 10
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	partPath := outputPath + ".part"
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-f", "image2pipe",
		"-framerate", strconv.Itoa(fps),
		"-i", "-",
		"-c:v", e.codec,
		"-preset", e.preset,
		"-crf", crf(quality),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-f", "mp4",
		partPath,
	}

	cmd := exec.CommandContext(ctx, e.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening ffmpeg stdin: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	writeErr := func() error {
		defer stdin.Close()
		for _, f := range frames {
			if _, err := stdin.Write(f.Bytes()); err != nil {
				return err
			}
		}
		return nil
	}()

	if err := cmd.Wait(); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.Bytes()))
	}
	if writeErr != nil {
		os.Remove(partPath)
		return fmt.Errorf("writing frames to ffmpeg: %w", writeErr)
	}

	if err := os.Rename(partPath, outputPath); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("finalizing output: %w", err)
	}

	e.logger.Info("clip encoded",
		slog.String("output", outputPath),
		slog.Int("frames", len(frames)),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// lastLine returns the final non-empty stderr line, which is where ffmpeg
// puts the actionable error.
func lastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(lines[len(lines)-1])
}

// CleanupPartials removes orphaned .part files under the output directory,
// left behind by a crash mid-encode.
func CleanupPartials(outputDir string, logger *slog.Logger) int {
	removed := 0
	_ = filepath.WalkDir(outputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".part" {
			if os.Remove(path) == nil {
				removed++
				if logger != nil {
					logger.Info("removed orphaned partial recording", slog.String("path", path))
				}
			}
		}
		return nil
	})
	return removed
}
