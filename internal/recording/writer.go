package recording

import (
	"fmt"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"vigil/internal/frame"
)

// FFmpegWriter encodes clips by piping JPEG frames into an ffmpeg
// image2pipe input, producing an mp4 in the output directory.
type FFmpegWriter struct {
	OutputDir string
	Codec     string // defaults to libx264
	Quality   int    // JPEG quality for the intermediate stream
}

// NewFFmpegWriter creates a writer targeting dir, creating it if needed
func NewFFmpegWriter(dir string) (*FFmpegWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &FFmpegWriter{OutputDir: dir, Codec: "libx264", Quality: 85}, nil
}

// ClipFileName builds the output name for a clip saved at ts,
// detection_<YYYYMMDD>_<HHMMSS>.mp4
func ClipFileName(ts time.Time) string {
	return "detection_" + ts.Format("20060102_150405") + ".mp4"
}

// Write encodes the sequence and returns the created file path, named
// after the trigger timestamp so the clip matches its detection event.
// The sink encodes color only: a grayscale frame in a color sequence is
// an invariant violation and is rejected before ffmpeg is spawned.
func (w *FFmpegWriter) Write(frames []*frame.Frame, fps int, trigger time.Time, color bool) (string, error) {
	if len(frames) == 0 {
		return "", ErrEmptyClip
	}
	if fps < 1 {
		return "", fmt.Errorf("invalid frame rate %d", fps)
	}
	if color {
		for _, f := range frames {
			if f.Mode != frame.RGB {
				return "", fmt.Errorf("grayscale frame in color sequence")
			}
		}
	}

	path := filepath.Join(w.OutputDir, ClipFileName(trigger))

	codec := w.Codec
	if codec == "" {
		codec = "libx264"
	}
	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-framerate", strconv.Itoa(fps),
		"-i", "-",
		"-c:v", codec,
		"-pix_fmt", "yuv420p",
		path,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create ffmpeg stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start encoder: %w", err)
	}

	quality := w.Quality
	if quality <= 0 {
		quality = 85
	}
	var encodeErr error
	for _, f := range frames {
		if err := jpeg.Encode(stdin, f.ToImage(), &jpeg.Options{Quality: quality}); err != nil {
			encodeErr = fmt.Errorf("failed to encode frame: %w", err)
			break
		}
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		os.Remove(path)
		if encodeErr != nil {
			return "", encodeErr
		}
		return "", fmt.Errorf("encoder failed for %s: %w", path, err)
	}
	if encodeErr != nil {
		os.Remove(path)
		return "", encodeErr
	}
	return path, nil
}

var _ VideoSink = (*FFmpegWriter)(nil)
