package pipeline

import (
	"bufio"
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"vigil/internal/frame"
)

// FrameSource yields timestamped frames on demand. A nil frame with a
// nil error is a transient read miss: the caller logs, skips the cycle
// and retries, it is never stream end.
type FrameSource interface {
	Read() (*frame.Frame, error)
	Close() error
}

// SourceConfig configures an FFmpeg-backed frame source
type SourceConfig struct {
	Device      string // v4l2 device path, rtsp:// or http:// URL
	FPS         int
	Width       int
	Height      int
	Grayscale   bool          // convert frames to single-channel on read
	ReadTimeout time.Duration // max wait per Read before a transient miss
}

// FFmpegSource captures frames by running ffmpeg with an image2pipe
// mjpeg output and extracting complete JPEG frames from its stdout.
type FFmpegSource struct {
	cfg     SourceConfig
	cmd     *exec.Cmd
	frames  chan []byte
	stopCh  chan struct{}
	dropped atomic.Uint64
}

// NewFFmpegSource starts the capture process for the configured device
func NewFFmpegSource(cfg SourceConfig) (*FFmpegSource, error) {
	if cfg.FPS < 1 {
		cfg.FPS = 10
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}

	s := &FFmpegSource{
		cfg:    cfg,
		frames: make(chan []byte, 10),
		stopCh: make(chan struct{}),
	}

	cmd := exec.Command("ffmpeg", s.captureArgs()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg for %s: %w", cfg.Device, err)
	}
	s.cmd = cmd

	// Consume stderr so ffmpeg never blocks on a full pipe
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	go s.pump(stdout)

	log.Printf("[Source] Started capture (device: %s, fps: %d)", cfg.Device, cfg.FPS)
	return s, nil
}

func (s *FFmpegSource) captureArgs() []string {
	d := s.cfg.Device
	switch {
	case strings.HasPrefix(d, "rtsp://"):
		return []string{
			"-rtsp_transport", "tcp",
			"-i", d,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", s.cfg.FPS),
			"-q:v", "5",
			"-",
		}
	case strings.HasPrefix(d, "http://"), strings.HasPrefix(d, "https://"):
		return []string{
			"-i", d,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", s.cfg.FPS),
			"-q:v", "5",
			"-",
		}
	default:
		// V4L2 device (USB camera)
		return []string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
			"-framerate", fmt.Sprintf("%d", s.cfg.FPS),
			"-i", d,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "5",
			"-",
		}
	}
}

// pump reads ffmpeg stdout and queues complete JPEG frames. When the
// queue is full the newest frame is dropped; the reader keeps pace with
// the stream rather than with slow consumers.
func (s *FFmpegSource) pump(stdout io.ReadCloser) {
	defer stdout.Close()
	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		select {
		case <-s.stopCh:
			return
		default:
			n, err := stdout.Read(chunk)
			if err != nil {
				if err != io.EOF {
					log.Printf("[Source] Read error: %v", err)
				}
				return
			}
			buffer = append(buffer, chunk[:n]...)
			for {
				jpg := extractJPEGFrame(&buffer)
				if jpg == nil {
					break
				}
				select {
				case s.frames <- jpg:
				default:
					s.dropped.Add(1)
				}
			}
		}
	}
}

// Read returns the next decoded frame. A decode failure or a timeout is
// a transient miss reported as (nil, nil) or an error; both leave the
// stream usable.
func (s *FFmpegSource) Read() (*frame.Frame, error) {
	select {
	case <-s.stopCh:
		return nil, nil
	case jpg := <-s.frames:
		img, err := jpeg.Decode(bytes.NewReader(jpg))
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame: %w", err)
		}
		mode := frame.RGB
		if s.cfg.Grayscale {
			mode = frame.Gray
		}
		return frame.FromImage(img, mode, time.Now()), nil
	case <-time.After(s.cfg.ReadTimeout):
		return nil, nil
	}
}

// Dropped returns how many frames were discarded because the queue was
// full when the pump extracted them
func (s *FFmpegSource) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops the capture process
func (s *FFmpegSource) Close() error {
	select {
	case <-s.stopCh:
		return nil
	default:
	}
	close(s.stopCh)
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	log.Printf("[Source] Stopped capture (device: %s, dropped frames: %d)",
		s.cfg.Device, s.dropped.Load())
	return nil
}

// extractJPEGFrame extracts a complete JPEG frame (FFD8..FFD9) from the
// buffer, consuming the bytes it covers
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	jpg := make([]byte, endIdx-startIdx)
	copy(jpg, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return jpg
}

var _ FrameSource = (*FFmpegSource)(nil)
