package stream

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"log"
	"net/http"
	"sync"

	"vigil/internal/frame"
)

// MJPEGStream serves the live camera view as multipart/x-mixed-replace.
// The capture loop publishes each processed frame; connected clients
// receive what the detector saw, with motion regions already drawn.
// Slow clients skip frames instead of backing up the pipeline.
type MJPEGStream struct {
	mu      sync.Mutex
	clients map[chan []byte]bool
	latest  []byte
	quality int
}

// NewMJPEGStream creates a stream with no connected clients
func NewMJPEGStream() *MJPEGStream {
	return &MJPEGStream{
		clients: make(map[chan []byte]bool),
		quality: 70,
	}
}

// Publish encodes the frame and fans it out. Clients whose buffer is
// full miss this frame.
func (s *MJPEGStream) Publish(f *frame.Frame) {
	if f == nil {
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.ToImage(), &jpeg.Options{Quality: s.quality}); err != nil {
		log.Printf("[Stream] Frame encode failed: %v", err)
		return
	}
	data := buf.Bytes()

	s.mu.Lock()
	s.latest = data
	for ch := range s.clients {
		select {
		case ch <- data:
		default:
		}
	}
	s.mu.Unlock()
}

// ClientCount returns the number of connected viewers
func (s *MJPEGStream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP streams frames to one client until it disconnects
func (s *MJPEGStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	clientCh := make(chan []byte, 5)
	s.mu.Lock()
	s.clients[clientCh] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, clientCh)
		s.mu.Unlock()
	}()

	log.Printf("[Stream] Client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[Stream] Client disconnected")
			return
		case data, ok := <-clientCh:
			if !ok {
				return
			}
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
			w.Write(data)
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}

// SnapshotHandler serves the most recent frame as a single JPEG
type SnapshotHandler struct {
	stream *MJPEGStream
}

// NewSnapshotHandler creates a snapshot endpoint over the stream
func NewSnapshotHandler(stream *MJPEGStream) *SnapshotHandler {
	return &SnapshotHandler{stream: stream}
}

func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.stream.mu.Lock()
	data := h.stream.latest
	h.stream.mu.Unlock()

	if data == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}
