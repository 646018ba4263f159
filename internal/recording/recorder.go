package recording

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"vigil/internal/frame"
)

var (
	// ErrAlreadyRecording is returned by SaveImmediate while a windowed
	// recording session is active; overlapping save paths are rejected
	ErrAlreadyRecording = errors.New("recording session already active")
	// ErrEmptyClip is returned when a clip would contain no frames
	ErrEmptyClip = errors.New("clip contains no frames")
)

// VideoSink encodes an assembled frame sequence into a video file.
// The sink encodes color only; grayscale frames are expanded to RGB
// before they reach it. The trigger timestamp names the clip, so the
// file matches the detection event regardless of when encoding runs.
type VideoSink interface {
	// Write encodes the sequence at the given frame rate and returns
	// the path of the created file
	Write(frames []*frame.Frame, fps int, trigger time.Time, color bool) (string, error)
}

// SaveResult reports the outcome of an asynchronous clip save
type SaveResult struct {
	Path    string
	Err     error
	Trigger time.Time // trigger timestamp of the session
}

// Recorder is the recording state machine. It is Idle until a detection
// trigger starts a session, collects live frames while Recording, and
// hands the assembled pre-roll plus post-roll sequence to the video sink
// once the post-roll window has elapsed.
//
// State is mutated only from the capture worker; the mutex covers the
// result handler and the hand-off to the background encode.
type Recorder struct {
	mu       sync.Mutex
	buffer   *RingBuffer
	sink     VideoSink
	fps      int
	postRoll time.Duration

	recording bool
	session   []*frame.Frame
	trigger   time.Time

	onSaved func(SaveResult)
	wg      sync.WaitGroup
}

// NewRecorder creates an idle recorder over the given pre-roll buffer
func NewRecorder(buffer *RingBuffer, sink VideoSink, fps int, postRoll time.Duration) *Recorder {
	return &Recorder{
		buffer:   buffer,
		sink:     sink,
		fps:      fps,
		postRoll: postRoll,
	}
}

// SetResultHandler registers a callback invoked after every
// asynchronous clip save, successful or not
func (r *Recorder) SetResultHandler(fn func(SaveResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSaved = fn
}

// Recording reports whether a session is active
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start begins a recording session seeded with the pre-roll snapshot.
// The trigger frame ends the snapshot if the capture loop already pushed
// it into the ring buffer; otherwise it is appended. Calling Start while
// already Recording logs a warning and leaves the session untouched.
func (r *Recorder) Start(trigger *frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		log.Printf("[Recorder] Start ignored: session already active since %s",
			r.trigger.Format(time.RFC3339))
		return
	}

	r.session = r.buffer.Snapshot()
	if n := len(r.session); n == 0 || !r.session[n-1].Timestamp.Equal(trigger.Timestamp) {
		r.session = append(r.session, trigger.Clone())
	}
	r.trigger = trigger.Timestamp
	r.recording = true
	log.Printf("[Recorder] Recording started (pre-roll: %d frames, post-roll: %s)",
		len(r.session), r.postRoll)
}

// Feed delivers a live frame. While Recording it is appended to the
// session; once the frame timestamps show the post-roll window has
// elapsed since the trigger, the session completes. Ignored while Idle.
func (r *Recorder) Feed(f *frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return
	}
	if n := len(r.session); n == 0 || !r.session[n-1].Timestamp.Equal(f.Timestamp) {
		r.session = append(r.session, f.Clone())
	}
	// Completion is measured against frame timestamps, not wall clock
	if !f.Timestamp.Before(r.trigger.Add(r.postRoll)) {
		r.complete()
	}
}

// Complete force-finishes the active session regardless of the post-roll
// window. No-op while Idle.
func (r *Recorder) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.complete()
}

// complete assembles the session and dispatches the encode on a
// background goroutine with an owned copy of the frames. Caller holds
// the lock.
func (r *Recorder) complete() {
	session := r.session
	trigger := r.trigger
	onSaved := r.onSaved
	r.session = nil
	r.recording = false

	frames, err := assemble(session)
	if err != nil {
		log.Printf("[Recorder] Session discarded: %v", err)
		if onSaved != nil {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				onSaved(SaveResult{Err: err, Trigger: trigger})
			}()
		}
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		path, err := r.sink.Write(frames, r.fps, trigger, true)
		if err != nil {
			log.Printf("[Recorder] Clip save failed: %v", err)
		} else {
			log.Printf("[Recorder] Clip saved: %s (%d frames)", path, len(frames))
		}
		if onSaved != nil {
			onSaved(SaveResult{Path: path, Err: err, Trigger: trigger})
		}
	}()
}

// SaveImmediate flushes the pre-roll snapshot plus the trigger frame to
// the sink synchronously, without entering the Recording state. Used
// when sub-second capture latency matters more than a post-roll window.
// Rejected while a windowed session is active.
func (r *Recorder) SaveImmediate(trigger *frame.Frame) (string, error) {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return "", ErrAlreadyRecording
	}
	session := r.buffer.Snapshot()
	if n := len(session); n == 0 || !session[n-1].Timestamp.Equal(trigger.Timestamp) {
		session = append(session, trigger.Clone())
	}
	r.mu.Unlock()

	frames, err := assemble(session)
	if err != nil {
		return "", err
	}
	return r.sink.Write(frames, r.fps, trigger.Timestamp, true)
}

// Close waits for in-flight encodes to finish. An already-triggered
// session that has not completed is abandoned; its frames are released
// without reaching the sink.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.recording {
		log.Printf("[Recorder] Active session abandoned on close (%d frames)", len(r.session))
		r.session = nil
		r.recording = false
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// assemble validates a session and normalizes it for the sink: the
// sequence must be non-empty and dimensionally uniform, frames are
// ordered by timestamp, and grayscale frames are expanded to RGB since
// the sink encodes color only.
func assemble(session []*frame.Frame) ([]*frame.Frame, error) {
	if len(session) == 0 {
		return nil, ErrEmptyClip
	}
	w, h := session[0].Width, session[0].Height
	for _, f := range session {
		if f.Width != w || f.Height != h {
			return nil, fmt.Errorf("mismatched frame dimensions in session: %dx%d vs %dx%d",
				f.Width, f.Height, w, h)
		}
	}
	sort.SliceStable(session, func(i, j int) bool {
		return session[i].Timestamp.Before(session[j].Timestamp)
	})
	out := make([]*frame.Frame, len(session))
	for i, f := range session {
		out[i] = f.ToRGB()
	}
	return out, nil
}
