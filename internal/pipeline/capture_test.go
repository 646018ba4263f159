package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/detection"
	"vigil/internal/frame"
	"vigil/internal/motion"
	"vigil/internal/recording"
)

// scriptedSource replays a fixed frame sequence, then reports transient
// misses
type scriptedSource struct {
	mu     sync.Mutex
	frames []*frame.Frame
	next   int
}

func (s *scriptedSource) Read() (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.frames) {
		return nil, nil
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *scriptedSource) Close() error { return nil }

// captureSink records writes without touching ffmpeg
type captureSink struct {
	mu     sync.Mutex
	writes [][]*frame.Frame
}

func (s *captureSink) Write(frames []*frame.Frame, fps int, trigger time.Time, color bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, frames)
	return fmt.Sprintf("clip_%d.mp4", len(s.writes)), nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func movingScript(n, blockAt int, base time.Time) []*frame.Frame {
	frames := make([]*frame.Frame, n)
	for i := range frames {
		f := frame.NewGray(120, 120, base.Add(time.Duration(i)*100*time.Millisecond))
		if i >= blockAt {
			for y := 30; y < 80; y++ {
				for x := 30; x < 80; x++ {
					f.Pix[y*120+x] = 255
				}
			}
		}
		frames[i] = f
	}
	return frames
}

func newTestLoop(t *testing.T, src FrameSource, mode SaveMode, sink recording.VideoSink) (*CaptureLoop, *recording.Recorder) {
	t.Helper()

	detector, err := motion.New(motion.Config{
		Method:      motion.MethodFrameDiff,
		Sensitivity: 0.2,
		MinArea:     500,
	})
	require.NoError(t, err)

	ring, err := recording.NewRingBuffer(10)
	require.NoError(t, err)

	rec := recording.NewRecorder(ring, sink, 10, time.Second)

	loop, err := NewCaptureLoop(CaptureConfig{
		Source:   src,
		Detector: detector,
		Ring:     ring,
		Recorder: rec,
		Bus:      NewEventBus(),
		Mode:     mode,
	})
	require.NoError(t, err)
	return loop, rec
}

func TestNewCaptureLoopValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCaptureLoop(CaptureConfig{})
	assert.Error(t, err)
}

func TestCaptureCycleTriggersWindowedRecording(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	src := &scriptedSource{}
	loop, rec := newTestLoop(t, src, SaveWindowed, sink)

	events, unsubscribe := loop.Bus().SubscribeChannel(4)
	defer unsubscribe()

	script := movingScript(25, 5, time.Now())
	for _, f := range script {
		loop.cycle(f)
	}
	rec.Close()

	select {
	case ev := <-events:
		assert.Equal(t, string(motion.MethodFrameDiff), ev.Method)
		assert.NotEmpty(t, ev.ID)
		assert.NotEmpty(t, ev.Regions)
		assert.NotNil(t, ev.Annotated)
		assert.Equal(t, script[5].Timestamp, ev.Timestamp)
	default:
		t.Fatal("no event published")
	}

	// Trigger at frame 5 with a one second post-roll: exactly one clip
	require.Equal(t, 1, sink.count())

	stats := loop.Stats()
	assert.EqualValues(t, 25, stats.FramesProcessed)
	assert.EqualValues(t, 1, stats.Triggers)
}

func TestCaptureCycleImmediateMode(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	src := &scriptedSource{}
	loop, rec := newTestLoop(t, src, SaveImmediate, sink)

	events, unsubscribe := loop.Bus().SubscribeChannel(4)
	defer unsubscribe()

	for _, f := range movingScript(8, 5, time.Now()) {
		loop.cycle(f)
	}
	rec.Close()

	select {
	case ev := <-events:
		assert.NotEmpty(t, ev.VideoPath)
	default:
		t.Fatal("no event published")
	}
	assert.Equal(t, 1, sink.count())
	assert.False(t, rec.Recording())
}

func TestCaptureCycleStaticSceneNeverTriggers(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	src := &scriptedSource{}
	loop, rec := newTestLoop(t, src, SaveWindowed, sink)

	base := time.Now()
	for i := 0; i < 20; i++ {
		loop.cycle(frame.NewGray(120, 120, base.Add(time.Duration(i)*100*time.Millisecond)))
	}
	rec.Close()

	assert.Zero(t, sink.count())
	assert.Zero(t, loop.Stats().Triggers)
}

func TestCaptureLoopStartStop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	src := &scriptedSource{frames: movingScript(25, 5, time.Now())}
	loop, rec := newTestLoop(t, src, SaveWindowed, sink)

	require.NoError(t, loop.Start())
	assert.Error(t, loop.Start(), "second start must fail")

	deadline := time.After(3 * time.Second)
	for loop.Stats().FramesProcessed < 25 {
		select {
		case <-deadline:
			t.Fatal("loop did not consume the script")
		case <-time.After(10 * time.Millisecond):
		}
	}

	loop.Stop()
	assert.False(t, loop.Running())
	rec.Close()

	assert.EqualValues(t, 1, loop.Stats().Triggers)
	assert.Equal(t, 1, sink.count())
}

func TestCaptureCycleNotBlockedBySlowSubscriber(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	src := &scriptedSource{}
	loop, rec := newTestLoop(t, src, SaveImmediate, sink)

	// A subscriber that never drains, with room for a single event; the
	// bus must drop for it rather than stall the worker
	events, unsubscribe := loop.Bus().SubscribeChannel(1)
	defer unsubscribe()

	base := time.Now()
	script := make([]*frame.Frame, 0, 20)
	for i := 0; i < 10; i++ {
		script = append(script, movingScript(2, 1, base.Add(time.Duration(i)*200*time.Millisecond))...)
	}

	start := time.Now()
	for _, f := range script {
		loop.cycle(f)
	}
	elapsed := time.Since(start)
	rec.Close()

	assert.Less(t, elapsed, time.Second, "cycles must not wait on the stuck subscriber")
	assert.Greater(t, loop.Stats().Triggers, uint64(1))
	assert.Len(t, events, 1, "overflow events are dropped, not queued")
}

func TestCaptureCycleClassifiesOffWorker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"class": "person", "confidence": 0.91, "bbox": []float32{30, 30, 80, 80}},
			},
			"count": 1,
		})
	}))
	defer srv.Close()

	detector, err := motion.New(motion.Config{
		Method:      motion.MethodFrameDiff,
		Sensitivity: 0.2,
		MinArea:     500,
	})
	require.NoError(t, err)
	ring, err := recording.NewRingBuffer(10)
	require.NoError(t, err)
	sink := &captureSink{}
	rec := recording.NewRecorder(ring, sink, 10, time.Second)

	loop, err := NewCaptureLoop(CaptureConfig{
		Source:     &scriptedSource{},
		Detector:   detector,
		Ring:       ring,
		Recorder:   rec,
		Bus:        NewEventBus(),
		Classifier: detection.NewClassifier(srv.URL),
		Mode:       SaveImmediate,
	})
	require.NoError(t, err)

	events, unsubscribe := loop.Bus().SubscribeChannel(4)
	defer unsubscribe()

	for _, f := range movingScript(8, 5, time.Now()) {
		loop.cycle(f)
	}

	// Publication happens on the classification goroutine, so wait
	select {
	case ev := <-events:
		require.Len(t, ev.Labels, 1)
		assert.Equal(t, "person", ev.Labels[0].Class)
		assert.NotEmpty(t, ev.VideoPath)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
	rec.Close()
}

func TestCaptureCyclePublishesWhenClassifierUnreachable(t *testing.T) {
	t.Parallel()

	detector, err := motion.New(motion.Config{
		Method:      motion.MethodFrameDiff,
		Sensitivity: 0.2,
		MinArea:     500,
	})
	require.NoError(t, err)
	ring, err := recording.NewRingBuffer(10)
	require.NoError(t, err)
	sink := &captureSink{}
	rec := recording.NewRecorder(ring, sink, 10, time.Second)

	loop, err := NewCaptureLoop(CaptureConfig{
		Source:     &scriptedSource{},
		Detector:   detector,
		Ring:       ring,
		Recorder:   rec,
		Bus:        NewEventBus(),
		Classifier: detection.NewClassifier("http://127.0.0.1:1"),
		Mode:       SaveImmediate,
	})
	require.NoError(t, err)

	events, unsubscribe := loop.Bus().SubscribeChannel(4)
	defer unsubscribe()

	for _, f := range movingScript(8, 5, time.Now()) {
		loop.cycle(f)
	}

	select {
	case ev := <-events:
		assert.Empty(t, ev.Labels)
		assert.NotEmpty(t, ev.VideoPath)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
	rec.Close()
}

func TestCaptureCycleReadMissSkipsCycle(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	src := &scriptedSource{} // empty script: every read is a miss
	loop, _ := newTestLoop(t, src, SaveWindowed, sink)

	require.NoError(t, loop.Start())
	time.Sleep(50 * time.Millisecond)
	loop.Stop()

	stats := loop.Stats()
	assert.Zero(t, stats.FramesProcessed)
	assert.Positive(t, stats.ReadMisses)
}
