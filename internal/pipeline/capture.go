package pipeline

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil/internal/detection"
	"vigil/internal/frame"
	"vigil/internal/motion"
	"vigil/internal/recording"
)

// SaveMode selects how a trigger turns into a clip
type SaveMode int

const (
	// SaveWindowed records pre-roll plus a post-roll window, then
	// encodes in the background
	SaveWindowed SaveMode = iota
	// SaveImmediate flushes pre-roll plus the trigger frame
	// synchronously, trading the post-roll for latency
	SaveImmediate
)

// CaptureConfig wires the pipeline stages driven by the capture loop
type CaptureConfig struct {
	Source   FrameSource
	Detector *motion.Detector
	Ring     *recording.RingBuffer
	Recorder *recording.Recorder
	Bus      *EventBus

	// Classifier is optional; when nil or unhealthy, events carry
	// motion regions only
	Classifier *detection.Classifier

	// OnFrame, when set, receives the annotated copy of every processed
	// frame. Used for the live preview stream; must not block.
	OnFrame func(*frame.Frame)

	Mode SaveMode
	// Interval paces the loop; zero means run as fast as the source
	// delivers
	Interval time.Duration
}

// CaptureStats is a point-in-time snapshot of loop counters
type CaptureStats struct {
	FramesProcessed uint64
	ReadMisses      uint64
	Triggers        uint64
}

// CaptureLoop drives frames from the source through detection and
// recording on a single worker goroutine. All detector and recorder
// state is touched only from that goroutine; the ordering per cycle is
// fixed: buffer the frame, detect, feed the recorder, then handle a
// trigger.
type CaptureLoop struct {
	cfg CaptureConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   CaptureStats

	// classifyWG tracks in-flight classification goroutines so Stop can
	// drain them
	classifyWG sync.WaitGroup
}

// NewCaptureLoop validates the wiring and returns a stopped loop
func NewCaptureLoop(cfg CaptureConfig) (*CaptureLoop, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("capture loop requires a frame source")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("capture loop requires a detector")
	}
	if cfg.Ring == nil || cfg.Recorder == nil {
		return nil, fmt.Errorf("capture loop requires ring buffer and recorder")
	}
	if cfg.Bus == nil {
		cfg.Bus = NewEventBus()
	}
	return &CaptureLoop{cfg: cfg}, nil
}

// Bus returns the event bus the loop publishes on
func (c *CaptureLoop) Bus() *EventBus {
	return c.cfg.Bus
}

// Running reports whether the worker goroutine is active
func (c *CaptureLoop) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stats returns a snapshot of the loop counters
func (c *CaptureLoop) Stats() CaptureStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Start launches the worker goroutine. Starting a running loop is an
// error.
func (c *CaptureLoop) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("capture loop already running")
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true
	go c.run(c.stopCh, c.doneCh)
	log.Printf("[Capture] Loop started (method: %s)", c.cfg.Detector.Method())
	return nil
}

// Stop signals the worker and waits for the in-progress cycle to
// finish. The active recording session, if any, is left to the
// recorder's Close policy.
func (c *CaptureLoop) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	close(stopCh)
	<-doneCh
	c.classifyWG.Wait()

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	log.Printf("[Capture] Loop stopped")
}

func (c *CaptureLoop) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		f, err := c.cfg.Source.Read()
		if err != nil {
			log.Printf("[Capture] Frame read failed: %v", err)
			c.bumpMisses()
			c.pace(stopCh)
			continue
		}
		if f == nil {
			// Transient miss, skip the cycle
			c.bumpMisses()
			c.pace(stopCh)
			continue
		}

		c.cycle(f)
		c.pace(stopCh)
	}
}

// cycle runs one frame through the pipeline
func (c *CaptureLoop) cycle(f *frame.Frame) {
	c.cfg.Ring.Push(f)

	result := c.cfg.Detector.Detect(f)

	// Feed before trigger handling so a live session sees every frame;
	// the recorder dedups the trigger frame by timestamp
	c.cfg.Recorder.Feed(f)

	if c.cfg.OnFrame != nil {
		c.cfg.OnFrame(result.Annotated)
	}

	c.mu.Lock()
	c.stats.FramesProcessed++
	c.mu.Unlock()

	if !result.Triggered {
		return
	}
	if c.cfg.Recorder.Recording() {
		// Session already covers this trigger
		return
	}

	c.mu.Lock()
	c.stats.Triggers++
	c.mu.Unlock()

	ev := &Event{
		ID:        uuid.New().String(),
		Timestamp: f.Timestamp,
		Method:    string(c.cfg.Detector.Method()),
		Regions:   result.Regions,
		Annotated: result.Annotated,
	}

	switch c.cfg.Mode {
	case SaveImmediate:
		path, err := c.cfg.Recorder.SaveImmediate(f)
		if err != nil {
			log.Printf("[Capture] Immediate save failed: %v", err)
		} else {
			ev.VideoPath = path
		}
	default:
		c.cfg.Recorder.Start(f)
	}

	log.Printf("[Capture] Motion detected (regions: %d)", len(ev.Regions))

	if c.cfg.Classifier == nil {
		c.cfg.Bus.Publish(ev)
		return
	}

	// Classification is an HTTP round-trip; running it here would stall
	// frame reads. The event is published once labels are attached, from
	// the same goroutine, so subscribers never observe a partial event.
	snap := f.Clone()
	c.classifyWG.Add(1)
	go func() {
		defer c.classifyWG.Done()
		if c.cfg.Classifier.IsHealthy() {
			labels, err := c.cfg.Classifier.Classify(snap)
			if err != nil {
				log.Printf("[Capture] Classification failed: %v", err)
			} else {
				ev.Labels = labels
			}
		}
		c.cfg.Bus.Publish(ev)
	}()
}

func (c *CaptureLoop) bumpMisses() {
	c.mu.Lock()
	c.stats.ReadMisses++
	c.mu.Unlock()
}

func (c *CaptureLoop) pace(stopCh chan struct{}) {
	if c.cfg.Interval <= 0 {
		return
	}
	select {
	case <-stopCh:
	case <-time.After(c.cfg.Interval):
	}
}
