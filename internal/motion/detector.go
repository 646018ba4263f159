package motion

import (
	"fmt"
	"log"
	"sync"

	"vigil/internal/frame"
)

// Method selects the detection algorithm
type Method string

const (
	// MethodFrameDiff compares each frame against the previous one
	MethodFrameDiff Method = "frame_diff"
	// MethodBackground compares each frame against an adaptive
	// statistical background model
	MethodBackground Method = "background_subtraction"
)

// Config holds detector construction parameters
type Config struct {
	Method      Method
	Sensitivity float64       // [0,1], fraction of the 255 intensity range
	MinArea     int           // minimum component pixel area
	ROI         *frame.Region // optional sub-rectangle restricting detection
}

// Result is the verdict for a single frame
type Result struct {
	Triggered bool
	Regions   []frame.Region // frame-global coordinates
	Annotated *frame.Frame   // diagnostic copy with regions drawn
}

// Detector decides whether a frame contains motion and where.
// All algorithm state (previous frame, background model) is owned by the
// detector instance and mutated only through Detect and ResetBackground.
type Detector struct {
	mu          sync.Mutex
	method      Method
	sensitivity float64
	minArea     int
	roi         *frame.Region

	// frame-diff state: one previous intensity plane
	prev         []uint8
	prevW, prevH int

	// background-subtraction state
	bg *backgroundModel
}

// New creates a detector for the given configuration
func New(cfg Config) (*Detector, error) {
	switch cfg.Method {
	case MethodFrameDiff, MethodBackground:
	default:
		return nil, fmt.Errorf("unknown detection method %q", cfg.Method)
	}
	if cfg.Sensitivity < 0 || cfg.Sensitivity > 1 {
		return nil, fmt.Errorf("sensitivity %v out of range [0,1]", cfg.Sensitivity)
	}
	if cfg.MinArea < 1 {
		return nil, fmt.Errorf("min area must be positive, got %d", cfg.MinArea)
	}
	d := &Detector{
		method:      cfg.Method,
		sensitivity: cfg.Sensitivity,
		minArea:     cfg.MinArea,
		roi:         cfg.ROI,
	}
	if cfg.Method == MethodBackground {
		d.bg = newBackgroundModel()
	}
	log.Printf("[Motion] Detector initialized (method: %s, sensitivity: %.2f, min area: %d)",
		cfg.Method, cfg.Sensitivity, cfg.MinArea)
	return d, nil
}

// Detect analyzes one frame. The input is not retained; the detector
// copies what it needs.
func (d *Detector) Detect(f *frame.Frame) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	work := f
	ox, oy := 0, 0
	if d.roi != nil {
		clamped, ok := d.roi.Clamp(f.Width, f.Height)
		if !ok {
			return Result{Annotated: f.Clone()}
		}
		work = f.Crop(clamped)
		ox, oy = clamped.X, clamped.Y
	}

	var m *mask
	switch d.method {
	case MethodFrameDiff:
		var ok bool
		m, ok = d.frameDiff(work)
		if !ok {
			// First frame establishes the reference
			return Result{Annotated: f.Clone()}
		}
	case MethodBackground:
		m = d.bg.apply(work.Luma(), work.Width, work.Height)
		// Higher sensitivity lowers the cutoff; shadow pixels (127)
		// stay below it for sensitivities up to 0.5
		m.threshold(uint8(255 * (1 - d.sensitivity)))
	}

	m.denoise()
	regions := m.findRegions(d.minArea)

	if d.roi != nil {
		for i := range regions {
			regions[i] = regions[i].Translate(ox, oy)
		}
	}

	return Result{
		Triggered: len(regions) > 0,
		Regions:   regions,
		Annotated: frame.DrawRegions(f, regions, "motion"),
	}
}

// frameDiff builds the binary difference mask against the stored
// previous frame, then replaces the reference with the current frame.
// Returns ok=false when no reference exists yet.
func (d *Detector) frameDiff(work *frame.Frame) (*mask, bool) {
	gray := work.Luma()
	if d.prev == nil || d.prevW != work.Width || d.prevH != work.Height {
		d.storePrev(gray, work.Width, work.Height)
		return nil, false
	}

	m := newMask(work.Width, work.Height)
	cutoff := uint8(255 * d.sensitivity)
	for i, v := range gray {
		diff := int(v) - int(d.prev[i])
		if diff < 0 {
			diff = -diff
		}
		if uint8(diff) > cutoff {
			m.pix[i] = 255
		}
	}

	// Reference is replaced only after the comparison
	d.storePrev(gray, work.Width, work.Height)
	return m, true
}

func (d *Detector) storePrev(gray []uint8, w, h int) {
	if d.prev == nil || len(d.prev) != len(gray) {
		d.prev = make([]uint8, len(gray))
	}
	copy(d.prev, gray)
	d.prevW, d.prevH = w, h
}

// Method returns the configured detection algorithm
func (d *Detector) Method() Method {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.method
}

// SetSensitivity updates the detection threshold. Takes effect on the
// next Detect call; values are clamped to [0,1].
func (d *Detector) SetSensitivity(s float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sensitivity = min(max(s, 0), 1)
	log.Printf("[Motion] Sensitivity set to %.2f", d.sensitivity)
}

// SetROI restricts detection to a sub-rectangle of the frame. Pass nil
// to detect over the whole frame again.
func (d *Detector) SetROI(r *frame.Region) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roi = r
	log.Printf("[Motion] ROI set to %+v", r)
}

// ResetBackground discards the accumulated background model and starts
// it fresh. Used after scene changes such as camera repositioning.
// No-op for the frame-diff method.
func (d *Detector) ResetBackground() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.method != MethodBackground {
		return
	}
	d.bg = newBackgroundModel()
	log.Printf("[Motion] Background model reset")
}
