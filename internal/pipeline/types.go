package pipeline

import (
	"time"

	"vigil/internal/detection"
	"vigil/internal/frame"
)

// Event describes a single detection occurrence published on the bus.
// Sinks receive owned data: the annotated frame is a copy that is never
// touched again by the capture worker.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Method    string            `json:"method"`
	Regions   []frame.Region    `json:"regions"`
	Labels    []detection.Label `json:"labels,omitempty"` // classification refinement, if available
	VideoPath string            `json:"video_path,omitempty"`
	Annotated *frame.Frame      `json:"-"`
}

// EventHandler receives published detection events
type EventHandler interface {
	OnEvent(ev *Event)
}

// EventHandlerFunc adapts a function to the EventHandler interface
type EventHandlerFunc func(ev *Event)

// OnEvent implements EventHandler
func (fn EventHandlerFunc) OnEvent(ev *Event) { fn(ev) }
