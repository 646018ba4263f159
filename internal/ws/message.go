package ws

import (
	"time"

	"vigil/internal/frame"
)

// EventMessage is the detection broadcast sent to connected clients
type EventMessage struct {
	Type      string         `json:"type"` // "detection"
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Method    string         `json:"method"`
	Regions   []frame.Region `json:"regions"`
	Objects   []ObjectLabel  `json:"objects,omitempty"`
	VideoPath string         `json:"video_path,omitempty"`
	Frame     string         `json:"frame,omitempty"` // Base64 encoded JPEG snapshot
}

// ObjectLabel is a classified object within the broadcast
type ObjectLabel struct {
	Class      string       `json:"class"`
	Confidence float32      `json:"confidence"`
	Region     frame.Region `json:"region"`
}

// StatusMessage reports pipeline state changes to clients
type StatusMessage struct {
	Type      string    `json:"type"` // "status"
	Timestamp time.Time `json:"timestamp"`
	Running   bool      `json:"running"`
	Recording bool      `json:"recording"`
}

// NewEventMessage creates a detection broadcast
func NewEventMessage(id, method string, ts time.Time) *EventMessage {
	return &EventMessage{
		Type:      "detection",
		ID:        id,
		Timestamp: ts,
		Method:    method,
		Regions:   make([]frame.Region, 0),
	}
}
