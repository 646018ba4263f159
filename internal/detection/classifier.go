package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"vigil/internal/frame"
)

// Label is a classified object within a frame
type Label struct {
	Class      string       `json:"class"`
	Confidence float32      `json:"confidence"`
	Region     frame.Region `json:"region"`
}

// classifyResponse mirrors the inference service wire format
type classifyResponse struct {
	Detections []struct {
		Class      string    `json:"class"`
		Confidence float32   `json:"confidence"`
		BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
	} `json:"detections"`
	Count           int     `json:"count"`
	InferenceTimeMs float32 `json:"inference_time_ms"`
	Device          string  `json:"device"`
}

// Classifier refines motion events by sending the triggering frame to an
// external HTTP inference service. Classification is best-effort: when
// the service is down events carry motion regions only.
type Classifier struct {
	endpoint string
	client   *http.Client

	mu          sync.Mutex
	enabled     bool
	healthCheck time.Time

	// TargetClasses filters results; empty means keep everything
	TargetClasses []string
	// ConfThreshold is sent to the service and applied to results
	ConfThreshold float32
}

// NewClassifier creates a classifier against an inference endpoint such
// as http://localhost:8000
func NewClassifier(endpoint string) *Classifier {
	return &Classifier{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		enabled:       true,
		ConfThreshold: 0.5,
	}
}

// IsHealthy checks whether the inference service is reachable. The
// result is cached for 30 seconds to keep the capture loop off the
// network on every frame.
func (c *Classifier) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.healthCheck) < 30*time.Second && c.enabled {
		return true
	}

	resp, err := c.client.Get(c.endpoint + "/health")
	if err != nil {
		c.enabled = false
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		c.healthCheck = time.Now()
		c.enabled = true
		return true
	}

	c.enabled = false
	return false
}

// Classify sends the frame to the inference service and returns the
// labels that pass the class filter and confidence threshold
func (c *Classifier) Classify(f *frame.Frame) ([]Label, error) {
	if !c.IsHealthy() {
		return nil, fmt.Errorf("inference service unavailable")
	}

	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, f.ToImage(), &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	fw.Write(jpg.Bytes())

	w.WriteField("conf_threshold", fmt.Sprintf("%.2f", c.ConfThreshold))
	w.Close()

	req, err := http.NewRequest("POST", c.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.mu.Lock()
		c.enabled = false
		c.mu.Unlock()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("classification failed: %s", string(body))
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	labels := make([]Label, 0, len(result.Detections))
	for _, d := range result.Detections {
		if d.Confidence < c.ConfThreshold {
			continue
		}
		if !c.wanted(d.Class) {
			continue
		}
		l := Label{Class: d.Class, Confidence: d.Confidence}
		if len(d.BBox) == 4 {
			l.Region = frame.Region{
				X:      int(d.BBox[0]),
				Y:      int(d.BBox[1]),
				Width:  int(d.BBox[2] - d.BBox[0]),
				Height: int(d.BBox[3] - d.BBox[1]),
			}
		}
		labels = append(labels, l)
	}
	return labels, nil
}

func (c *Classifier) wanted(class string) bool {
	if len(c.TargetClasses) == 0 {
		return true
	}
	for _, t := range c.TargetClasses {
		if t == class {
			return true
		}
	}
	return false
}
