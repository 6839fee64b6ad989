package recognition

import (
	"time"

	"github.com/google/uuid"
)

// BBox is a face bounding box in frame pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Person is one detected face in a frame, possibly matched to a known
// person. PersonID is empty when recognition confidence fell below the
// caller's threshold.
type Person struct {
	BBox                  BBox      `json:"bbox"`
	DetectionConfidence   float64   `json:"detection_confidence"`
	RecognitionConfidence float64   `json:"recognition_confidence"`
	PersonID              string    `json:"person_id,omitempty"`
	Embedding             []float32 `json:"embedding,omitempty"`
	Age                   *int      `json:"age,omitempty"`
	Gender                string    `json:"gender,omitempty"`
}

// Result is the outcome of one recognition attempt. Failures are carried in
// the struct, never as a Go error, so the stream loop can publish negative
// events without special-casing.
type Result struct {
	Success          bool      `json:"success"`
	Persons          []Person  `json:"persons"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
	FrameID          uuid.UUID `json:"frame_id"`
	Timestamp        time.Time `json:"timestamp"`
	Error            string    `json:"error,omitempty"`
}
