package events

import (
	"time"

	"github.com/google/uuid"
)

const EventTypeRecognition = "face_recognition"

// DetectedPerson is the per-person slice of a recognition event.
type DetectedPerson struct {
	PersonID   string    `json:"person_id,omitempty"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"` // x1, y1, x2, y2
}

// FrameMetadata describes the frame the event was derived from.
type FrameMetadata struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	QualityScore float64 `json:"quality_score"`
	FrameNumber  int64   `json:"frame_number"`
	FileSize     int     `json:"file_size,omitempty"`
}

// RecognitionEvent is the wire record published for every processed frame.
type RecognitionEvent struct {
	EventID               uuid.UUID        `json:"event_id"`
	EventType             string           `json:"event_type"`
	ServiceVersion        string           `json:"service_version"`
	Timestamp             time.Time        `json:"timestamp"`
	CameraID              string           `json:"camera_id"`
	FrameID               uuid.UUID        `json:"frame_id"`
	PersonsDetected       []DetectedPerson `json:"persons_detected"`
	ProcessingTimeMs      float64          `json:"processing_time_ms"`
	ConfidenceThreshold   float64          `json:"confidence_threshold"`
	FrameMetadata         FrameMetadata    `json:"frame_metadata"`
	RecognitionSuccessful bool             `json:"recognition_successful"`
}
