package sighting

import (
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/faceguard/internal/recognition"
)

type SourceType string

const (
	SourceCameraStream SourceType = "camera_stream"
	SourceImageUpload  SourceType = "image_upload"
	SourceVideoUpload  SourceType = "video_upload"
)

// Sighting records that a person was seen at a camera. It is owned by the
// queue until persisted; afterwards only the id travels.
type Sighting struct {
	ID           uuid.UUID        `json:"id"`
	PersonID     string           `json:"person_id"`
	CameraID     string           `json:"camera_id"`
	Confidence   float64          `json:"confidence"`
	Timestamp    time.Time        `json:"timestamp"`
	BBox         recognition.BBox `json:"bbox"`
	QualityScore float64          `json:"quality_score"`
	Source       SourceType       `json:"source_type"`

	FrameID     uuid.UUID `json:"frame_id"`
	FrameNumber int64     `json:"frame_number"`
	FrameWidth  int       `json:"frame_width"`
	FrameHeight int       `json:"frame_height"`

	// Crop is the face region cut from the frame; nil when cropping failed.
	Crop image.Image `json:"-"`

	// RemoteID is assigned by the data service after persistence.
	RemoteID string `json:"remote_id,omitempty"`
}

const cropMinSide = 50

// CropFace cuts bbox out of img with bounds clamping and a 50x50 minimum.
// Returns nil when the clamped box is degenerate.
func CropFace(img image.Image, box recognition.BBox) image.Image {
	b := img.Bounds()

	x1, y1 := int(box.X1), int(box.Y1)
	x2, y2 := int(box.X2), int(box.Y2)

	// Grow undersized boxes around their center before clamping.
	if x2-x1 < cropMinSide {
		cx := (x1 + x2) / 2
		x1, x2 = cx-cropMinSide/2, cx+cropMinSide/2
	}
	if y2-y1 < cropMinSide {
		cy := (y1 + y2) / 2
		y1, y2 = cy-cropMinSide/2, cy+cropMinSide/2
	}

	if x1 < b.Min.X {
		x1 = b.Min.X
	}
	if y1 < b.Min.Y {
		y1 = b.Min.Y
	}
	if x2 > b.Max.X {
		x2 = b.Max.X
	}
	if y2 > b.Max.Y {
		y2 = b.Max.Y
	}
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil
	}

	rect := image.Rect(x1, y1, x2, y2)
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect)
	}
	// Fallback copy for image types without SubImage.
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.Set(x, y, img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return out
}
