package camera

import (
	"context"
	"image"
	"sync"
)

// StaticSource replays a fixed image at the caller's pace. Used by tests and
// by the one-shot recognition endpoint when a stream is paused.
type StaticSource struct {
	CameraID string
	Img      image.Image

	mu       sync.Mutex
	closed   bool
	frameNum int64
	// FailAfter, when > 0, makes Capture return ErrCapture once that many
	// frames have been served. Exercises the reconnect path.
	FailAfter int64
}

func NewStaticSource(cameraID string, img image.Image) *StaticSource {
	return &StaticSource{CameraID: cameraID, Img: img}
}

func (s *StaticSource) Capture(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrCapture
	}
	if s.FailAfter > 0 && s.frameNum >= s.FailAfter {
		return nil, ErrCapture
	}
	s.frameNum++
	return NewFrame(s.CameraID, s.frameNum, s.Img, nil), nil
}

func (s *StaticSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
