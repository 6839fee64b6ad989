package sighting

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/faceguard/internal/camera"
	"github.com/technosupport/faceguard/internal/recognition"
)

const (
	// QueueCapacity bounds the in-flight sightings. A slow data service
	// backs pressure up to here and no further; the hot path drops instead
	// of blocking.
	QueueCapacity = 1000

	cropJPEGQuality = 90
	uploadTimeout   = 30 * time.Second
)

// Uploader persists one sighting with its JPEG crop and returns the id the
// data service assigned. Implemented by dataservice.Client.
type Uploader interface {
	UploadSighting(ctx context.Context, s *Sighting, cropJPEG []byte) (string, error)
}

// Evaluator receives persisted sightings for alert evaluation. Implemented
// by the notifier client (remote) or alerts.Evaluator (in-process).
type Evaluator interface {
	Submit(ctx context.Context, s *Sighting)
}

// Stats is the queue's counter snapshot.
type Stats struct {
	Captured          int64 `json:"total_sightings_captured"`
	QueueFullDrops    int64 `json:"queue_full_drops"`
	SuccessfulUploads int64 `json:"successful_uploads"`
	FailedUploads     int64 `json:"failed_uploads"`
	Evaluated         int64 `json:"evaluations_submitted"`
	Depth             int   `json:"queue_depth"`
}

// Queue is the async capture stage between recognition and persistence.
type Queue struct {
	ch        chan *Sighting
	uploader  Uploader
	evaluator Evaluator

	captured   atomic.Int64
	fullDrops  atomic.Int64
	uploads    atomic.Int64
	uploadErrs atomic.Int64
	evaluated  atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	// uploadWG tracks detached upload tasks so Shutdown can drain them.
	uploadWG sync.WaitGroup
}

func NewQueue(uploader Uploader, evaluator Evaluator) *Queue {
	return &Queue{
		ch:        make(chan *Sighting, QueueCapacity),
		uploader:  uploader,
		evaluator: evaluator,
		stop:      make(chan struct{}),
	}
}

// Start launches the single background consumer.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.consume()
}

// Shutdown stops the consumer and waits for in-flight uploads up to the
// grace period.
func (q *Queue) Shutdown(grace time.Duration) {
	q.stopOnce.Do(func() { close(q.stop) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		q.uploadWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("[WARN] Sighting queue: shutdown grace %v elapsed with uploads in flight", grace)
	}
}

// CaptureAsync constructs at most one sighting per recognized person and
// enqueues each without blocking. A full queue drops the new sighting and
// bumps queue_full_drops. Callers on the recognition hot path must never be
// delayed here.
func (q *Queue) CaptureAsync(result *recognition.Result, cameraID string, frame *camera.Frame) {
	if result == nil || !result.Success {
		return
	}
	for _, p := range result.Persons {
		if p.PersonID == "" {
			continue
		}

		s := &Sighting{
			ID:           uuid.New(),
			PersonID:     p.PersonID,
			CameraID:     cameraID,
			Confidence:   p.RecognitionConfidence,
			Timestamp:    frame.Timestamp,
			BBox:         p.BBox,
			QualityScore: frame.QualityScore,
			Source:       SourceCameraStream,
			FrameID:      frame.ID,
			FrameNumber:  frame.FrameNumber,
			FrameWidth:   frame.Width,
			FrameHeight:  frame.Height,
			Crop:         CropFace(frame.Image, p.BBox),
		}
		q.captured.Add(1)

		select {
		case q.ch <- s:
		default:
			q.fullDrops.Add(1)
		}
	}
}

func (q *Queue) consume() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case s := <-q.ch:
					q.dispatch(s)
				default:
					return
				}
			}
		case s := <-q.ch:
			q.dispatch(s)
		}
	}
}

// dispatch spawns the detached upload task so a slow data service never
// stalls queue consumption.
func (q *Queue) dispatch(s *Sighting) {
	q.uploadWG.Add(1)
	go func() {
		defer q.uploadWG.Done()
		q.persistAndEvaluate(s)
	}()
}

func (q *Queue) persistAndEvaluate(s *Sighting) {
	var cropJPEG []byte
	if s.Crop != nil {
		var err error
		cropJPEG, err = camera.EncodeJPEG(s.Crop, cropJPEGQuality)
		if err != nil {
			log.Printf("[WARN] Sighting %s: crop encode failed: %v", s.ID, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	remoteID, err := q.uploader.UploadSighting(ctx, s, cropJPEG)
	if err != nil {
		q.uploadErrs.Add(1)
		log.Printf("[ERROR] Sighting %s: upload failed: %v", s.ID, err)
		return
	}
	q.uploads.Add(1)
	s.RemoteID = remoteID

	if q.evaluator != nil {
		q.evaluated.Add(1)
		q.evaluator.Submit(ctx, s)
	}
}

func (q *Queue) Stats() Stats {
	return Stats{
		Captured:          q.captured.Load(),
		QueueFullDrops:    q.fullDrops.Load(),
		SuccessfulUploads: q.uploads.Load(),
		FailedUploads:     q.uploadErrs.Load(),
		Evaluated:         q.evaluated.Load(),
		Depth:             len(q.ch),
	}
}
