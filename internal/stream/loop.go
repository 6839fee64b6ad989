package stream

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/faceguard/internal/camera"
	"github.com/technosupport/faceguard/internal/events"
	"github.com/technosupport/faceguard/internal/recognition"
)

// recognitionThreshold is the minimum detection confidence forwarded to the
// recognition engine.
const recognitionThreshold = 0.6

// Recognizer is the recognition engine client surface the loop needs.
type Recognizer interface {
	Process(ctx context.Context, frame *camera.Frame, threshold float64) *recognition.Result
}

// Capturer is the sighting queue surface: strictly non-blocking.
type Capturer interface {
	CaptureAsync(result *recognition.Result, cameraID string, frame *camera.Frame)
}

// EventPublisher pushes recognition events onto the bus.
type EventPublisher interface {
	Publish(ctx context.Context, ev *events.RecognitionEvent) (int64, error)
}

// loopStats are per-camera counters owned by the stream loop.
type loopStats struct {
	framesCaptured    atomic.Int64
	framesSkipped     atomic.Int64 // quality gate
	recognitions      atomic.Int64
	recognitionErrors atomic.Int64
	captureErrors     atomic.Int64
}

// loop drives one camera: capture, quality gate, recognition, sighting
// capture, event publish, pacing. It owns the camera's Source exclusively.
type loop struct {
	cam    *camera.Camera
	mgr    *Manager
	cancel context.CancelFunc
	paused atomic.Bool
	done   chan struct{}
	stats  loopStats
}

func (l *loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.cam.SetStreamState(camera.StreamStopped)

	for {
		src := l.connect(ctx)
		if src == nil {
			return
		}
		l.cam.SetStatus(camera.StatusConnected)
		l.cam.SetStreamState(camera.StreamActive)
		l.cam.ResetReconnect()
		log.Printf("Camera %s connected (%s)", l.cam.ID, camera.DetectSourceType(l.cam.Source))

		err := l.capture(ctx, src)
		src.Close()
		if err == nil || ctx.Err() != nil {
			return
		}

		// Capture broke; fall through to the reconnect policy.
		l.cam.RecordError(err.Error())
		l.cam.SetStreamState(camera.StreamError)
	}
}

// connect opens the source, applying the camera's reconnect budget. Returns
// nil when the context is done or the budget is exhausted.
func (l *loop) connect(ctx context.Context) camera.Source {
	for {
		if ctx.Err() != nil {
			return nil
		}
		l.cam.SetStatus(camera.StatusConnecting)

		src, err := l.mgr.open(ctx, l.cam.Source, camera.OpenOptions{
			CameraID:  l.cam.ID,
			Width:     l.cam.Width,
			Height:    l.cam.Height,
			FrameRate: l.cam.FrameRate,
		})
		if err == nil {
			return src
		}

		l.cam.RecordError(err.Error())
		if !l.cam.AutoReconnect || !l.cam.ReconnectBudgetLeft() {
			log.Printf("[ERROR] Camera %s connect failed, budget exhausted: %v", l.cam.ID, err)
			l.cam.SetStreamState(camera.StreamError)
			return nil
		}
		attempt := l.cam.IncReconnect()
		log.Printf("[WARN] Camera %s connect failed (attempt %d/%d), retrying in %v: %v",
			l.cam.ID, attempt, l.cam.ReconnectAttempts, l.cam.ReconnectDelay, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cam.ReconnectDelay):
		}
	}
}

// capture is the steady-state frame loop. Returns nil on clean shutdown and
// the capture error otherwise.
func (l *loop) capture(ctx context.Context, src camera.Source) error {
	interval := l.mgr.cfg.FrameInterval()
	var frameNumber int64

	for {
		if ctx.Err() != nil {
			return nil
		}
		started := time.Now()

		if l.paused.Load() {
			l.cam.SetStreamState(camera.StreamPaused)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
			continue
		}
		l.cam.SetStreamState(camera.StreamActive)

		frame, err := src.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.stats.captureErrors.Add(1)
			return err
		}
		frameNumber++
		frame.FrameNumber = frameNumber
		l.cam.RecordFrame()
		l.stats.framesCaptured.Add(1)

		l.process(ctx, frame)

		// Pacing: hold the configured frame rate regardless of how long
		// recognition took.
		if elapsed := time.Since(started); elapsed < interval {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval - elapsed):
			}
		}
	}
}

// process runs the quality gate and recognition for one frame inside the
// shared worker pool so concurrent cameras cannot oversubscribe the host.
func (l *loop) process(ctx context.Context, frame *camera.Frame) {
	if !l.mgr.acquireWorker(ctx) {
		return
	}
	defer l.mgr.releaseWorker()

	if l.mgr.cfg.Features.FrameQualityCheck {
		score, grade := camera.ScoreQuality(frame)
		frame.QualityScore = score
		frame.QualityGrade = grade
		frame.QualityKnown = true
		if score < l.mgr.cfg.FrameQualityThreshold {
			l.stats.framesSkipped.Add(1)
			return
		}
	}

	result := l.mgr.recognizer.Process(ctx, frame, recognitionThreshold)
	if result == nil {
		return
	}
	if result.Success {
		l.stats.recognitions.Add(1)
		l.mgr.capturer.CaptureAsync(result, l.cam.ID, frame)
	} else {
		l.stats.recognitionErrors.Add(1)
		if result.Error != "" {
			log.Printf("[WARN] Recognition failed for camera %s frame %d: %s",
				l.cam.ID, frame.FrameNumber, result.Error)
		}
	}

	l.mgr.publishEvent(ctx, l.cam.ID, frame, result)
}

// buildEvent converts one processed frame into the bus wire record.
func buildEvent(cameraID string, frame *camera.Frame, result *recognition.Result, version string) *events.RecognitionEvent {
	ev := &events.RecognitionEvent{
		EventID:               uuid.New(),
		EventType:             events.EventTypeRecognition,
		ServiceVersion:        version,
		Timestamp:             time.Now().UTC(),
		CameraID:              cameraID,
		FrameID:               frame.ID,
		ProcessingTimeMs:      result.ProcessingTimeMs,
		ConfidenceThreshold:   recognitionThreshold,
		RecognitionSuccessful: result.Success,
		FrameMetadata: events.FrameMetadata{
			Width:        frame.Width,
			Height:       frame.Height,
			QualityScore: frame.QualityScore,
			FrameNumber:  frame.FrameNumber,
			FileSize:     frame.SizeBytes,
		},
	}
	for _, p := range result.Persons {
		ev.PersonsDetected = append(ev.PersonsDetected, events.DetectedPerson{
			PersonID:   p.PersonID,
			Confidence: p.RecognitionConfidence,
			BBox:       []float64{p.BBox.X1, p.BBox.Y1, p.BBox.X2, p.BBox.Y2},
		})
	}
	return ev
}
