package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/technosupport/faceguard/internal/camera"
	"github.com/technosupport/faceguard/internal/config"
	"github.com/technosupport/faceguard/internal/events"
	"github.com/technosupport/faceguard/internal/recognition"
)

const ServiceVersion = "1.0.0"

var (
	ErrStreamRunning    = errors.New("stream already running")
	ErrStreamNotRunning = errors.New("stream not running")
)

// SightingShutdown is the queue surface the manager drains on shutdown.
type SightingShutdown interface {
	Capturer
	Shutdown(grace time.Duration)
}

// Manager is the orchestrator: it owns the camera registry, one stream loop
// per started camera, the shared worker pool, and the health monitor.
type Manager struct {
	cfg        *config.Config
	registry   *Registry
	recognizer Recognizer
	capturer   Capturer
	bus        EventPublisher
	mirror     *events.NATSMirror

	// workers bounds concurrent frame processing across all cameras.
	workers chan struct{}

	mu    sync.Mutex
	loops map[string]*loop

	monitor *Monitor

	// open is swapped in tests to avoid real capture backends.
	open func(ctx context.Context, source string, opts camera.OpenOptions) (camera.Source, error)
}

type ManagerDeps struct {
	Config     *config.Config
	Recognizer Recognizer
	Capturer   Capturer
	Bus        EventPublisher
	Mirror     *events.NATSMirror
}

func NewManager(d ManagerDeps) *Manager {
	m := &Manager{
		cfg:        d.Config,
		registry:   NewRegistry(d.Config.MaxConcurrentCameras),
		recognizer: d.Recognizer,
		capturer:   d.Capturer,
		bus:        d.Bus,
		mirror:     d.Mirror,
		workers:    make(chan struct{}, d.Config.MaxConcurrentCameras),
		loops:      make(map[string]*loop),
		open:       camera.Open,
	}
	m.monitor = NewMonitor(m, d.Config.CameraHealthCheckInterval)
	return m
}

func (m *Manager) Registry() *Registry { return m.registry }

// Bootstrap registers the configured camera sources and starts their
// streams. With multi-camera disabled, only the first source is used.
func (m *Manager) Bootstrap(ctx context.Context) error {
	sources := m.cfg.CameraSources
	if !m.cfg.Features.MultiCamera && len(sources) > 1 {
		log.Printf("[WARN] Multi-camera disabled, using first of %d sources", len(sources))
		sources = sources[:1]
	}

	for i, source := range sources {
		cam := camera.New(fmt.Sprintf("camera_%d", i), fmt.Sprintf("Camera %d", i), "", source)
		cam.Width = m.cfg.CameraResolutionWidth
		cam.Height = m.cfg.CameraResolutionHeight
		cam.FrameRate = m.cfg.CameraFrameRate
		cam.ReconnectAttempts = m.cfg.CameraReconnectAttempts
		cam.ReconnectDelay = m.cfg.CameraReconnectDelay

		if err := m.AddCamera(cam); err != nil {
			return err
		}
		if err := m.StartStream(ctx, cam.ID); err != nil {
			// Startup keeps going; the camera shows up as errored.
			log.Printf("[ERROR] Camera %s failed to start: %v", cam.ID, err)
		}
	}

	if m.cfg.Features.HealthMonitoring {
		m.monitor.Start()
	}
	return nil
}

// AddCamera registers a camera without starting it.
func (m *Manager) AddCamera(cam *camera.Camera) error {
	return m.registry.Add(cam)
}

// RemoveCamera stops the camera's stream if running and unregisters it.
func (m *Manager) RemoveCamera(id string) error {
	if err := m.StopStream(id); err != nil && !errors.Is(err, ErrStreamNotRunning) {
		return err
	}
	_, err := m.registry.Remove(id)
	return err
}

// StartStream launches the per-camera loop.
func (m *Manager) StartStream(ctx context.Context, id string) error {
	cam, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.loops[id]; running {
		return fmt.Errorf("%w: %s", ErrStreamRunning, id)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l := &loop{
		cam:    cam,
		mgr:    m,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.loops[id] = l
	go func() {
		l.run(loopCtx)
		m.mu.Lock()
		if m.loops[id] == l {
			delete(m.loops, id)
		}
		m.mu.Unlock()
	}()
	return nil
}

// StopStream cancels the loop and waits for it to exit.
func (m *Manager) StopStream(id string) error {
	m.mu.Lock()
	l, ok := m.loops[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotRunning, id)
	}
	l.cancel()
	<-l.done

	if cam, err := m.registry.Get(id); err == nil {
		cam.SetStatus(camera.StatusDisconnected)
	}
	return nil
}

func (m *Manager) PauseStream(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loops[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotRunning, id)
	}
	l.paused.Store(true)
	return nil
}

func (m *Manager) ResumeStream(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loops[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotRunning, id)
	}
	l.paused.Store(false)
	return nil
}

// Control applies one bulk action. Empty ids means every registered camera.
func (m *Manager) Control(ctx context.Context, action string, ids []string) map[string]string {
	if len(ids) == 0 {
		for _, cam := range m.registry.List() {
			ids = append(ids, cam.ID)
		}
	}
	results := make(map[string]string, len(ids))
	for _, id := range ids {
		var err error
		switch action {
		case "start":
			err = m.StartStream(ctx, id)
		case "stop":
			err = m.StopStream(id)
		case "pause":
			err = m.PauseStream(id)
		case "resume":
			err = m.ResumeStream(id)
		default:
			err = fmt.Errorf("unknown action %q", action)
		}
		if err != nil {
			results[id] = err.Error()
		} else {
			results[id] = "ok"
		}
	}
	return results
}

// RecognizeOnce grabs a single frame from a camera and runs recognition on
// it, bypassing the stream loop. Used by the one-shot endpoint.
func (m *Manager) RecognizeOnce(ctx context.Context, id string) (*recognition.Result, error) {
	cam, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}

	src, err := m.open(ctx, cam.Source, camera.OpenOptions{
		CameraID:  cam.ID,
		Width:     cam.Width,
		Height:    cam.Height,
		FrameRate: cam.FrameRate,
	})
	if err != nil {
		return nil, err
	}
	defer src.Close()

	frame, err := src.Capture(ctx)
	if err != nil {
		return nil, err
	}
	cam.RecordFrame()

	if m.cfg.Features.FrameQualityCheck {
		frame.QualityScore, frame.QualityGrade = camera.ScoreQuality(frame)
		frame.QualityKnown = true
	}
	return m.recognizer.Process(ctx, frame, recognitionThreshold), nil
}

func (m *Manager) acquireWorker(ctx context.Context) bool {
	select {
	case m.workers <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) releaseWorker() { <-m.workers }

func (m *Manager) publishEvent(ctx context.Context, cameraID string, frame *camera.Frame, result *recognition.Result) {
	if !m.cfg.Features.EventPublishing || m.bus == nil {
		return
	}
	ev := buildEvent(cameraID, frame, result, ServiceVersion)
	if _, err := m.bus.Publish(ctx, ev); err != nil {
		log.Printf("[WARN] Event publish failed for camera %s: %v", cameraID, err)
	}
	if m.mirror != nil {
		if err := m.mirror.Publish(ev); err != nil {
			log.Printf("[WARN] NATS mirror publish failed: %v", err)
		}
	}
}

// running reports whether a loop exists for the camera.
func (m *Manager) running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[id]
	return ok
}

// LoopStats returns per-camera pipeline counters for the health surface.
func (m *Manager) LoopStats(id string) map[string]int64 {
	m.mu.Lock()
	l, ok := m.loops[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return map[string]int64{
		"frames_captured":    l.stats.framesCaptured.Load(),
		"frames_skipped":     l.stats.framesSkipped.Load(),
		"recognitions":       l.stats.recognitions.Load(),
		"recognition_errors": l.stats.recognitionErrors.Load(),
		"capture_errors":     l.stats.captureErrors.Load(),
	}
}

// Shutdown stops monitoring and every stream, then drains the sighting
// queue when one was provided.
func (m *Manager) Shutdown(grace time.Duration) {
	m.monitor.Stop()

	m.mu.Lock()
	loops := make([]*loop, 0, len(m.loops))
	for _, l := range m.loops {
		loops = append(loops, l)
	}
	m.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	deadline := time.After(grace)
	for _, l := range loops {
		select {
		case <-l.done:
		case <-deadline:
			log.Printf("[WARN] Shutdown grace elapsed with streams still running")
			return
		}
	}

	if q, ok := m.capturer.(SightingShutdown); ok {
		q.Shutdown(grace)
	}
}
