package stream

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/faceguard/internal/camera"
	"github.com/technosupport/faceguard/internal/config"
	"github.com/technosupport/faceguard/internal/events"
	"github.com/technosupport/faceguard/internal/recognition"
)

type fakeRecognizer struct {
	calls atomic.Int64
}

func (f *fakeRecognizer) Process(ctx context.Context, frame *camera.Frame, threshold float64) *recognition.Result {
	f.calls.Add(1)
	return &recognition.Result{
		Success: true,
		Persons: []recognition.Person{{
			PersonID:              "person-1",
			RecognitionConfidence: 0.9,
			BBox:                  recognition.BBox{X1: 10, Y1: 10, X2: 80, Y2: 80},
		}},
		FrameID:   frame.ID,
		Timestamp: time.Now(),
	}
}

type fakeCapturer struct {
	mu      sync.Mutex
	cameras []string
}

func (f *fakeCapturer) CaptureAsync(result *recognition.Result, cameraID string, frame *camera.Frame) {
	f.mu.Lock()
	f.cameras = append(f.cameras, cameraID)
	f.mu.Unlock()
}

func (f *fakeCapturer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cameras)
}

type fakeBus struct {
	published atomic.Int64
}

func (f *fakeBus) Publish(ctx context.Context, ev *events.RecognitionEvent) (int64, error) {
	f.published.Add(1)
	return 0, nil
}

func testConfig() *config.Config {
	return &config.Config{
		CameraFrameRate:           30,
		CameraReconnectAttempts:   2,
		CameraReconnectDelay:      time.Millisecond,
		CameraHealthCheckInterval: time.Minute,
		FrameQualityThreshold:     0,
		MaxConcurrentCameras:      4,
		Features: config.Features{
			MultiCamera:       true,
			FrameQualityCheck: false,
			EventPublishing:   true,
		},
	}
}

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 160, 120))
}

type fixture struct {
	mgr      *Manager
	rec      *fakeRecognizer
	capturer *fakeCapturer
	bus      *fakeBus
}

func newFixture(cfg *config.Config) *fixture {
	f := &fixture{rec: &fakeRecognizer{}, capturer: &fakeCapturer{}, bus: &fakeBus{}}
	f.mgr = NewManager(ManagerDeps{
		Config:     cfg,
		Recognizer: f.rec,
		Capturer:   f.capturer,
		Bus:        f.bus,
	})
	f.mgr.open = func(ctx context.Context, source string, opts camera.OpenOptions) (camera.Source, error) {
		return camera.NewStaticSource(opts.CameraID, testImage()), nil
	}
	return f
}

func addTestCamera(t *testing.T, f *fixture, id string) *camera.Camera {
	t.Helper()
	cam := camera.New(id, id, "", "rtsp://example/"+id)
	cam.ReconnectDelay = time.Millisecond
	require.NoError(t, f.mgr.AddCamera(cam))
	return cam
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStreamLoopProcessesFrames(t *testing.T) {
	f := newFixture(testConfig())
	cam := addTestCamera(t, f, "cam-1")

	require.NoError(t, f.mgr.StartStream(context.Background(), "cam-1"))
	defer f.mgr.Shutdown(time.Second)

	waitFor(t, 2*time.Second, func() bool { return f.capturer.count() >= 3 })
	assert.Equal(t, camera.StatusConnected, cam.Status())
	assert.Equal(t, camera.StreamActive, cam.StreamState())
	assert.GreaterOrEqual(t, f.bus.published.Load(), int64(3), "every processed frame publishes an event")
	assert.Positive(t, f.mgr.LoopStats("cam-1")["frames_captured"])
}

func TestStartStreamTwiceFails(t *testing.T) {
	f := newFixture(testConfig())
	addTestCamera(t, f, "cam-1")

	require.NoError(t, f.mgr.StartStream(context.Background(), "cam-1"))
	defer f.mgr.Shutdown(time.Second)

	err := f.mgr.StartStream(context.Background(), "cam-1")
	assert.ErrorIs(t, err, ErrStreamRunning)
}

func TestPauseSuspendsRecognition(t *testing.T) {
	f := newFixture(testConfig())
	addTestCamera(t, f, "cam-1")

	require.NoError(t, f.mgr.StartStream(context.Background(), "cam-1"))
	defer f.mgr.Shutdown(time.Second)

	waitFor(t, 2*time.Second, func() bool { return f.capturer.count() >= 1 })
	require.NoError(t, f.mgr.PauseStream("cam-1"))

	// Allow in-flight frames to settle, then verify no further captures.
	time.Sleep(100 * time.Millisecond)
	paused := f.capturer.count()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, paused, f.capturer.count(), "paused stream must not capture")

	require.NoError(t, f.mgr.ResumeStream("cam-1"))
	waitFor(t, 2*time.Second, func() bool { return f.capturer.count() > paused })
}

func TestStopStream(t *testing.T) {
	f := newFixture(testConfig())
	cam := addTestCamera(t, f, "cam-1")

	require.NoError(t, f.mgr.StartStream(context.Background(), "cam-1"))
	require.NoError(t, f.mgr.StopStream("cam-1"))

	assert.False(t, f.mgr.running("cam-1"))
	assert.Equal(t, camera.StatusDisconnected, cam.Status())
	assert.ErrorIs(t, f.mgr.StopStream("cam-1"), ErrStreamNotRunning)
}

func TestReconnectBudgetExhaustion(t *testing.T) {
	f := newFixture(testConfig())
	cam := addTestCamera(t, f, "cam-1")
	cam.ReconnectAttempts = 2

	f.mgr.open = func(ctx context.Context, source string, opts camera.OpenOptions) (camera.Source, error) {
		return nil, errors.New("connection refused")
	}

	require.NoError(t, f.mgr.StartStream(context.Background(), "cam-1"))
	waitFor(t, 2*time.Second, func() bool { return !f.mgr.running("cam-1") })

	assert.Equal(t, camera.StatusError, cam.Status())
	assert.Equal(t, camera.StreamError, cam.StreamState())
	snap := cam.Snapshot()
	assert.Contains(t, snap.LastError, "connection refused")
}

func TestReconnectAfterCaptureFailure(t *testing.T) {
	f := newFixture(testConfig())
	addTestCamera(t, f, "cam-1")

	var opened atomic.Int64
	f.mgr.open = func(ctx context.Context, source string, opts camera.OpenOptions) (camera.Source, error) {
		opened.Add(1)
		src := camera.NewStaticSource(opts.CameraID, testImage())
		src.FailAfter = 2
		return src, nil
	}

	require.NoError(t, f.mgr.StartStream(context.Background(), "cam-1"))
	defer f.mgr.Shutdown(time.Second)

	waitFor(t, 2*time.Second, func() bool { return opened.Load() >= 2 })
}

func TestControlBulkActions(t *testing.T) {
	f := newFixture(testConfig())
	addTestCamera(t, f, "cam-1")
	addTestCamera(t, f, "cam-2")

	results := f.mgr.Control(context.Background(), "start", nil)
	assert.Equal(t, map[string]string{"cam-1": "ok", "cam-2": "ok"}, results)
	defer f.mgr.Shutdown(time.Second)

	results = f.mgr.Control(context.Background(), "pause", []string{"cam-1"})
	assert.Equal(t, "ok", results["cam-1"])

	results = f.mgr.Control(context.Background(), "bogus", []string{"cam-1"})
	assert.Contains(t, results["cam-1"], "unknown action")
}

func TestRegistryLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentCameras = 1
	f := newFixture(cfg)

	addTestCamera(t, f, "cam-1")
	err := f.mgr.AddCamera(camera.New("cam-2", "cam-2", "", "rtsp://example/2"))
	assert.ErrorIs(t, err, ErrRegistryFull)

	err = f.mgr.AddCamera(camera.New("cam-1", "dup", "", "rtsp://example/1"))
	assert.ErrorIs(t, err, ErrCameraExists)
}

func TestQualityGateSkipsPoorFrames(t *testing.T) {
	cfg := testConfig()
	cfg.Features.FrameQualityCheck = true
	cfg.FrameQualityThreshold = 0.99 // flat test image scores far below this
	f := newFixture(cfg)
	addTestCamera(t, f, "cam-1")

	require.NoError(t, f.mgr.StartStream(context.Background(), "cam-1"))
	defer f.mgr.Shutdown(time.Second)

	waitFor(t, 2*time.Second, func() bool {
		stats := f.mgr.LoopStats("cam-1")
		return stats != nil && stats["frames_skipped"] >= 2
	})
	assert.Zero(t, f.rec.calls.Load(), "gated frames must not reach recognition")
}

func TestMonitorMarksStaleCameras(t *testing.T) {
	f := newFixture(testConfig())
	cam := addTestCamera(t, f, "cam-1")
	cam.SetStatus(camera.StatusConnected)
	cam.RecordFrame()

	f.mgr.monitor.Check(time.Now().Add(time.Minute))

	assert.Equal(t, camera.StatusError, cam.Status())
	assert.Contains(t, cam.Snapshot().LastError, "stale")
}

func TestHealthAggregation(t *testing.T) {
	f := newFixture(testConfig())
	a := addTestCamera(t, f, "cam-1")
	b := addTestCamera(t, f, "cam-2")

	a.SetStatus(camera.StatusConnected)
	b.SetStatus(camera.StatusConnected)
	report := f.mgr.Health()
	assert.Equal(t, HealthHealthy, report.Status)
	assert.Equal(t, 2, report.CamerasConnected)

	b.RecordError("capture failed")
	report = f.mgr.Health()
	assert.Equal(t, HealthDegraded, report.Status)

	a.RecordError("capture failed")
	report = f.mgr.Health()
	assert.Equal(t, HealthUnhealthy, report.Status)
}
