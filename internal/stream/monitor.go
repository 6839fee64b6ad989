package stream

import (
	"log"
	"sync"
	"time"

	"github.com/technosupport/faceguard/internal/camera"
)

// staleAfter marks a connected camera unhealthy when no frame arrived for
// this long.
const staleAfter = 30 * time.Second

// Monitor watches camera liveness on a fixed interval and degrades cameras
// whose streams have gone silent.
type Monitor struct {
	mgr      *Manager
	interval time.Duration
	quit     chan struct{}
	wg       sync.WaitGroup
	started  bool
}

func NewMonitor(mgr *Manager, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		mgr:      mgr,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	m.started = true
	m.wg.Add(1)
	go m.run()
	log.Printf("Health monitor started, interval %v", m.interval)
}

func (m *Monitor) Stop() {
	if !m.started {
		return
	}
	close(m.quit)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.Check(time.Now())
		}
	}
}

// Check marks connected cameras with stale frames as errored. Exported so
// tests and the health endpoint can force a pass.
func (m *Monitor) Check(now time.Time) {
	for _, cam := range m.mgr.registry.List() {
		if cam.Status() != camera.StatusConnected {
			continue
		}
		last := cam.LastFrameTime()
		if last.IsZero() || now.Sub(last) <= staleAfter {
			continue
		}
		log.Printf("[WARN] Camera %s stale: no frame for %v", cam.ID, now.Sub(last).Round(time.Second))
		cam.RecordError("stream stale: no frames received")
		cam.SetStreamState(camera.StreamError)
	}
}

// HealthStatus is the aggregate service condition.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is the body of the aggregate health endpoint.
type HealthReport struct {
	Status           HealthStatus                `json:"status"`
	Timestamp        time.Time                   `json:"timestamp"`
	CamerasTotal     int                         `json:"cameras_total"`
	CamerasConnected int                         `json:"cameras_connected"`
	ErrorRate        float64                     `json:"error_rate"`
	Cameras          []camera.Snapshot           `json:"cameras"`
	Pipelines        map[string]map[string]int64 `json:"pipelines,omitempty"`
}

// Health assembles the aggregate report: unhealthy with zero connected
// cameras, degraded when some are down or the error rate exceeds 10%.
func (m *Manager) Health() HealthReport {
	snapshots := m.registry.Snapshots()

	connected := 0
	var frames, errs int64
	pipelines := make(map[string]map[string]int64)
	for _, s := range snapshots {
		if s.Status == camera.StatusConnected {
			connected++
		}
		frames += s.FramesProcessed
		errs += s.ErrorCount
		if stats := m.LoopStats(s.ID); stats != nil {
			pipelines[s.ID] = stats
		}
	}

	var errorRate float64
	if frames+errs > 0 {
		errorRate = float64(errs) / float64(frames+errs)
	}

	status := HealthHealthy
	switch {
	case len(snapshots) > 0 && connected == 0:
		status = HealthUnhealthy
	case connected < len(snapshots) || errorRate > 0.10:
		status = HealthDegraded
	}

	return HealthReport{
		Status:           status,
		Timestamp:        time.Now().UTC(),
		CamerasTotal:     len(snapshots),
		CamerasConnected: connected,
		ErrorRate:        errorRate,
		Cameras:          snapshots,
		Pipelines:        pipelines,
	}
}
