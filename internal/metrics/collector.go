package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/faceguard/internal/alerts"
	"github.com/technosupport/faceguard/internal/delivery"
	"github.com/technosupport/faceguard/internal/events"
	"github.com/technosupport/faceguard/internal/sighting"
	"github.com/technosupport/faceguard/internal/stream"
	"github.com/technosupport/faceguard/internal/vector"
)

// Sources are the subsystems the collector polls on each tick. Any field may
// be nil; the stream service and the notifier each wire only their half.
type Sources struct {
	Streams    *stream.Manager
	Queue      *sighting.Queue
	Caches     *vector.Caches
	Bus        *events.Bus
	Evaluator  *alerts.Evaluator
	Deliveries *delivery.Engine
	PerCamera  bool
}

// Collector polls subsystem stats into a private prometheus registry.
type Collector struct {
	sources  Sources
	registry *prometheus.Registry

	mu           sync.RWMutex
	lastSnapshot time.Time

	healthStatus     *prometheus.GaugeVec
	camerasTotal     prometheus.Gauge
	camerasConnected prometheus.Gauge
	streamErrorRate  prometheus.Gauge
	framesProcessed  *prometheus.GaugeVec
	cameraErrors     *prometheus.GaugeVec

	sightingsCaptured prometheus.Gauge
	queueFullDrops    prometheus.Gauge
	queueDepth        prometheus.Gauge
	uploads           *prometheus.GaugeVec

	cacheHits    *prometheus.GaugeVec
	cacheMisses  *prometheus.GaugeVec
	cacheEntries *prometheus.GaugeVec

	eventsPublished     prometheus.Gauge
	eventsPublishErrors prometheus.Gauge
	eventsBatchPending  prometheus.Gauge

	evaluations     *prometheus.GaugeVec
	alertsCreated   prometheus.Gauge
	cooldownSkipped prometheus.Gauge

	deliverySent    *prometheus.GaugeVec
	deliveryFailed  *prometheus.GaugeVec
	breakerOpen     *prometheus.GaugeVec
	rateWindowUsed  *prometheus.GaugeVec
	deliverySkipped *prometheus.GaugeVec
}

func NewCollector(sources Sources) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		sources:  sources,
		registry: reg,
	}

	c.healthStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_health_status",
		Help: "Aggregate service condition (1 for the active status label)",
	}, []string{"status"})
	reg.MustRegister(c.healthStatus)

	c.camerasTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_cameras_total",
		Help: "Registered cameras",
	})
	reg.MustRegister(c.camerasTotal)

	c.camerasConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_cameras_connected",
		Help: "Cameras currently connected",
	})
	reg.MustRegister(c.camerasConnected)

	c.streamErrorRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_stream_error_rate",
		Help: "Errors over frames plus errors across all cameras",
	})
	reg.MustRegister(c.streamErrorRate)

	c.framesProcessed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_frames_processed_total",
		Help: "Frames captured per camera",
	}, []string{"camera_id"})
	reg.MustRegister(c.framesProcessed)

	c.cameraErrors = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_camera_errors_total",
		Help: "Capture and pipeline errors per camera",
	}, []string{"camera_id"})
	reg.MustRegister(c.cameraErrors)

	c.sightingsCaptured = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_sightings_captured_total",
		Help: "Sightings accepted into the capture queue",
	})
	reg.MustRegister(c.sightingsCaptured)

	c.queueFullDrops = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_sighting_queue_full_drops_total",
		Help: "Sightings dropped because the capture queue was full",
	})
	reg.MustRegister(c.queueFullDrops)

	c.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_sighting_queue_depth",
		Help: "Sightings waiting in the capture queue",
	})
	reg.MustRegister(c.queueDepth)

	c.uploads = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_sighting_uploads_total",
		Help: "Sighting upload outcomes",
	}, []string{"result"})
	reg.MustRegister(c.uploads)

	c.cacheHits = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_cache_hits_total",
		Help: "Recognition cache hits",
	}, []string{"cache"})
	reg.MustRegister(c.cacheHits)

	c.cacheMisses = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_cache_misses_total",
		Help: "Recognition cache misses",
	}, []string{"cache"})
	reg.MustRegister(c.cacheMisses)

	c.cacheEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_cache_entries",
		Help: "Live entries per recognition cache",
	}, []string{"cache"})
	reg.MustRegister(c.cacheEntries)

	c.eventsPublished = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_events_published_total",
		Help: "Recognition events published to the bus",
	})
	reg.MustRegister(c.eventsPublished)

	c.eventsPublishErrors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_events_publish_errors_total",
		Help: "Event bus publish failures",
	})
	reg.MustRegister(c.eventsPublishErrors)

	c.eventsBatchPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_events_batch_pending",
		Help: "Events buffered for the next history batch",
	})
	reg.MustRegister(c.eventsBatchPending)

	c.evaluations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_evaluations_total",
		Help: "Sighting evaluation outcomes",
	}, []string{"result"})
	reg.MustRegister(c.evaluations)

	c.alertsCreated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_alerts_created_total",
		Help: "Alert instances created by rule evaluation",
	})
	reg.MustRegister(c.alertsCreated)

	c.cooldownSkipped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceguard_alerts_cooldown_skipped_total",
		Help: "Rule matches suppressed by cooldown",
	})
	reg.MustRegister(c.cooldownSkipped)

	c.deliverySent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_deliveries_sent_total",
		Help: "Notifications delivered per channel",
	}, []string{"channel_id"})
	reg.MustRegister(c.deliverySent)

	c.deliveryFailed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_deliveries_failed_total",
		Help: "Notification deliveries that exhausted retries",
	}, []string{"channel_id"})
	reg.MustRegister(c.deliveryFailed)

	c.breakerOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_delivery_breaker_open",
		Help: "1 while the channel circuit breaker is open",
	}, []string{"channel_id"})
	reg.MustRegister(c.breakerOpen)

	c.rateWindowUsed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_delivery_rate_window_occupancy",
		Help: "Sends counted in the current rate window",
	}, []string{"channel_id"})
	reg.MustRegister(c.rateWindowUsed)

	c.deliverySkipped = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faceguard_deliveries_skipped_total",
		Help: "Deliveries skipped by the rate window or open breaker",
	}, []string{"channel_id", "reason"})
	reg.MustRegister(c.deliverySkipped)

	return c
}

func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Collect snapshots every wired source. Exported so tests can force a pass
// without running the ticker.
func (c *Collector) Collect() {
	if c.sources.Streams != nil {
		c.collectStreams()
	}
	if c.sources.Queue != nil {
		s := c.sources.Queue.Stats()
		c.sightingsCaptured.Set(float64(s.Captured))
		c.queueFullDrops.Set(float64(s.QueueFullDrops))
		c.queueDepth.Set(float64(s.Depth))
		c.uploads.WithLabelValues("success").Set(float64(s.SuccessfulUploads))
		c.uploads.WithLabelValues("failure").Set(float64(s.FailedUploads))
	}
	if c.sources.Caches != nil {
		for name, s := range c.sources.Caches.Stats() {
			c.cacheHits.WithLabelValues(name).Set(float64(s.Hits))
			c.cacheMisses.WithLabelValues(name).Set(float64(s.Misses))
			c.cacheEntries.WithLabelValues(name).Set(float64(s.Entries))
		}
	}
	if c.sources.Bus != nil {
		s := c.sources.Bus.Stats()
		c.eventsPublished.Set(float64(s.Published))
		c.eventsPublishErrors.Set(float64(s.PublishErrors))
		c.eventsBatchPending.Set(float64(s.BatchPending))
	}
	if c.sources.Evaluator != nil {
		s := c.sources.Evaluator.Stats()
		c.evaluations.WithLabelValues("submitted").Set(float64(s.Submitted))
		c.evaluations.WithLabelValues("rejected").Set(float64(s.Rejected))
		c.alertsCreated.Set(float64(s.AlertsCreated))
		c.cooldownSkipped.Set(float64(s.CooldownSkipped))
	}
	if c.sources.Deliveries != nil {
		for _, s := range c.sources.Deliveries.Stats() {
			id := s.ChannelID.String()
			c.deliverySent.WithLabelValues(id).Set(float64(s.Sent))
			c.deliveryFailed.WithLabelValues(id).Set(float64(s.Failed))
			c.rateWindowUsed.WithLabelValues(id).Set(float64(s.WindowOccupancy))
			c.deliverySkipped.WithLabelValues(id, "rate_limit").Set(float64(s.RateSkipped))
			c.deliverySkipped.WithLabelValues(id, "breaker").Set(float64(s.BreakerSkipped))
			open := 0.0
			if s.BreakerState == delivery.BreakerOpen {
				open = 1
			}
			c.breakerOpen.WithLabelValues(id).Set(open)
		}
	}

	c.mu.Lock()
	c.lastSnapshot = time.Now()
	c.mu.Unlock()
}

func (c *Collector) collectStreams() {
	report := c.sources.Streams.Health()

	for _, status := range []stream.HealthStatus{stream.HealthHealthy, stream.HealthDegraded, stream.HealthUnhealthy} {
		val := 0.0
		if report.Status == status {
			val = 1
		}
		c.healthStatus.WithLabelValues(string(status)).Set(val)
	}

	c.camerasTotal.Set(float64(report.CamerasTotal))
	c.camerasConnected.Set(float64(report.CamerasConnected))
	c.streamErrorRate.Set(report.ErrorRate)

	if !c.sources.PerCamera {
		return
	}
	for _, cam := range report.Cameras {
		c.framesProcessed.WithLabelValues(cam.ID).Set(float64(cam.FramesProcessed))
		c.cameraErrors.WithLabelValues(cam.ID).Set(float64(cam.ErrorCount))
	}
}
