package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the env-backed configuration shared by both services.
// Validation clamps out-of-range values to their documented bounds rather
// than failing startup; a camera service with a bad frame rate should still
// come up and report itself degraded.
type Config struct {
	ServiceHost string
	ServicePort int
	LogLevel    string

	// Camera stream service
	CameraSources             []string
	CameraFrameRate           int // 1-30
	CameraResolutionWidth     int
	CameraResolutionHeight    int
	CameraReconnectAttempts   int // 1-10
	CameraReconnectDelay      time.Duration
	CameraHealthCheckInterval time.Duration
	FrameQualityThreshold     float64 // 0-1
	FrameBufferSize           int
	MaxConcurrentCameras      int // 1-16

	// Integration
	CoreDataServiceURL       string
	FaceRecognitionURL       string
	NotifierServiceURL       string
	IntegrationTimeout       time.Duration
	IntegrationRetryAttempts int

	// Redis / events
	RedisHost      string
	RedisPort      int
	RedisDB        int
	EventChannel   string
	EventBatchSize int

	// Notifier store
	DatabaseURL string

	// NATS mirror
	NATSURL string

	// Service auth
	ServiceTokenKey string

	// WebhookSecret signs inbound recognition webhooks on the notifier.
	WebhookSecret string

	// Rule/channel seed file (optional, hot reloaded)
	AlertConfigPath string

	Features Features
}

// Features are runtime toggles. Disabled features degrade quietly; the
// pipeline itself never depends on one being on.
type Features struct {
	MultiCamera       bool
	FrameQualityCheck bool
	EventPublishing   bool
	HealthMonitoring  bool
	Analytics         bool
	NATSMirror        bool
}

// Load reads configuration from the environment, applying defaults and
// clamping documented ranges.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceHost:               envStr("SERVICE_HOST", "0.0.0.0"),
		ServicePort:               envInt("SERVICE_PORT", 8080),
		LogLevel:                  envStr("LOG_LEVEL", "info"),
		CameraFrameRate:           clamp(envInt("CAMERA_FRAME_RATE", 10), 1, 30),
		CameraResolutionWidth:     envInt("CAMERA_RESOLUTION_WIDTH", 1280),
		CameraResolutionHeight:    envInt("CAMERA_RESOLUTION_HEIGHT", 720),
		CameraReconnectAttempts:   clamp(envInt("CAMERA_RECONNECT_ATTEMPTS", 3), 1, 10),
		CameraReconnectDelay:      time.Duration(clamp(envInt("CAMERA_RECONNECT_DELAY", 5), 1, 60)) * time.Second,
		CameraHealthCheckInterval: time.Duration(envInt("CAMERA_HEALTH_CHECK_INTERVAL", 30)) * time.Second,
		FrameQualityThreshold:     clampFloat(envFloat("FRAME_QUALITY_THRESHOLD", 0.4), 0, 1),
		FrameBufferSize:           envInt("FRAME_BUFFER_SIZE", 10),
		MaxConcurrentCameras:      clamp(envInt("MAX_CONCURRENT_CAMERAS", 4), 1, 16),
		CoreDataServiceURL:        envStr("CORE_DATA_SERVICE_URL", "http://localhost:8000"),
		FaceRecognitionURL:        envStr("FACE_RECOGNITION_SERVICE_URL", "http://localhost:8001"),
		NotifierServiceURL:        envStr("NOTIFIER_SERVICE_URL", "http://localhost:8002"),
		IntegrationTimeout:        time.Duration(envInt("INTEGRATION_TIMEOUT", 30)) * time.Second,
		IntegrationRetryAttempts:  envInt("INTEGRATION_RETRY_ATTEMPTS", 3),
		RedisHost:                 envStr("REDIS_HOST", "localhost"),
		RedisPort:                 envInt("REDIS_PORT", 6379),
		RedisDB:                   envInt("REDIS_DB", 0),
		EventChannel:              envStr("EVENT_CHANNEL", "faceguard:recognition_events"),
		EventBatchSize:            envInt("EVENT_BATCH_SIZE", 100),
		DatabaseURL:               envStr("DATABASE_URL", ""),
		NATSURL:                   envStr("NATS_URL", ""),
		ServiceTokenKey:           envStr("SERVICE_TOKEN_KEY", ""),
		WebhookSecret:             envStr("WEBHOOK_SECRET", ""),
		AlertConfigPath:           envStr("ALERT_CONFIG_PATH", ""),
		Features: Features{
			MultiCamera:       envBool("FEATURE_MULTI_CAMERA", true),
			FrameQualityCheck: envBool("FEATURE_FRAME_QUALITY_CHECK", true),
			EventPublishing:   envBool("FEATURE_EVENT_PUBLISHING", true),
			HealthMonitoring:  envBool("FEATURE_HEALTH_MONITORING", true),
			Analytics:         envBool("FEATURE_ANALYTICS", false),
			NATSMirror:        envBool("FEATURE_NATS_MIRROR", false),
		},
	}

	// CAMERA_SOURCES accepts a comma list or a single source.
	if raw := os.Getenv("CAMERA_SOURCES"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				cfg.CameraSources = append(cfg.CameraSources, s)
			}
		}
	}

	if cfg.ServicePort <= 0 || cfg.ServicePort > 65535 {
		return nil, fmt.Errorf("invalid SERVICE_PORT %d", cfg.ServicePort)
	}
	return cfg, nil
}

// RedisAddr returns host:port for the redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.CameraFrameRate)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
