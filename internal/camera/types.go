package camera

import (
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusInactive     Status = "inactive"
)

type StreamState string

const (
	StreamActive  StreamState = "active"
	StreamPaused  StreamState = "paused"
	StreamStopped StreamState = "stopped"
	StreamError   StreamState = "error"
)

// Camera is the runtime record for one capture source. Mutable fields are
// guarded by mu; the stream loop and the health monitor both touch them.
type Camera struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Source   string `json:"source"`

	Width     int  `json:"width"`
	Height    int  `json:"height"`
	FrameRate int  `json:"frame_rate"`
	Enabled   bool `json:"enabled"`

	AutoReconnect     bool          `json:"auto_reconnect"`
	ReconnectAttempts int           `json:"reconnect_attempts_max"`
	ReconnectDelay    time.Duration `json:"-"`

	mu                sync.Mutex
	status            Status
	streamState       StreamState
	framesProcessed   int64
	errorCount        int64
	lastError         string
	lastFrameTime     time.Time
	reconnectAttempts int
	createdAt         time.Time
}

func New(id, name, location, source string) *Camera {
	return &Camera{
		ID:                id,
		Name:              name,
		Location:          location,
		Source:            source,
		Enabled:           true,
		AutoReconnect:     true,
		ReconnectAttempts: 3,
		ReconnectDelay:    5 * time.Second,
		status:            StatusDisconnected,
		streamState:       StreamStopped,
		createdAt:         time.Now().UTC(),
	}
}

func (c *Camera) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Camera) SetStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Camera) StreamState() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamState
}

func (c *Camera) SetStreamState(s StreamState) {
	c.mu.Lock()
	c.streamState = s
	c.mu.Unlock()
}

func (c *Camera) RecordFrame() {
	c.mu.Lock()
	c.framesProcessed++
	c.lastFrameTime = time.Now()
	c.mu.Unlock()
}

func (c *Camera) RecordError(msg string) {
	c.mu.Lock()
	c.errorCount++
	c.lastError = msg
	c.status = StatusError
	c.mu.Unlock()
}

func (c *Camera) LastFrameTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFrameTime
}

func (c *Camera) ReconnectBudgetLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempts < c.ReconnectAttempts
}

func (c *Camera) IncReconnect() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectAttempts++
	return c.reconnectAttempts
}

func (c *Camera) ResetReconnect() {
	c.mu.Lock()
	c.reconnectAttempts = 0
	c.mu.Unlock()
}

// Snapshot is the JSON view returned by the API.
type Snapshot struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Location          string      `json:"location"`
	Source            string      `json:"source"`
	Status            Status      `json:"status"`
	StreamState       StreamState `json:"stream_state"`
	Enabled           bool        `json:"enabled"`
	FramesProcessed   int64       `json:"frames_processed"`
	ErrorCount        int64       `json:"error_count"`
	LastError         string      `json:"last_error,omitempty"`
	LastFrameTime     *time.Time  `json:"last_frame_time,omitempty"`
	ReconnectAttempts int         `json:"reconnect_attempts"`
	CreatedAt         time.Time   `json:"created_at"`
}

func (c *Camera) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		ID:                c.ID,
		Name:              c.Name,
		Location:          c.Location,
		Source:            c.Source,
		Status:            c.status,
		StreamState:       c.streamState,
		Enabled:           c.Enabled,
		FramesProcessed:   c.framesProcessed,
		ErrorCount:        c.errorCount,
		LastError:         c.lastError,
		ReconnectAttempts: c.reconnectAttempts,
		CreatedAt:         c.createdAt,
	}
	if !c.lastFrameTime.IsZero() {
		t := c.lastFrameTime
		s.LastFrameTime = &t
	}
	return s
}

type QualityGrade string

const (
	GradeExcellent QualityGrade = "excellent"
	GradeGood      QualityGrade = "good"
	GradeFair      QualityGrade = "fair"
	GradePoor      QualityGrade = "poor"
	GradeUnusable  QualityGrade = "unusable"
)

// Frame is one captured image plus its metadata. Raw holds the original
// JPEG bytes when the source produced JPEG; it may be nil for decoded-only
// sources, in which case encoders work from Image.
type Frame struct {
	ID          uuid.UUID
	CameraID    string
	Timestamp   time.Time
	FrameNumber int64
	Width       int
	Height      int
	Channels    int
	SizeBytes   int

	Image image.Image
	Raw   []byte

	QualityScore float64
	QualityGrade QualityGrade
	QualityKnown bool
}

func NewFrame(cameraID string, number int64, img image.Image, raw []byte) *Frame {
	b := img.Bounds()
	size := len(raw)
	if size == 0 {
		size = b.Dx() * b.Dy() * 3
	}
	return &Frame{
		ID:          uuid.New(),
		CameraID:    cameraID,
		Timestamp:   time.Now().UTC(),
		FrameNumber: number,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Channels:    3,
		SizeBytes:   size,
		Image:       img,
		Raw:         raw,
	}
}
