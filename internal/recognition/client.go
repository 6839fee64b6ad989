package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/technosupport/faceguard/internal/camera"
)

const submitJPEGQuality = 85

// Client talks to the external recognition engine. The engine owns the
// embedding model; we only ship frames and read detections back.
type Client struct {
	baseURL       string
	http          *http.Client
	retryAttempts int
}

type ClientConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		http:          &http.Client{Timeout: cfg.Timeout},
		retryAttempts: cfg.RetryAttempts,
	}
}

// Process submits one frame and returns the engine's detections. Retries
// with delay (attempt+1)*500ms; after the budget is exhausted the last
// failure is returned as a Result, not an error.
func (c *Client) Process(ctx context.Context, frame *camera.Frame, threshold float64) *Result {
	raw := frame.Raw
	if raw == nil {
		var err error
		raw, err = camera.EncodeJPEG(frame.Image, submitJPEGQuality)
		if err != nil {
			return failure(frame, fmt.Sprintf("encode: %v", err))
		}
	}

	var last *Result
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			// Delay scales with the attempt that just failed: 500ms after
			// the first failure, 1s after the second.
			delay := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return failure(frame, ctx.Err().Error())
			case <-time.After(delay):
			}
		}

		res, retriable := c.submit(ctx, frame, raw, threshold)
		if res.Success || !retriable {
			return res
		}
		last = res
		log.Printf("[WARN] Recognition: attempt %d/%d failed for frame %s: %s",
			attempt+1, c.retryAttempts, frame.ID, res.Error)
	}
	return last
}

func (c *Client) submit(ctx context.Context, frame *camera.Frame, raw []byte, threshold float64) (*Result, bool) {
	start := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fmt.Sprintf("%s.jpg", frame.ID))
	if err != nil {
		return failure(frame, err.Error()), false
	}
	if _, err := fw.Write(raw); err != nil {
		return failure(frame, err.Error()), false
	}
	_ = mw.WriteField("camera_id", frame.CameraID)
	_ = mw.WriteField("confidence_threshold", fmt.Sprintf("%.2f", threshold))
	if err := mw.Close(); err != nil {
		return failure(frame, err.Error()), false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/recognition/process", &body)
	if err != nil {
		return failure(frame, err.Error()), false
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return failure(frame, err.Error()), true
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// 4xx means we sent something the engine rejects; retrying the same
		// frame will not help.
		retriable := resp.StatusCode >= 500
		return failure(frame, fmt.Sprintf("engine status %d: %s", resp.StatusCode, b)), retriable
	}

	var payload struct {
		Persons []Person `json:"persons"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return failure(frame, fmt.Sprintf("decode: %v", err)), true
	}

	return &Result{
		Success:          true,
		Persons:          payload.Persons,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		FrameID:          frame.ID,
		Timestamp:        time.Now().UTC(),
	}, false
}

func failure(frame *camera.Frame, msg string) *Result {
	return &Result{
		Success:   false,
		FrameID:   frame.ID,
		Timestamp: time.Now().UTC(),
		Error:     msg,
	}
}
