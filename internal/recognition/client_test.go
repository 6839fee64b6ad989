package recognition

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/technosupport/faceguard/internal/camera"
)

func engineFrame() *camera.Frame {
	return camera.NewFrame("cam1", 1, image.NewRGBA(image.Rect(0, 0, 64, 48)), []byte{0xFF, 0xD8, 0xFF})
}

func TestProcessSubmitsMultipart(t *testing.T) {
	var gotCameraID, gotThreshold string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/recognition/process" {
			t.Errorf("Path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		gotCameraID = r.FormValue("camera_id")
		gotThreshold = r.FormValue("confidence_threshold")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("Missing file part: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"persons": []Person{{PersonID: "p1", RecognitionConfidence: 0.91}},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, RetryAttempts: 1})
	res := c.Process(context.Background(), engineFrame(), 0.75)

	if !res.Success {
		t.Fatalf("Expected success, got error %q", res.Error)
	}
	if len(res.Persons) != 1 || res.Persons[0].PersonID != "p1" {
		t.Errorf("Persons = %+v", res.Persons)
	}
	if gotCameraID != "cam1" || gotThreshold != "0.75" {
		t.Errorf("Form fields = %q / %q", gotCameraID, gotThreshold)
	}
}

func TestProcessRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"persons": []Person{}})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, RetryAttempts: 2})
	start := time.Now()
	res := c.Process(context.Background(), engineFrame(), 0.5)

	if !res.Success {
		t.Fatalf("Expected success after retry, got %q", res.Error)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("Calls = %d, want 2", got)
	}
	// The first failed attempt backs off (attempt+1)*500ms = 500ms.
	elapsed := time.Since(start)
	if elapsed < 500*time.Millisecond {
		t.Errorf("Retry fired after %v, want >= 500ms backoff", elapsed)
	}
	if elapsed >= time.Second {
		t.Errorf("Retry fired after %v, want < 1s (delay keyed to the failed attempt)", elapsed)
	}
}

func TestProcessNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad frame", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, RetryAttempts: 3})
	res := c.Process(context.Background(), engineFrame(), 0.5)

	if res.Success {
		t.Fatal("Expected failure")
	}
	if !strings.Contains(res.Error, "engine status 400") {
		t.Errorf("Error = %q", res.Error)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Calls = %d, want 1 (4xx is not retriable)", got)
	}
}

func TestProcessExhaustedRetriesReturnsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, RetryAttempts: 2})
	frame := engineFrame()
	res := c.Process(context.Background(), frame, 0.5)

	if res == nil || res.Success {
		t.Fatal("Expected a failure result, never a nil")
	}
	if res.FrameID != frame.ID {
		t.Errorf("FrameID = %s, want %s", res.FrameID, frame.ID)
	}
	if !strings.Contains(res.Error, "engine status 500") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestProcessContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := NewClient(ClientConfig{BaseURL: srv.URL, RetryAttempts: 3})
	res := c.Process(ctx, engineFrame(), 0.5)

	if res.Success {
		t.Fatal("Expected failure")
	}
	if !strings.Contains(res.Error, "context deadline exceeded") {
		t.Errorf("Error = %q, want context cancellation", res.Error)
	}
}
