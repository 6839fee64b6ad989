package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/faceguard/internal/camera"
	"github.com/technosupport/faceguard/internal/config"
	"github.com/technosupport/faceguard/internal/stream"
)

func newStreamEnv(t *testing.T, maxCameras int) (http.Handler, *stream.Manager) {
	t.Helper()
	cfg := &config.Config{
		CameraFrameRate:         10,
		CameraResolutionWidth:   1280,
		CameraResolutionHeight:  720,
		CameraReconnectAttempts: 3,
		CameraReconnectDelay:    time.Second,
		MaxConcurrentCameras:    maxCameras,
		Features:                config.Features{MultiCamera: true},
	}
	mgr := stream.NewManager(stream.ManagerDeps{Config: cfg})

	r := chi.NewRouter()
	NewStreamHandler(mgr, nil, cfg).Register(r)
	return r, mgr
}

func TestAddCameraGeneratesID(t *testing.T) {
	h, _ := newStreamEnv(t, 4)

	w := doJSON(t, h, http.MethodPost, "/api/cameras/", map[string]any{
		"source":   "rtsp://10.0.0.5/stream",
		"location": "lobby",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var snap camera.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, strings.HasPrefix(snap.ID, "camera_"), "generated id %q", snap.ID)
	assert.Equal(t, snap.ID, snap.Name, "name defaults to id")
}

func TestAddCameraRequiresSource(t *testing.T) {
	h, _ := newStreamEnv(t, 4)
	w := doJSON(t, h, http.MethodPost, "/api/cameras/", map[string]any{"id": "cam-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddCameraConflictAndCapacity(t *testing.T) {
	h, _ := newStreamEnv(t, 1)

	w := doJSON(t, h, http.MethodPost, "/api/cameras/", map[string]any{
		"id": "cam-1", "source": "rtsp://a/1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/cameras/", map[string]any{
		"id": "cam-1", "source": "rtsp://a/1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/cameras/", map[string]any{
		"id": "cam-2", "source": "rtsp://a/2",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestListCameras(t *testing.T) {
	h, mgr := newStreamEnv(t, 4)
	require.NoError(t, mgr.AddCamera(camera.New("cam-1", "Entrance", "lobby", "rtsp://a/1")))

	w := doJSON(t, h, http.MethodGet, "/api/cameras/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Cameras []camera.Snapshot `json:"cameras"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Cameras, 1)
	assert.Equal(t, "Entrance", body.Cameras[0].Name)
}

func TestGetCameraNotFound(t *testing.T) {
	h, _ := newStreamEnv(t, 4)
	w := doJSON(t, h, http.MethodGet, "/api/cameras/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateCameraValidatesFrameRate(t *testing.T) {
	h, mgr := newStreamEnv(t, 4)
	require.NoError(t, mgr.AddCamera(camera.New("cam-1", "cam-1", "", "rtsp://a/1")))

	w := doJSON(t, h, http.MethodPut, "/api/cameras/cam-1", map[string]any{"frame_rate": 99})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPut, "/api/cameras/cam-1", map[string]any{
		"name":       "North entrance",
		"frame_rate": 15,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var snap camera.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "North entrance", snap.Name)

	cam, err := mgr.Registry().Get("cam-1")
	require.NoError(t, err)
	assert.Equal(t, 15, cam.FrameRate)
}

func TestDeleteCamera(t *testing.T) {
	h, mgr := newStreamEnv(t, 4)
	require.NoError(t, mgr.AddCamera(camera.New("cam-1", "cam-1", "", "rtsp://a/1")))

	w := doJSON(t, h, http.MethodDelete, "/api/cameras/cam-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodDelete, "/api/cameras/cam-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestControlStreamsRejectsUnknownAction(t *testing.T) {
	h, _ := newStreamEnv(t, 4)
	w := doJSON(t, h, http.MethodPost, "/api/cameras/streams/control", map[string]any{
		"action": "reboot",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisconnectNotRunning(t *testing.T) {
	h, mgr := newStreamEnv(t, 4)
	require.NoError(t, mgr.AddCamera(camera.New("cam-1", "cam-1", "", "rtsp://a/1")))

	w := doJSON(t, h, http.MethodPost, "/api/cameras/cam-1/disconnect", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h, mgr := newStreamEnv(t, 4)
	cam := camera.New("cam-1", "cam-1", "", "rtsp://a/1")
	require.NoError(t, mgr.AddCamera(cam))
	cam.SetStatus(camera.StatusConnected)

	w := doJSON(t, h, http.MethodGet, "/api/health/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status           string `json:"status"`
		CamerasTotal     int    `json:"cameras_total"`
		CamerasConnected int    `json:"cameras_connected"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 1, body.CamerasTotal)
	assert.Equal(t, 1, body.CamerasConnected)
}

func TestHealthUnhealthyReturns503(t *testing.T) {
	h, mgr := newStreamEnv(t, 4)
	cam := camera.New("cam-1", "cam-1", "", "rtsp://a/1")
	require.NoError(t, mgr.AddCamera(cam))
	// Registered but never connected: the service has cameras and none work.

	w := doJSON(t, h, http.MethodGet, "/api/health/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code, "liveness ignores camera state")
}
