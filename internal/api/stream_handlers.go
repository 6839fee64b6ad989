package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/faceguard/internal/camera"
	"github.com/technosupport/faceguard/internal/config"
	"github.com/technosupport/faceguard/internal/sighting"
	"github.com/technosupport/faceguard/internal/stream"
)

// StreamHandler is the HTTP surface of the camera stream service.
type StreamHandler struct {
	Manager *stream.Manager
	Queue   *sighting.Queue
	Config  *config.Config
}

func NewStreamHandler(mgr *stream.Manager, queue *sighting.Queue, cfg *config.Config) *StreamHandler {
	return &StreamHandler{Manager: mgr, Queue: queue, Config: cfg}
}

func (h *StreamHandler) Register(r chi.Router) {
	r.Route("/api/cameras", func(r chi.Router) {
		r.Get("/", h.ListCameras)
		r.Post("/", h.AddCamera)
		r.Post("/streams/control", h.ControlStreams)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCamera)
			r.Put("/", h.UpdateCamera)
			r.Delete("/", h.DeleteCamera)
			r.Post("/connect", h.ConnectCamera)
			r.Post("/disconnect", h.DisconnectCamera)
			r.Post("/recognize", h.RecognizeOnce)
		})
	})
	r.Route("/api/health", func(r chi.Router) {
		r.Get("/", h.Health)
		r.Get("/live", h.Live)
		r.Get("/ready", h.Ready)
	})
}

// GET /api/cameras/
func (h *StreamHandler) ListCameras(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"cameras":   h.Manager.Registry().Snapshots(),
		"timestamp": time.Now().UTC(),
	})
}

// POST /api/cameras/
func (h *StreamHandler) AddCamera(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string `json:"id"`
		Source    string `json:"source"`
		Name      string `json:"name"`
		Location  string `json:"location"`
		FrameRate int    `json:"frame_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	if req.Source == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "source is required")
		return
	}
	if req.ID == "" {
		req.ID = "camera_" + uuid.NewString()[:8]
	}
	if req.Name == "" {
		req.Name = req.ID
	}

	cam := camera.New(req.ID, req.Name, req.Location, req.Source)
	cam.Width = h.Config.CameraResolutionWidth
	cam.Height = h.Config.CameraResolutionHeight
	cam.FrameRate = h.Config.CameraFrameRate
	if req.FrameRate > 0 {
		cam.FrameRate = req.FrameRate
	}
	cam.ReconnectAttempts = h.Config.CameraReconnectAttempts
	cam.ReconnectDelay = h.Config.CameraReconnectDelay

	if err := h.Manager.AddCamera(cam); err != nil {
		switch {
		case errors.Is(err, stream.ErrCameraExists):
			respondError(w, http.StatusConflict, "conflict", err.Error())
		case errors.Is(err, stream.ErrRegistryFull):
			respondError(w, http.StatusUnprocessableEntity, "capacity", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusCreated, cam.Snapshot())
}

// GET /api/cameras/{id}
func (h *StreamHandler) GetCamera(w http.ResponseWriter, r *http.Request) {
	cam, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cam.Snapshot())
}

// PUT /api/cameras/{id}
func (h *StreamHandler) UpdateCamera(w http.ResponseWriter, r *http.Request) {
	cam, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req struct {
		Name      *string `json:"name"`
		Location  *string `json:"location"`
		FrameRate *int    `json:"frame_rate"`
		Enabled   *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	if req.FrameRate != nil && (*req.FrameRate < 1 || *req.FrameRate > 30) {
		respondError(w, http.StatusBadRequest, "validation_error", "frame_rate must be 1-30")
		return
	}

	if req.Name != nil {
		cam.Name = *req.Name
	}
	if req.Location != nil {
		cam.Location = *req.Location
	}
	if req.FrameRate != nil {
		cam.FrameRate = *req.FrameRate
	}
	if req.Enabled != nil {
		cam.Enabled = *req.Enabled
	}
	respondJSON(w, http.StatusOK, cam.Snapshot())
}

// DELETE /api/cameras/{id}
func (h *StreamHandler) DeleteCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Manager.RemoveCamera(id); err != nil {
		if errors.Is(err, stream.ErrCameraUnknown) {
			respondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// POST /api/cameras/{id}/connect
func (h *StreamHandler) ConnectCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Manager.StartStream(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, stream.ErrCameraUnknown):
			respondError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, stream.ErrStreamRunning):
			respondError(w, http.StatusConflict, "conflict", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "connecting", "id": id})
}

// POST /api/cameras/{id}/disconnect
func (h *StreamHandler) DisconnectCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Manager.StopStream(id); err != nil {
		if errors.Is(err, stream.ErrStreamNotRunning) {
			respondError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected", "id": id})
}

// POST /api/cameras/streams/control
func (h *StreamHandler) ControlStreams(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action    string   `json:"action"`
		CameraIDs []string `json:"camera_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	switch req.Action {
	case "start", "stop", "pause", "resume":
	default:
		respondError(w, http.StatusBadRequest, "validation_error", "action must be start, stop, pause or resume")
		return
	}

	results := h.Manager.Control(r.Context(), req.Action, req.CameraIDs)
	respondJSON(w, http.StatusOK, map[string]any{
		"action":    req.Action,
		"results":   results,
		"timestamp": time.Now().UTC(),
	})
}

// POST /api/cameras/{id}/recognize
func (h *StreamHandler) RecognizeOnce(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := h.Manager.RecognizeOnce(r.Context(), id)
	if err != nil {
		if errors.Is(err, stream.ErrCameraUnknown) {
			respondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "capture_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GET /api/health/
func (h *StreamHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.Manager.Health()

	body := map[string]any{
		"status":            report.Status,
		"timestamp":         report.Timestamp,
		"cameras_total":     report.CamerasTotal,
		"cameras_connected": report.CamerasConnected,
		"error_rate":        report.ErrorRate,
		"cameras":           report.Cameras,
		"pipelines":         report.Pipelines,
	}
	if h.Queue != nil {
		body["sighting_queue"] = h.Queue.Stats()
	}

	status := http.StatusOK
	if report.Status == stream.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, body)
}

// GET /api/health/live
func (h *StreamHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// GET /api/health/ready
func (h *StreamHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Manager.Health().Status == stream.HealthUnhealthy {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "no cameras connected")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *StreamHandler) lookup(w http.ResponseWriter, r *http.Request) (*camera.Camera, bool) {
	id := chi.URLParam(r, "id")
	cam, err := h.Manager.Registry().Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return nil, false
	}
	return cam, true
}
