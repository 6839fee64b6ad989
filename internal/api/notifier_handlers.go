package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/faceguard/internal/alerts"
	"github.com/technosupport/faceguard/internal/data"
	"github.com/technosupport/faceguard/internal/delivery"
	"github.com/technosupport/faceguard/internal/sighting"
)

// maxIngestBody caps webhook and evaluation request bodies.
const maxIngestBody = 1 << 20

// NotifierHandler is the HTTP surface of the alert/notification service.
type NotifierHandler struct {
	Models    data.Models
	Evaluator *alerts.Evaluator
	Engine    *delivery.Engine

	// WebhookSecret signs inbound sighting webhooks.
	WebhookSecret string

	// ServiceAuth, when set, guards the inter-service evaluation endpoint.
	// The stream service authenticates with its service JWT.
	ServiceAuth func(http.Handler) http.Handler
}

func (h *NotifierHandler) Register(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/rules", h.ListRules)
		r.Post("/rules", h.CreateRule)
		r.Route("/rules/{id}", func(r chi.Router) {
			r.Get("/", h.GetRule)
			r.Put("/", h.UpdateRule)
			r.Delete("/", h.DeleteRule)
		})
		r.Get("/history", h.AlertHistory)
		r.Post("/acknowledge/{id}", h.AcknowledgeAlert)
	})
	r.Route("/channels", func(r chi.Router) {
		r.Get("/", h.ListChannels)
		r.Post("/", h.CreateChannel)
		r.Post("/{id}/test", h.TestChannel)
	})
	r.Route("/delivery", func(r chi.Router) {
		r.Post("/send", h.DirectSend)
		r.Get("/logs", h.DeliveryLogs)
		r.Get("/stats", h.DeliveryStats)
	})
	if h.ServiceAuth != nil {
		r.With(h.ServiceAuth).Post("/alert-evaluation/evaluate-sighting", h.EvaluateSighting)
	} else {
		r.Post("/alert-evaluation/evaluate-sighting", h.EvaluateSighting)
	}
	r.Post("/webhook/recognition/sighting", h.WebhookSighting)
}

// GET /alerts/rules
func (h *NotifierHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Models.Rules.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "failed to list rules")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

// POST /alerts/rules
func (h *NotifierHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule alerts.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	if details := validateRule(&rule); len(details) > 0 {
		respondErrorDetails(w, http.StatusBadRequest, "validation_error", "invalid rule", details)
		return
	}

	if err := h.Models.Rules.Create(r.Context(), &rule); err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "failed to create rule")
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// GET /alerts/rules/{id}
func (h *NotifierHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rule, err := h.Models.Rules.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", "failed to load rule")
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// PUT /alerts/rules/{id}
func (h *NotifierHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var rule alerts.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	rule.ID = id
	if details := validateRule(&rule); len(details) > 0 {
		respondErrorDetails(w, http.StatusBadRequest, "validation_error", "invalid rule", details)
		return
	}

	if err := h.Models.Rules.Update(r.Context(), &rule); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", "failed to update rule")
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// DELETE /alerts/rules/{id}
func (h *NotifierHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.Models.Rules.Delete(r.Context(), id); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", "failed to delete rule")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id.String()})
}

// GET /alerts/history
func (h *NotifierHandler) AlertHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := data.AlertFilter{
		Status:   alerts.AlertStatus(q.Get("status")),
		Priority: alerts.Priority(q.Get("priority")),
		PersonID: q.Get("person_id"),
		CameraID: q.Get("camera_id"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "since must be RFC3339")
			return
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	out, err := h.Models.Alerts.History(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "failed to query history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": out, "count": len(out)})
}

// POST /alerts/acknowledge/{id}
func (h *NotifierHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req struct {
		AcknowledgedBy string `json:"acknowledged_by"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.AcknowledgedBy == "" {
		req.AcknowledgedBy = "api"
	}

	alert, err := h.Evaluator.Acknowledge(r.Context(), id, req.AcknowledgedBy)
	if err != nil {
		var bad *alerts.ErrBadTransition
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			respondError(w, http.StatusNotFound, "not_found", "alert not found")
		case errors.As(err, &bad):
			respondError(w, http.StatusConflict, "conflict", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal", "failed to acknowledge alert")
		}
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

// GET /channels
func (h *NotifierHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.Models.Channels.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "failed to list channels")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"channels": channels, "count": len(channels)})
}

// POST /channels
func (h *NotifierHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var ch delivery.Channel
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	switch ch.Type {
	case delivery.TypeEmail, delivery.TypeSMS, delivery.TypeWebhook, delivery.TypeWebSocket:
	default:
		respondError(w, http.StatusBadRequest, "validation_error", "type must be email, sms, webhook or websocket")
		return
	}
	if ch.Name == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	if err := h.Models.Channels.Create(r.Context(), &ch); err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "failed to create channel")
		return
	}
	respondJSON(w, http.StatusCreated, ch)
}

// POST /channels/{id}/test
func (h *NotifierHandler) TestChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	ch, err := h.Models.Channels.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "channel not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", "failed to load channel")
		return
	}

	rec := h.Engine.Deliver(r.Context(), ch, &delivery.Notification{
		AlertID:   uuid.New(),
		Priority:  "low",
		Subject:   "FaceGuard channel test",
		Message:   "Test delivery for channel " + ch.Name,
		Timestamp: time.Now().UTC(),
	})
	respondJSON(w, http.StatusOK, rec)
}

// POST /delivery/send
func (h *NotifierHandler) DirectSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject    string      `json:"subject"`
		Message    string      `json:"message"`
		Recipient  string      `json:"recipient"`
		ChannelIDs []uuid.UUID `json:"channel_ids"`
		Priority   string      `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	if req.Message == "" || len(req.ChannelIDs) == 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "message and channel_ids are required")
		return
	}
	if req.Priority == "" {
		req.Priority = "medium"
	}

	channels, err := h.Models.Channels.ChannelsByIDs(r.Context(), req.ChannelIDs)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "failed to resolve channels")
		return
	}
	if len(channels) == 0 {
		respondError(w, http.StatusNotFound, "not_found", "no matching channels")
		return
	}

	records := h.Engine.Dispatch(r.Context(), channels, &delivery.Notification{
		AlertID:   uuid.New(),
		Priority:  req.Priority,
		Subject:   req.Subject,
		Message:   req.Message,
		Recipient: req.Recipient,
		Timestamp: time.Now().UTC(),
	})
	respondJSON(w, http.StatusOK, map[string]any{"deliveries": records, "count": len(records)})
}

// GET /delivery/logs
func (h *NotifierHandler) DeliveryLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := data.DeliveryFilter{Status: delivery.Status(q.Get("status"))}
	if v := q.Get("alert_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "invalid alert_id")
			return
		}
		filter.AlertID = id
	}
	if v := q.Get("channel_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "invalid channel_id")
			return
		}
		filter.ChannelID = id
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	logs, err := h.Models.Deliveries.Logs(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "failed to query delivery logs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deliveries": logs, "count": len(logs)})
}

// GET /delivery/stats
func (h *NotifierHandler) DeliveryStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "since must be RFC3339")
			return
		}
		since = t
	}

	summary, err := h.Models.Deliveries.Summary(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "failed to aggregate deliveries")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"since":      since,
		"channels":   summary,
		"live_stats": h.Engine.Stats(),
		"evaluation": h.Evaluator.Stats(),
	})
}

// sightingRequest is the wire form accepted by the evaluation endpoints.
type sightingRequest struct {
	SightingID   string  `json:"sighting_id"`
	PersonID     string  `json:"person_id"`
	CameraID     string  `json:"camera_id"`
	Confidence   float64 `json:"confidence"`
	QualityScore float64 `json:"quality_score"`
	Timestamp    string  `json:"timestamp"`
}

func (req *sightingRequest) validate() map[string]string {
	details := make(map[string]string)
	if req.PersonID == "" {
		details["person_id"] = "required"
	}
	if req.CameraID == "" {
		details["camera_id"] = "required"
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		details["confidence"] = "must be 0-1"
	}
	return details
}

func (req *sightingRequest) toSighting() *sighting.Sighting {
	s := &sighting.Sighting{
		ID:           uuid.New(),
		PersonID:     req.PersonID,
		CameraID:     req.CameraID,
		Confidence:   req.Confidence,
		QualityScore: req.QualityScore,
		Source:       sighting.SourceCameraStream,
		Timestamp:    time.Now().UTC(),
		RemoteID:     req.SightingID,
	}
	if t, err := time.Parse(time.RFC3339, req.Timestamp); err == nil {
		s.Timestamp = t
	}
	return s
}

// POST /alert-evaluation/evaluate-sighting
func (h *NotifierHandler) EvaluateSighting(w http.ResponseWriter, r *http.Request) {
	var req sightingRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxIngestBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	if details := req.validate(); len(details) > 0 {
		respondErrorDetails(w, http.StatusBadRequest, "validation_error", "invalid sighting", details)
		return
	}

	result := h.Evaluator.Evaluate(req.toSighting())
	status := http.StatusAccepted
	if result.Status != "queued" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, result)
}

// POST /webhook/recognition/sighting
func (h *NotifierHandler) WebhookSighting(w http.ResponseWriter, r *http.Request) {
	// Without a configured secret any caller could forge an empty-key HMAC,
	// so ingest stays closed until one is set.
	if h.WebhookSecret == "" {
		log.Printf("[WARN] Webhook sighting rejected: no webhook secret configured")
		respondError(w, http.StatusServiceUnavailable, "webhook_disabled", "webhook ingest is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "unreadable body")
		return
	}

	sig := r.Header.Get("X-FaceGuard-Signature")
	if sig == "" || !delivery.Verify(h.WebhookSecret, body, sig) {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}

	var req sightingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	if details := req.validate(); len(details) > 0 {
		respondErrorDetails(w, http.StatusBadRequest, "validation_error", "invalid sighting", details)
		return
	}

	result := h.Evaluator.Evaluate(req.toSighting())
	respondJSON(w, http.StatusAccepted, result)
}

func validateRule(r *alerts.AlertRule) map[string]string {
	details := make(map[string]string)
	if r.Name == "" {
		details["name"] = "required"
	}
	switch r.Priority {
	case alerts.PriorityLow, alerts.PriorityMedium, alerts.PriorityHigh, alerts.PriorityCritical:
	case "":
		r.Priority = alerts.PriorityMedium
	default:
		details["priority"] = "must be low, medium, high or critical"
	}
	if r.CooldownMinutes < 0 {
		details["cooldown_minutes"] = "must not be negative"
	}
	tc := r.TriggerConditions
	if len(tc.PersonIDs) == 0 && !tc.AnyPerson {
		details["trigger_conditions"] = "person_ids or any_person is required"
	}
	if tc.ConfidenceMin != nil && (*tc.ConfidenceMin < 0 || *tc.ConfidenceMin > 1) {
		details["confidence_min"] = "must be 0-1"
	}
	for _, tr := range tc.TimeRanges {
		if tr.StartHour < 0 || tr.StartHour > 23 || tr.EndHour < 0 || tr.EndHour > 23 {
			details["time_ranges"] = "hours must be 0-23"
		}
	}
	return details
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
