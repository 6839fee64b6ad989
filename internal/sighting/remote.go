package sighting

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

// RemoteEvaluator submits persisted sightings to the notifier service's
// evaluation endpoint. Evaluation is fire-and-forget; a failed submit is
// logged and dropped, never retried on the capture path.
type RemoteEvaluator struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewRemoteEvaluator(baseURL, token string) *RemoteEvaluator {
	return &RemoteEvaluator{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Submit implements Evaluator against the notifier's HTTP surface.
func (r *RemoteEvaluator) Submit(ctx context.Context, s *Sighting) {
	payload := map[string]any{
		"sighting_id":   s.RemoteID,
		"person_id":     s.PersonID,
		"camera_id":     s.CameraID,
		"confidence":    s.Confidence,
		"quality_score": s.QualityScore,
		"timestamp":     s.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[ERROR] Sighting %s: evaluation payload: %v", s.ID, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/alert-evaluation/evaluate-sighting", bytes.NewReader(body))
	if err != nil {
		log.Printf("[ERROR] Sighting %s: evaluation request: %v", s.ID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		log.Printf("[WARN] Sighting %s: evaluation submit failed: %v", s.ID, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode != http.StatusAccepted {
		log.Printf("[WARN] Sighting %s: evaluation rejected with status %d", s.ID, resp.StatusCode)
	}
}
