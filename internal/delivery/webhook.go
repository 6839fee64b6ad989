package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignatureHeader carries the HMAC of the canonical JSON body.
const SignatureHeader = "X-FaceGuard-Signature"

// WebhookSender posts the alert envelope as JSON. When the channel has a
// secret, the body is signed with HMAC-SHA256 over its canonical (sorted
// key) encoding.
type WebhookSender struct {
	HTTP *http.Client
}

func (w *WebhookSender) Send(ctx context.Context, ch *Channel, n *Notification) (string, error) {
	cfg := ch.Webhook
	if cfg == nil {
		return "", fmt.Errorf("channel %s: missing webhook config", ch.ID)
	}

	envelope := map[string]any{
		"event_type": "alert",
		"alert_id":   n.AlertID.String(),
		"timestamp":  n.Timestamp.UTC().Format(time.RFC3339),
		"alert_data": alertData(n),
		"source":     "faceguard",
	}

	body, err := CanonicalJSON(envelope)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(cfg.Secret, body))
	}

	client := w.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return "", nil
}

func alertData(n *Notification) map[string]any {
	data := map[string]any{
		"priority":   n.Priority,
		"message":    n.Message,
		"person_id":  n.PersonID,
		"camera_id":  n.CameraID,
		"confidence": n.Confidence,
	}
	for k, v := range n.Payload {
		data[k] = v
	}
	return data
}

// Sign returns "sha256=<hex hmac>" over body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// CanonicalJSON encodes v with object keys sorted, the form both sides of
// the webhook contract sign. encoding/json already sorts map keys; structs
// must be converted to maps first.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// Round-trip through a generic value so nested struct fields also come
	// out sorted.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
