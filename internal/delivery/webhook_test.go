package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSendPostsSignedEnvelope(t *testing.T) {
	var gotBody []byte
	var gotSig, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := &Channel{
		ID:   uuid.New(),
		Type: TypeWebhook,
		Webhook: &WebhookConfig{
			URL:     srv.URL,
			Secret:  "hunter2",
			Headers: map[string]string{"Authorization": "Bearer tok"},
		},
	}
	n := &Notification{
		AlertID:    uuid.New(),
		Priority:   "critical",
		Message:    "Priority person detected",
		PersonID:   "person-9",
		CameraID:   "cam-front",
		Confidence: 0.93,
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	sender := &WebhookSender{}
	_, err := sender.Send(context.Background(), ch, n)
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	assert.Equal(t, "alert", envelope["event_type"])
	assert.Equal(t, n.AlertID.String(), envelope["alert_id"])
	assert.Equal(t, "2025-06-01T12:00:00Z", envelope["timestamp"])
	assert.Equal(t, "faceguard", envelope["source"])

	data := envelope["alert_data"].(map[string]any)
	assert.Equal(t, "critical", data["priority"])
	assert.Equal(t, "person-9", data["person_id"])

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.True(t, Verify("hunter2", gotBody, gotSig), "signature must verify over the exact wire bytes")
}

func TestWebhookSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := &Channel{ID: uuid.New(), Type: TypeWebhook, Webhook: &WebhookConfig{URL: srv.URL}}
	sender := &WebhookSender{}
	_, err := sender.Send(context.Background(), ch, &Notification{AlertID: uuid.New(), Timestamp: time.Now()})
	assert.ErrorContains(t, err, "webhook status 502")
}

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"a":1,"b":2}`)
	sig := Sign("secret", body)
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.True(t, Verify("secret", body, sig))
	assert.False(t, Verify("secret", []byte(`{"a":1,"b":3}`), sig))
	assert.False(t, Verify("other", body, sig))
}

func TestCanonicalJSONSortsNestedKeys(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"z": map[string]any{"b": 1, "a": 2}, "a": 3})
	require.NoError(t, err)
	b, err := CanonicalJSON(map[string]any{"a": 3, "z": map[string]any{"a": 2, "b": 1}})
	require.NoError(t, err)
	assert.Equal(t, a, b, "key order in the input must not change the canonical bytes")
}
