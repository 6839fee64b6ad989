// Package dataservice is the HTTP client for the core data service, the
// system of record for persons, sightings and the high-priority watchlist.
package dataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/technosupport/faceguard/internal/alerts"
	"github.com/technosupport/faceguard/internal/sighting"
	"github.com/technosupport/faceguard/internal/vector"
)

const defaultTimeout = 30 * time.Second

// Client talks to the core data service. It implements sighting.Uploader,
// alerts.PriorityChecker and alerts.ContactSource.
type Client struct {
	baseURL string
	http    *http.Client

	// token, when set, is attached as a Bearer credential.
	token string
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// UploadSighting posts the sighting and its face crop as multipart form
// data. A 201 response carries the data-service-assigned sighting id.
func (c *Client) UploadSighting(ctx context.Context, s *sighting.Sighting, cropJPEG []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"person_id":     s.PersonID,
		"camera_id":     s.CameraID,
		"confidence":    strconv.FormatFloat(s.Confidence, 'f', 4, 64),
		"quality_score": strconv.FormatFloat(s.QualityScore, 'f', 4, 64),
		"source_type":   string(s.Source),
		"timestamp":     s.Timestamp.UTC().Format(time.RFC3339Nano),
		"frame_number":  strconv.FormatInt(s.FrameNumber, 10),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if len(cropJPEG) > 0 {
		fw, err := mw.CreateFormFile("image", fmt.Sprintf("sighting_%s.jpg", s.ID))
		if err != nil {
			return "", err
		}
		if _, err := fw.Write(cropJPEG); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/sightings", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sighting upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("sighting upload status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Persisted but unidentified; the sighting still counts.
		log.Printf("[WARN] Sighting %s stored but response unreadable: %v", s.ID, err)
		return "", nil
	}
	return out.ID, nil
}

// CheckHighPriority implements alerts.PriorityChecker.
func (c *Client) CheckHighPriority(ctx context.Context, personID string) (*alerts.PriorityStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		"/api/high-priority-persons/check/"+url.PathEscape(personID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("priority check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &alerts.PriorityStatus{IsHighPriority: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("priority check status %d", resp.StatusCode)
	}

	var status alerts.PriorityStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("priority check decode: %w", err)
	}
	return &status, nil
}

// ContactsFor implements alerts.ContactSource by fetching the
// high_priority_person_contacts linking table for a person.
func (c *Client) ContactsFor(ctx context.Context, personID string) ([]alerts.ContactLink, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		"/api/high-priority-persons/"+url.PathEscape(personID)+"/contacts", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact links: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("contact links status %d", resp.StatusCode)
	}

	var links []alerts.ContactLink
	if err := json.NewDecoder(resp.Body).Decode(&links); err != nil {
		return nil, fmt.Errorf("contact links decode: %w", err)
	}
	return links, nil
}

// PersonAttributes fetches directory facts used by department and
// access-level rule conditions. Missing persons yield nil, not an error.
func (c *Client) PersonAttributes(ctx context.Context, personID string) (*alerts.PersonAttributes, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		"/api/persons/"+url.PathEscape(personID)+"/attributes", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("person attributes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("person attributes status %d", resp.StatusCode)
	}

	var attrs alerts.PersonAttributes
	if err := json.NewDecoder(resp.Body).Decode(&attrs); err != nil {
		return nil, err
	}
	return &attrs, nil
}

// PersonEmbeddings fetches every enrolled face embedding for the local
// index. Implements recognition.EmbeddingSource.
func (c *Client) PersonEmbeddings(ctx context.Context) ([]vector.PersonEmbedding, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/persons/embeddings", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings fetch status %d", resp.StatusCode)
	}

	var rows []struct {
		EmbeddingID     string    `json:"embedding_id"`
		PersonID        string    `json:"person_id"`
		Embedding       []float32 `json:"embedding"`
		QualityScore    float64   `json:"quality_score"`
		ConfidenceScore float64   `json:"confidence_score"`
		ModelName       string    `json:"model_name"`
		ModelVersion    string    `json:"model_version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("embeddings decode: %w", err)
	}

	out := make([]vector.PersonEmbedding, 0, len(rows))
	for _, r := range rows {
		out = append(out, vector.PersonEmbedding{
			EmbeddingID:       r.EmbeddingID,
			PersonID:          r.PersonID,
			Vector:            r.Embedding,
			QualityScore:      r.QualityScore,
			TrainedConfidence: r.ConfidenceScore,
			ModelName:         r.ModelName,
			ModelVersion:      r.ModelVersion,
		})
	}
	return out, nil
}

// Ping checks reachability for the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("data service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
