package driftgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a driftgate daemon. Safe for concurrent use.
type Client struct {
	baseURL string
	hc      *http.Client
	headers map[string]string
}

// New creates a Client for the daemon at baseURL.
func New(baseURL string, opts ...Option) *Client {
	cfg := clientConfig{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      hc,
		headers: cfg.headers,
	}
}

// Submit sends one observation for evaluation and returns its report.
// Validation rejections surface as *APIError with status 400; use
// IsRejected to distinguish them from transport failures.
func (c *Client) Submit(ctx context.Context, subjectID string, payload Payload, opts ...SubmitOption) (Report, error) {
	cfg := submitConfig{timestamp: time.Now().UnixMilli()}
	for _, opt := range opts {
		opt(&cfg)
	}

	body := map[string]any{
		"subject_id": subjectID,
		"timestamp":  cfg.timestamp,
		"payload":    payload,
	}

	var report Report
	if err := c.do(ctx, http.MethodPost, "/v1/observations", body, &report); err != nil {
		return Report{}, err
	}
	return report, nil
}

// Drift returns the subject's current sliding window state. Unknown
// subjects get an empty window, not an error.
func (c *Client) Drift(ctx context.Context, subjectID string) (DriftState, error) {
	var state DriftState
	err := c.do(ctx, http.MethodGet, "/v1/subjects/"+url.PathEscape(subjectID)+"/drift", nil, &state)
	return state, err
}

// DriftHistory returns persisted drift snapshots for the subject in
// [from, to] epoch milliseconds. Zero bounds are open.
func (c *Client) DriftHistory(ctx context.Context, subjectID string, from, to int64) ([]DriftState, error) {
	path := "/v1/subjects/" + url.PathEscape(subjectID) + "/drift/history"
	q := url.Values{}
	if from != 0 {
		q.Set("from", strconv.FormatInt(from, 10))
	}
	if to != 0 {
		q.Set("to", strconv.FormatInt(to, 10))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Snapshots []DriftState `json:"snapshots"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// Reports returns persisted evaluation reports for the subject with
// sequence greater than afterSeq, oldest first.
func (c *Client) Reports(ctx context.Context, subjectID string, afterSeq uint64, limit int) ([]Report, error) {
	path := fmt.Sprintf("/v1/subjects/%s/reports?after_seq=%d&limit=%d",
		url.PathEscape(subjectID), afterSeq, limit)

	var resp struct {
		Reports []Report `json:"reports"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

// Layers lists the registered rule layers and the active policy hash.
func (c *Client) Layers(ctx context.Context) (string, []LayerDef, error) {
	var resp struct {
		PolicyHash string     `json:"policy_hash"`
		Layers     []LayerDef `json:"layers"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/admin/layers", nil, &resp); err != nil {
		return "", nil, err
	}
	return resp.PolicyHash, resp.Layers, nil
}

// RegisterLayer adds a rule layer and returns the new policy hash.
// Duplicate names surface as *APIError with status 409.
func (c *Client) RegisterLayer(ctx context.Context, def LayerDef) (string, error) {
	var resp struct {
		PolicyHash string `json:"policy_hash"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/layers", def, &resp); err != nil {
		return "", err
	}
	return resp.PolicyHash, nil
}

// DeregisterLayer removes a rule layer by name and returns the new
// policy hash. Unknown names surface as *APIError with status 404.
func (c *Client) DeregisterLayer(ctx context.Context, name string) (string, error) {
	var resp struct {
		PolicyHash string `json:"policy_hash"`
	}
	if err := c.do(ctx, http.MethodDelete, "/v1/admin/layers/"+url.PathEscape(name), nil, &resp); err != nil {
		return "", err
	}
	return resp.PolicyHash, nil
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &h)
	return h, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range c.headers {
		req.Header.Set(name, value)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
