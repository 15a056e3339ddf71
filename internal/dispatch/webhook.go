package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	sendTimeout  = 15 * time.Second
	sendAttempts = 3
	retryBackoff = time.Second
)

var webhookClient = &http.Client{Timeout: 5 * time.Second}

// Send posts an alert event to a webhook endpoint. Server errors and
// transport failures are retried with linear backoff; a 4xx means the
// endpoint will never accept this payload, so it fails immediately.
// The whole delivery, retries included, is bounded by sendTimeout.
func Send(cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < sendAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook delivery timed out: %w", lastErr)
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		status, err := post(ctx, cfg, body)
		switch {
		case err != nil:
			lastErr = err
		case status >= 200 && status < 300:
			return nil
		case status >= 400 && status < 500:
			return fmt.Errorf("webhook rejected event for %s: HTTP %d", event.SubjectID, status)
		default:
			lastErr = fmt.Errorf("webhook server error: HTTP %d", status)
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", sendAttempts, lastErr)
}

func post(ctx context.Context, cfg AlertConfig, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := webhookClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
