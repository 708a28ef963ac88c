package harvester

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

	"github.com/devicevault/server/internal/models"
)

// Transport delivers one batch of a single kind to the server
type Transport interface {
	SendBatch(ctx context.Context, deviceID string, kind models.DataType, items []json.RawMessage, sentAt time.Time) (*models.SyncResult, error)
}

// HTTPError is a non-retryable or exhausted server response
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sync failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("sync failed with status %d: %s", e.StatusCode, e.Message)
}

// HTTPTransport posts batches to POST /devices/{deviceId}/sync
type HTTPTransport struct {
	baseURL     string
	token       string
	tokenHeader string
	httpClient  *http.Client
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewHTTPTransport creates a transport. token may be empty when the server
// does not enforce device registration.
func NewHTTPTransport(baseURL, token string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		tokenHeader: "X-Device-Token",
		httpClient:  httpClient,
		maxRetries:  3,
		baseDelay:   200 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// SetRetryPolicy overrides the retry bounds
func (t *HTTPTransport) SetRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) {
	t.maxRetries = maxRetries
	t.baseDelay = baseDelay
	t.maxDelay = maxDelay
}

// SendBatch retries transport errors, 429 and 5xx with exponential backoff.
// Any other non-2xx response fails immediately.
func (t *HTTPTransport) SendBatch(ctx context.Context, deviceID string, kind models.DataType, items []json.RawMessage, sentAt time.Time) (*models.SyncResult, error) {
	body, err := json.Marshal(map[string]any{
		"dataType":  string(kind),
		"data":      items,
		"timestamp": sentAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/devices/%s/sync", t.baseURL, url.PathEscape(deviceID))

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if t.token != "" {
			req.Header.Set(t.tokenHeader, t.token)
		}

		resp, err := t.httpClient.Do(req)
		if err != nil {
			if attempt < t.maxRetries {
				if waitErr := waitWithContext(ctx, t.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return decodeSyncResult(payload)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < t.maxRetries {
			if waitErr := waitWithContext(ctx, t.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var env models.Response
		_ = json.Unmarshal(payload, &env)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: env.Error}
	}
}

func decodeSyncResult(payload []byte) (*models.SyncResult, error) {
	var env struct {
		Success bool              `json:"success"`
		Data    models.SyncResult `json:"data"`
		Error   string            `json:"error"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode sync response: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("sync rejected: %s", env.Error)
	}
	return &env.Data, nil
}

func (t *HTTPTransport) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := t.maxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := t.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
