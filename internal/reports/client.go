package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nitesh/meal_match/internal/apperr"
	"github.com/nitesh/meal_match/internal/logger"
	"github.com/nitesh/meal_match/pkg/models"
)

// Client lists informer reports from a remote informer service.
type Client struct {
	url string
	hc  *http.Client
	log *logger.Logger
}

// NewClient creates a new client. If httpClient is nil, a default with timeout is used.
func NewClient(url string, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{url: url, hc: httpClient, log: log.With("client", "InformerSource")}
}

// ListInformers fetches every informer report. A response that does not
// carry a list of reports yields apperr.ErrUpstreamUnavailable.
func (c *Client) ListInformers(ctx context.Context) ([]models.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %w", apperr.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	c.log.Debug("informer listing", "url", c.url, "error", err, "latency_ms", time.Since(start).Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", apperr.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", apperr.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", apperr.ErrUpstreamUnavailable, resp.StatusCode, truncate(body, 256))
	}
	return decodeList(body)
}

// decodeList accepts the shapes informer services are known to send:
//  1. [ {...}, ... ]
//  2. {"data": [ ... ]}       (success envelope)
//  3. {"informers": [ ... ]}
func decodeList(body []byte) ([]models.Candidate, error) {
	body = bytes.TrimSpace(body)
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: payload is not json", apperr.ErrUpstreamUnavailable)
	}

	var raw any
	switch v := parsed.(type) {
	case []any:
		raw = v
	case map[string]any:
		for _, key := range []string{"data", "informers"} {
			if arr, ok := v[key].([]any); ok {
				raw = arr
				break
			}
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload is not a list", apperr.ErrUpstreamUnavailable)
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: re-encode list: %w", apperr.ErrUpstreamUnavailable, err)
	}
	out := []models.Candidate{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed informer entry: %w", apperr.ErrUpstreamUnavailable, err)
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
