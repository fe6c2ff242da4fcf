// Package pollclient is the caller side of the check-task endpoint: it polls
// at a fixed interval until the task reaches a terminal state or the attempt
// budget runs out. The relay itself never blocks, so the timeout lives here.
package pollclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultInterval is the wait before each poll.
	DefaultInterval = 3 * time.Second
	// DefaultMaxAttempts with DefaultInterval gives a 60 second budget.
	DefaultMaxAttempts = 20

	checkTaskPath = "/api/check-task"
)

// ErrGenerationTimeout means no terminal state was seen within the budget.
// It is independent of the store's own TTL.
var ErrGenerationTimeout = errors.New("image generation timed out, please try again")

// TaskError is a terminal failure reported by the relay.
type TaskError struct {
	Status  int
	Message string
	Reason  string
}

func (e *TaskError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Reason)
	}
	return e.Message
}

// Image is one delivered result.
type Image struct {
	Base64    string `json:"base64"`
	MediaType string `json:"mediaType"`
}

type checkResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Success bool    `json:"success"`
	Images  []Image `json:"images"`
	Error   string  `json:"error"`
	Reason  string  `json:"reason"`
}

// Client polls one relay deployment.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	Interval    time.Duration
	MaxAttempts int
}

// New creates a Client with the default cadence.
func New(baseURL string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Wait polls until the task's images are delivered or a terminal error is
// reported. Transport errors and 503s are treated as transient and use up
// an attempt.
func (c *Client) Wait(ctx context.Context, taskID string) ([]Image, error) {
	endpoint := c.baseURL + checkTaskPath + "?" + url.Values{"taskId": {taskID}}.Encode()

	timer := time.NewTimer(c.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		resp, status, err := c.check(ctx, endpoint)
		logger := log.With().Str("taskId", taskID).Int("attempt", attempt).Int("maxAttempts", c.MaxAttempts).Logger()
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn().Err(err).Msg("Poll failed, will retry")
		case status == http.StatusServiceUnavailable:
			logger.Warn().Str("error", resp.Error).Msg("Relay store unavailable, will retry")
		case resp.Success && len(resp.Images) > 0:
			logger.Info().Msg("Image ready")
			return resp.Images, nil
		case resp.Error != "":
			return nil, &TaskError{Status: status, Message: resp.Error, Reason: resp.Reason}
		default:
			logger.Debug().Msg("Still processing")
		}

		timer.Reset(c.Interval)
	}
	return nil, ErrGenerationTimeout
}

func (c *Client) check(ctx context.Context, endpoint string) (*checkResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	var resp checkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("parse response (status %d): %w", httpResp.StatusCode, err)
	}
	return &resp, httpResp.StatusCode, nil
}
