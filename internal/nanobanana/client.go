// Package nanobanana starts image generation tasks at the NanoBanana API.
//
// Generation is asynchronous: CreateTask returns a provider task ID at once
// and the provider later POSTs the result to the callback URL sent with the
// request. Without a public callback URL (local development) the provider
// has nowhere to deliver, so results never reach the relay.
package nanobanana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the production API origin.
	DefaultBaseURL = "https://api.nanobananaapi.ai"

	// CallbackPath is where this service receives provider notifications.
	CallbackPath = "/api/nanobanana-callback"

	generatePath   = "/api/v1/nanobanana/generate"
	defaultTimeout = 30 * time.Second
)

// Generation types, spelled as the provider API expects.
const (
	TypeTextToImage  = "TEXTTOIAMGE"
	TypeImageToImage = "IMAGETOIAMGE"
)

// ErrNoTaskID is returned when the provider accepts a request but assigns
// no task ID.
var ErrNoTaskID = errors.New("provider returned no task ID")

// Client creates generation tasks.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	callbackURL string
}

// NewClient creates a client. callbackURL may be empty, in which case no
// callback is requested.
func NewClient(apiKey, baseURL, callbackURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		callbackURL: callbackURL,
	}
}

// CallbackURL builds the callback URL for a public base URL, or "" when the
// deployment is not reachable from the provider.
func CallbackURL(publicBaseURL string) string {
	if publicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(publicBaseURL, "/") + CallbackPath
}

// GenerateRequest describes one image. ImageURLs switches the task to
// image-to-image.
type GenerateRequest struct {
	Prompt    string
	ImageURLs []string
}

type generateBody struct {
	Prompt      string   `json:"prompt"`
	Type        string   `json:"type"`
	NumImages   int      `json:"numImages"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
	CallBackURL string   `json:"callBackUrl,omitempty"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// APIError is a non-success answer from the provider.
type APIError struct {
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nanobanana API error: %s (code: %d, http: %d)", e.Msg, e.Code, e.HTTPStatus)
}

// CreateTask submits req and returns the provider task ID.
func (c *Client) CreateTask(ctx context.Context, req GenerateRequest) (string, error) {
	body := generateBody{
		Prompt:      req.Prompt,
		Type:        TypeTextToImage,
		NumImages:   1,
		ImageURLs:   req.ImageURLs,
		CallBackURL: c.callbackURL,
	}
	if len(req.ImageURLs) > 0 {
		body.Type = TypeImageToImage
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	startTime := time.Now()
	log.Debug().
		Str("type", body.Type).
		Bool("callback", c.callbackURL != "").
		Msg("NanoBanana API request")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Dur("duration", duration).Err(err).Msg("NanoBanana API response")
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()
	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("NanoBanana API response")

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("parse response: %w (status %d)", err, httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK || resp.Code != http.StatusOK {
		return "", &APIError{HTTPStatus: httpResp.StatusCode, Code: resp.Code, Msg: resp.Msg}
	}
	if resp.Data.TaskID == "" {
		return "", ErrNoTaskID
	}

	log.Info().Str("taskId", resp.Data.TaskID).Str("type", body.Type).Msg("Generation task created")
	return resp.Data.TaskID, nil
}
