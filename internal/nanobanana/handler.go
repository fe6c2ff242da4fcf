package nanobanana

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/blessing-relay/internal/httpx"
)

// maxPromptLength bounds the prompt forwarded to the provider.
const maxPromptLength = 4000

// TaskCreator is satisfied by *Client.
type TaskCreator interface {
	CreateTask(ctx context.Context, req GenerateRequest) (string, error)
}

// Handler serves POST /api/generate-image.
type Handler struct {
	creator TaskCreator
}

// NewHandler creates the handler. A nil creator (no API key configured)
// answers 503.
func NewHandler(creator TaskCreator) *Handler {
	return &Handler{creator: creator}
}

type generateImageRequest struct {
	BlessingText string   `json:"blessingText"`
	ThemeID      string   `json:"themeId,omitempty"`
	ImageURLs    []string `json:"imageUrls,omitempty"`
}

// TaskAccepted is returned once the provider has assigned a task ID.
type TaskAccepted struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if h.creator == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "image generation is not configured")
		return
	}

	var req generateImageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	prompt := strings.TrimSpace(req.BlessingText)
	if prompt == "" {
		httpx.Error(w, http.StatusBadRequest, "blessingText is required")
		return
	}
	if len(prompt) > maxPromptLength {
		httpx.Error(w, http.StatusBadRequest, "blessingText is too long")
		return
	}

	taskID, err := h.creator.CreateTask(r.Context(), GenerateRequest{Prompt: prompt, ImageURLs: req.ImageURLs})
	if err != nil {
		httpx.Error(w, http.StatusBadGateway, "image generation failed", err.Error())
		return
	}

	log.Info().Str("taskId", taskID).Str("themeId", req.ThemeID).Msg("Image generation started")
	httpx.RespondJSON(w, http.StatusOK, TaskAccepted{TaskID: taskID, Status: "processing"})
}
