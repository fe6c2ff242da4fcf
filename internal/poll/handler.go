// Package poll serves the check-task endpoint that browsers call
// repeatedly until a generation task reaches a terminal state.
//
// Responses:
//
//	400 {"error": "..."}                                   taskId missing
//	200 {"status": "processing", "message": "..."}         no result yet
//	200 {"success": true, "images": [{base64, mediaType}]} delivered (once)
//	500 {"error": "...", "reason": "..."}                  classified failure
//	503 {"error": "..."}                                   task store unreachable
package poll

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/blessing-relay/internal/asset"
	"github.com/fpang/blessing-relay/internal/httpx"
	"github.com/fpang/blessing-relay/internal/metrics"
	"github.com/fpang/blessing-relay/internal/relay"
	"github.com/fpang/blessing-relay/internal/taskid"
)

// Handler serves GET /api/check-task.
type Handler struct {
	svc     *relay.Service
	metrics *metrics.Sink
}

// NewHandler creates a poll handler.
func NewHandler(svc *relay.Service, sink *metrics.Sink) *Handler {
	if sink == nil {
		sink = metrics.NewSink(metrics.Namespace, nil)
	}
	return &Handler{svc: svc, metrics: sink}
}

// ProcessingResponse tells the caller to keep polling.
type ProcessingResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SuccessResponse carries the delivered image.
type SuccessResponse struct {
	Success bool             `json:"success"`
	Images  []*asset.Encoded `json:"images"`
}

// ErrorResponse carries a classified failure. Reason lets callers tell
// asset errors from provider failures.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.MethodNotAllowed(w, http.MethodGet)
		return
	}

	id, err := taskid.FromQuery(r)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "Missing taskId")
		return
	}

	start := time.Now()
	res, err := h.svc.Poll(r.Context(), id)
	if err != nil {
		h.emit(id, "store_error", start, 0)
		httpx.Error(w, http.StatusServiceUnavailable, "task store unavailable, please retry", err.Error())
		return
	}

	out := res.Outcome
	switch out.Kind {
	case relay.Processing:
		h.emit(id, out.Kind.String(), start, 0)
		httpx.RespondJSON(w, http.StatusOK, ProcessingResponse{Status: "processing", Message: out.Message})

	case relay.Success:
		h.emit(id, out.Kind.String(), start, res.Asset.Size)
		httpx.RespondJSON(w, http.StatusOK, SuccessResponse{Success: true, Images: []*asset.Encoded{res.Asset}})

	default:
		h.emit(id, string(out.Reason), start, 0)
		log.Info().
			Str("taskId", id).
			Str("reason", string(out.Reason)).
			Bool("assetError", out.IsAssetError()).
			Msg("Poll returned failure")
		httpx.RespondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: out.Message, Reason: string(out.Reason)})
	}
}

func (h *Handler) emit(taskID, outcome string, start time.Time, assetBytes int) {
	rec := h.metrics.New().
		Dimension("Outcome", outcome).
		Count("PollOutcome").
		Metric("PollLatencyMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Property("taskId", taskID)
	if assetBytes > 0 {
		rec.Metric("AssetBytes", float64(assetBytes), metrics.UnitBytes)
	}
	rec.Flush()
}
