// Package callback receives asynchronous task notifications from the image
// provider and records them in the task store.
//
// Notification (POST):
//
//	{"code": 200, "msg": "success", "data": {"taskId": "...", "info": {"resultImageUrl": "..."}}}
//
// The response code only acknowledges transport: a failure notification is
// still answered with 200. Only a body that is not a JSON object or lacks
// data.taskId is rejected. A code that is not an integer is stored as 0 and
// classified like any other unrecognized code; a msg that is not a string is
// dropped. Redelivery of the same notification rewrites the same record.
//
// Signatures: when a secret is configured the body must carry
// X-Callback-Signature: sha256=<hex HMAC-SHA256 of the body>. Without a
// secret the endpoint is unauthenticated, as the provider does not sign.
//
// Inspection (GET, deprecated): returns the stored record without consuming
// it. Clients should use /api/check-task instead.
package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/blessing-relay/internal/httpx"
	"github.com/fpang/blessing-relay/internal/metrics"
	"github.com/fpang/blessing-relay/internal/relay"
	"github.com/fpang/blessing-relay/internal/taskid"
	"github.com/fpang/blessing-relay/internal/taskstore"
)

// maxBodySize caps notification bodies at 1 MB. Provider notifications
// carry URLs, never image bytes.
const maxBodySize = 1 << 20

// SignatureHeader carries the optional HMAC signature.
const SignatureHeader = "X-Callback-Signature"

// Handler serves the callback endpoint.
type Handler struct {
	store   taskstore.Store
	secret  string
	metrics *metrics.Sink
}

// NewHandler creates a callback handler. An empty secret disables
// signature verification.
func NewHandler(store taskstore.Store, secret string, sink *metrics.Sink) *Handler {
	if sink == nil {
		sink = metrics.NewSink(metrics.Namespace, nil)
	}
	return &Handler{store: store, secret: secret, metrics: sink}
}

// notification is the provider's callback body. Fields stay raw so an
// unexpected type in one of them never rejects the whole notification.
type notification struct {
	Code json.RawMessage `json:"code"`
	Msg  json.RawMessage `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// codeUnrecognized stands in for a code that is absent or not an integer.
// It matches no known provider code.
const codeUnrecognized = 0

type ackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ServeHTTP dispatches to notification ingest (POST) or inspection (GET).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleNotification(w, r)
	case http.MethodGet:
		h.handleInspect(w, r)
	default:
		httpx.MethodNotAllowed(w, "GET, POST")
	}
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		log.Error().Err(err).Msg("Callback: failed to read body")
		httpx.RespondJSON(w, http.StatusBadRequest, ackResponse{Status: "error", Message: "failed to read body"})
		return
	}
	if len(body) > maxBodySize {
		log.Warn().Int("limit", maxBodySize).Msg("Callback: body too large")
		httpx.RespondJSON(w, http.StatusRequestEntityTooLarge, ackResponse{Status: "error", Message: "body too large"})
		return
	}

	if h.secret != "" && !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		log.Warn().Msg("Callback: missing or invalid signature")
		httpx.RespondJSON(w, http.StatusForbidden, ackResponse{Status: "error", Message: "invalid signature"})
		return
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		log.Warn().Err(err).Int("bodySize", len(body)).Msg("Callback: malformed JSON")
		httpx.RespondJSON(w, http.StatusBadRequest, ackResponse{Status: "error", Message: "Invalid JSON body"})
		return
	}

	code, msg := parseCode(n.Code), parseMsg(n.Msg)
	id, err := taskid.Validate(extractTaskID(n.Data))
	if err != nil {
		log.Warn().Err(err).Int("code", code).Msg("Callback: rejected notification")
		httpx.RespondJSON(w, http.StatusBadRequest, ackResponse{Status: "error", Message: "Missing taskId"})
		return
	}
	if code == codeUnrecognized && len(n.Code) > 0 {
		log.Warn().Str("taskId", id).RawJSON("rawCode", n.Code).Msg("Callback: code is not an integer")
	}

	rec := &taskstore.Record{Code: code, Message: msg, Payload: n.Data}
	if err := h.store.Put(r.Context(), id, rec); err != nil {
		log.Error().Err(err).Str("taskId", id).Msg("Callback: failed to store result")
		httpx.RespondJSON(w, http.StatusInternalServerError, ackResponse{Status: "error"})
		return
	}

	class := codeClass(rec)
	event := log.Info()
	if class != relay.Success.String() {
		event = log.Warn()
	}
	event.
		Str("taskId", id).
		Int("code", code).
		Str("providerMsg", msg).
		Str("class", class).
		Int("bodySize", len(body)).
		Msg("Callback received")
	h.metrics.New().
		Dimension("Class", class).
		Count("CallbackReceived").
		Property("taskId", id).
		Flush()

	httpx.RespondJSON(w, http.StatusOK, ackResponse{Status: "received"})
}

// handleInspect is the deprecated, non-destructive read.
func (h *Handler) handleInspect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Deprecation", "true")
	w.Header().Set("Link", `</api/check-task>; rel="successor-version"`)

	id, err := taskid.FromQuery(r)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "Missing taskId")
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "task store unavailable", err.Error())
		return
	}
	if rec == nil {
		httpx.RespondJSON(w, http.StatusNotFound, map[string]string{"status": "pending"})
		return
	}
	httpx.RespondJSON(w, http.StatusOK, rec)
}

// extractTaskID reads data.taskId, accepting a string or a number. A
// missing, null or non-object data envelope yields "".
func extractTaskID(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var d struct {
		TaskID json.RawMessage `json:"taskId"`
	}
	if err := json.Unmarshal(data, &d); err != nil || len(d.TaskID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(d.TaskID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(d.TaskID, &n); err == nil {
		return n.String()
	}
	return ""
}

// parseCode returns the integer value of raw, or codeUnrecognized when raw
// is absent or not an integral JSON number.
func parseCode(raw json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return codeUnrecognized
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return codeUnrecognized
	}
	return int(f)
}

// parseMsg returns raw when it is a JSON string and "" otherwise.
func parseMsg(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// codeClass names the notification's outcome for logs and metrics.
func codeClass(rec *taskstore.Record) string {
	out := relay.Classify(rec)
	if out.Reason != "" {
		return string(out.Reason)
	}
	return out.Kind.String()
}

// verifySignature checks "sha256=<hex>" against the HMAC-SHA256 of body
// in constant time.
func (h *Handler) verifySignature(body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return false
	}
	received, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	return hmac.Equal(received, mac.Sum(nil))
}
