// Package relay turns a stored provider result into exactly one poll
// outcome and enforces single-use delivery.
package relay

import (
	"encoding/json"
	"strings"

	"github.com/fpang/blessing-relay/internal/taskstore"
)

// SuccessCode is the provider status code for a finished task.
const SuccessCode = 200

// Provider failure codes with a dedicated user-facing message.
const (
	CodeContentPolicy    = 400
	CodeServerError      = 500
	CodeGenerationFailed = 501
)

// Kind is the top-level state of a task as seen by a poller.
type Kind int

const (
	Processing Kind = iota
	Success
	Failure
)

func (k Kind) String() string {
	switch k {
	case Processing:
		return "processing"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Reason sub-classifies a Failure. It is empty for other kinds.
type Reason string

const (
	ReasonContentPolicy    Reason = "content_policy"
	ReasonServerError      Reason = "server_error"
	ReasonGenerationFailed Reason = "generation_failed"
	ReasonOther            Reason = "other"
	// The provider succeeded but the asset could not be materialized.
	ReasonAssetMissing Reason = "asset_missing"
	ReasonAssetFetch   Reason = "asset_fetch"
)

// User-facing messages.
const (
	MsgProcessing       = "image generation in progress"
	MsgContentPolicy    = "content policy violation, please adjust your blessing text"
	MsgServerError      = "server error, please try again later"
	MsgGenerationFailed = "image generation failed, please try again"
	MsgUnknown          = "unknown error"
	MsgAssetMissing     = "image URL is missing from the result"
	MsgAssetFetch       = "image download failed"
)

// Outcome is the result of classifying a record. AssetURL is set only for
// Success.
type Outcome struct {
	Kind     Kind
	Reason   Reason
	Message  string
	AssetURL string
}

// IsAssetError reports whether a failure happened after the provider had
// already succeeded.
func (o Outcome) IsAssetError() bool {
	return o.Reason == ReasonAssetMissing || o.Reason == ReasonAssetFetch
}

// Classify maps a record (nil when absent) to its Outcome. Every status code
// yields exactly one outcome.
func Classify(rec *taskstore.Record) Outcome {
	if rec == nil {
		return Outcome{Kind: Processing, Message: MsgProcessing}
	}

	switch rec.Code {
	case SuccessCode:
		url := ResultURL(rec.Payload)
		if url == "" {
			return Outcome{Kind: Failure, Reason: ReasonAssetMissing, Message: MsgAssetMissing}
		}
		return Outcome{Kind: Success, AssetURL: url}
	case CodeContentPolicy:
		return Outcome{Kind: Failure, Reason: ReasonContentPolicy, Message: MsgContentPolicy}
	case CodeServerError:
		return Outcome{Kind: Failure, Reason: ReasonServerError, Message: MsgServerError}
	case CodeGenerationFailed:
		return Outcome{Kind: Failure, Reason: ReasonGenerationFailed, Message: MsgGenerationFailed}
	default:
		msg := strings.TrimSpace(rec.Message)
		if msg == "" {
			msg = MsgUnknown
		}
		return Outcome{Kind: Failure, Reason: ReasonOther, Message: msg}
	}
}

// resultEnvelope is the part of the provider's success payload we read.
type resultEnvelope struct {
	Info struct {
		ResultImageURL string `json:"resultImageUrl"`
	} `json:"info"`
}

// ResultURL extracts info.resultImageUrl from a provider payload. It returns
// "" when the payload is absent, malformed, or lacks the field.
func ResultURL(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var env resultEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	return strings.TrimSpace(env.Info.ResultImageURL)
}
