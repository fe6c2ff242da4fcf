// Package server assembles the relay's HTTP surface. Both the Lambda and
// the local server serve the same handler.
//
// Endpoints:
//
//	GET  /api/health               health check (no origin check)
//	POST /api/nanobanana-callback  provider notification (no origin check)
//	GET  /api/nanobanana-callback  deprecated non-destructive inspection
//	GET  /api/check-task           poll for a task result (gzip)
//	POST /api/generate-image       start a generation task
package server

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"

	"github.com/fpang/blessing-relay/internal/asset"
	"github.com/fpang/blessing-relay/internal/callback"
	"github.com/fpang/blessing-relay/internal/httpx"
	"github.com/fpang/blessing-relay/internal/metrics"
	"github.com/fpang/blessing-relay/internal/nanobanana"
	"github.com/fpang/blessing-relay/internal/poll"
	"github.com/fpang/blessing-relay/internal/relay"
	"github.com/fpang/blessing-relay/internal/taskstore"
)

// Route paths.
const (
	PathHealth        = "/api/health"
	PathCallback      = nanobanana.CallbackPath
	PathCheckTask     = "/api/check-task"
	PathGenerateImage = "/api/generate-image"
)

// Options configures NewHandler.
type Options struct {
	Store   taskstore.Store
	Fetcher asset.Fetcher
	// Creator may be nil when no provider API key is configured.
	Creator nanobanana.TaskCreator
	Metrics *metrics.Sink

	StoreKind          string
	CallbackSecret     string
	OriginVerifySecret string
	CORSOrigins        []string
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(opts Options) http.Handler {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSink(metrics.Namespace, nil)
	}

	svc := relay.NewService(opts.Store, opts.Fetcher)

	mux := http.NewServeMux()
	mux.HandleFunc(PathHealth, healthHandler(opts.StoreKind))
	mux.Handle(PathCallback, callback.NewHandler(opts.Store, opts.CallbackSecret, opts.Metrics))
	mux.Handle(PathCheckTask, gzhttp.GzipHandler(poll.NewHandler(svc, opts.Metrics)))
	mux.Handle(PathGenerateImage, nanobanana.NewHandler(opts.Creator))

	var h http.Handler = mux
	h = withOriginVerify(opts.OriginVerifySecret, h)
	h = withMetrics(opts.Metrics, h)
	h = withCORS(opts.CORSOrigins, h)
	h = withLogging(h)
	h = withRequestID(h)
	return h
}

func healthHandler(storeKind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "blessing-relay",
			"store":   storeKind,
		})
	}
}
