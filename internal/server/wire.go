package server

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/blessing-relay/internal/asset"
	"github.com/fpang/blessing-relay/internal/config"
	"github.com/fpang/blessing-relay/internal/lambdaboot"
	"github.com/fpang/blessing-relay/internal/metrics"
	"github.com/fpang/blessing-relay/internal/nanobanana"
	"github.com/fpang/blessing-relay/internal/taskstore"
)

// Build wires the full handler from cfg. awsClients may be nil for a local
// run without AWS credentials; secrets then come from the environment only.
// Build fills secrets loaded from SSM into cfg.
func Build(ctx context.Context, cfg *config.Config, awsClients *lambdaboot.AWSClients, sink *metrics.Sink) (http.Handler, func() error, error) {
	var newDynamo DynamoFactory
	var s3Client asset.S3API
	if awsClients != nil {
		newDynamo = func() taskstore.DynamoAPI { return awsClients.Dynamo() }
		if cfg.S3Assets {
			s3Client = awsClients.S3()
		}
		cfg.NanoBananaAPIKey = lambdaboot.LoadSecret(ctx, awsClients.SSM, cfg.NanoBananaAPIKey, cfg.NanoBananaKeyParam)
		cfg.CallbackSecret = lambdaboot.LoadSecret(ctx, awsClients.SSM, cfg.CallbackSecret, cfg.CallbackSecretParam)
	}

	store, closeStore, err := OpenStore(ctx, cfg, newDynamo)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store == config.StoreMemory && lambdaboot.InLambda() {
		log.Warn().Msg("BLESSING_STORE=memory in Lambda: callbacks and polls served by different instances will not see each other")
	}

	var creator nanobanana.TaskCreator
	if cfg.NanoBananaAPIKey != "" {
		creator = nanobanana.NewClient(cfg.NanoBananaAPIKey, cfg.NanoBananaBaseURL, nanobanana.CallbackURL(cfg.PublicBaseURL))
	} else {
		log.Warn().Msg("NanoBanana API key not configured, /api/generate-image disabled")
	}
	if !cfg.Networked() {
		log.Warn().Msg("BLESSING_PUBLIC_BASE_URL not set, provider callbacks cannot reach this deployment")
	}
	if cfg.CallbackSecret == "" {
		log.Warn().Msg("Callback secret not set, callback signatures are not verified")
	}

	h := NewHandler(Options{
		Store:              store,
		Fetcher:            NewFetcher(cfg, s3Client),
		Creator:            creator,
		Metrics:            sink,
		StoreKind:          cfg.Store,
		CallbackSecret:     cfg.CallbackSecret,
		OriginVerifySecret: cfg.OriginVerifySecret,
		CORSOrigins:        cfg.CORSOrigins,
	})
	return h, closeStore, nil
}
