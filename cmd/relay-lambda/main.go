// Package main is the Lambda entry point for the task result relay, served
// behind API Gateway (HTTP API, payload v2).
//
// Lambda instances do not share memory, so BLESSING_STORE must be redis or
// dynamodb here; the memory backend only works when every request happens
// to reach the same warm instance.
//
// Secrets are loaded from SSM Parameter Store at cold start when not set in
// the environment:
//   - SSM_NANOBANANA_KEY_PARAM (default /blessing/prod/nanobanana-api-key)
//   - SSM_CALLBACK_SECRET_PARAM (optional)
package main

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/blessing-relay/internal/config"
	"github.com/fpang/blessing-relay/internal/lambdaboot"
	"github.com/fpang/blessing-relay/internal/logging"
	"github.com/fpang/blessing-relay/internal/metrics"
	"github.com/fpang/blessing-relay/internal/server"
)

var handler http.Handler

func init() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	awsClients := lambdaboot.InitAWS(ctx)
	handler, _, err = server.Build(ctx, cfg, &awsClients, metrics.Stdout())
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("Failed to open task store")
	}

	startup := lambdaboot.StartupLog("relay-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		StoreBackend(cfg.Store).
		SSMParam("nanobananaKey", cfg.NanoBananaKeyParam).
		Feature("generateImage", cfg.NanoBananaAPIKey != "").
		Feature("callbackSignature", cfg.CallbackSecret != "").
		Feature("originVerify", cfg.OriginVerifySecret != "").
		Feature("s3Assets", cfg.S3Assets).
		Config("taskTTL", cfg.TaskTTL.String()).
		Config("publicBaseURL", cfg.PublicBaseURL).
		Config("assetMaxBytes", strconv.FormatInt(cfg.AssetMaxBytes, 10))
	switch cfg.Store {
	case config.StoreDynamo:
		startup.DynamoTable("tasks", cfg.DynamoTable)
	case config.StoreRedis:
		startup.Redis("tasks", redisHost(cfg.RedisURL))
	}
	startup.Log()
}

// redisHost strips credentials from a redis URL for logging.
func redisHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "unparseable"
	}
	return u.Host
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
