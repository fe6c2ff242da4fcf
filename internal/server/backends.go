package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/blessing-relay/internal/asset"
	"github.com/fpang/blessing-relay/internal/config"
	"github.com/fpang/blessing-relay/internal/taskstore"
)

// DynamoFactory returns the DynamoDB client, created only when the dynamodb
// backend is selected.
type DynamoFactory func() taskstore.DynamoAPI

// OpenStore builds the configured task store. The returned close function
// releases its resources (sweeper goroutine, redis pool) and is never nil.
func OpenStore(ctx context.Context, cfg *config.Config, newDynamo DynamoFactory) (taskstore.Store, func() error, error) {
	switch cfg.Store {
	case config.StoreMemory:
		s := taskstore.NewMemoryStore(cfg.TaskTTL)
		s.StartSweeper(ctx, cfg.SweepInterval)
		log.Warn().Msg("Using in-memory task store: callbacks and polls must be served by this single process")
		return s, s.Close, nil

	case config.StoreRedis:
		client, err := taskstore.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return taskstore.NewRedisStore(client, cfg.RedisPrefix, cfg.TaskTTL), client.Close, nil

	case config.StoreDynamo:
		if newDynamo == nil {
			return nil, nil, errors.New("dynamodb store selected but no AWS client is available")
		}
		return taskstore.NewDynamoStore(newDynamo(), cfg.DynamoTable, cfg.TaskTTL), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// NewFetcher builds the asset fetcher. s3Client may be nil, in which case
// s3:// locators are rejected.
func NewFetcher(cfg *config.Config, s3Client asset.S3API) *asset.Router {
	r := &asset.Router{HTTP: asset.NewHTTPFetcher(cfg.AssetTimeout, cfg.AssetMaxBytes)}
	if s3Client != nil {
		r.S3 = asset.NewS3Fetcher(s3Client, cfg.AssetMaxBytes)
	}
	return r
}
