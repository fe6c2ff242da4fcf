package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/blessing-relay/internal/asset"
	"github.com/fpang/blessing-relay/internal/taskstore"
)

// Result is what a single poll produces. Asset is set only when
// Outcome.Kind is Success.
type Result struct {
	Outcome Outcome
	Asset   *asset.Encoded
}

// Service runs the poll transaction: read, classify, fetch, delete.
//
// Deletion policy:
//   - provider failure: deleted before the message is returned
//   - success without a locator: deleted (nothing to retry)
//   - success whose download fails: kept, so a later poll within the TTL
//     can retry the download
//   - success delivered: deleted before the asset is returned
//
// A record is only reported as terminal once its delete has succeeded, so a
// delete error surfaces as a store error and the record is offered again.
type Service struct {
	store   taskstore.Store
	fetcher asset.Fetcher
}

// NewService creates a Service.
func NewService(store taskstore.Store, fetcher asset.Fetcher) *Service {
	return &Service{store: store, fetcher: fetcher}
}

// Poll resolves taskID to one Result. The error is non-nil only when the
// store is unreachable; every business outcome is carried in the Result.
func (s *Service) Poll(ctx context.Context, taskID string) (*Result, error) {
	rec, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", taskID, err)
	}

	out := Classify(rec)
	logger := log.With().Str("taskId", taskID).Str("outcome", out.Kind.String()).Logger()

	switch out.Kind {
	case Processing:
		logger.Debug().Msg("Task still processing")
		return &Result{Outcome: out}, nil

	case Failure:
		if err := s.store.Delete(ctx, taskID); err != nil {
			return nil, fmt.Errorf("delete task %s: %w", taskID, err)
		}
		logger.Info().
			Int("code", rec.Code).
			Str("reason", string(out.Reason)).
			Str("providerMsg", rec.Message).
			Msg("Task failed, record consumed")
		return &Result{Outcome: out}, nil
	}

	enc, err := s.fetcher.Fetch(ctx, out.AssetURL)
	if err != nil {
		logger.Warn().Err(err).Str("assetUrl", out.AssetURL).Msg("Asset download failed, keeping record for retry")
		return &Result{Outcome: Outcome{
			Kind:    Failure,
			Reason:  ReasonAssetFetch,
			Message: MsgAssetFetch,
		}}, nil
	}

	if err := s.store.Delete(ctx, taskID); err != nil {
		return nil, fmt.Errorf("delete task %s: %w", taskID, err)
	}
	logger.Info().
		Int("bytes", enc.Size).
		Str("mediaType", enc.MediaType).
		Msg("Task result delivered, record consumed")
	return &Result{Outcome: out, Asset: enc}, nil
}
