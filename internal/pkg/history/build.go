package history

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"webextract/internal/pkg/config"
	bloomfilter "webextract/internal/pkg/filter"
	"webextract/internal/pkg/metrics"
)

const (
	seenCapacity  = 1_000_000
	seenFPRate    = 0.001
	seenSaveEvery = 50
)

// FromConfig assembles the notifier described by cfg. A disabled history
// yields a nil notifier, which ignores every event.
func FromConfig(ctx context.Context, cfg config.HistoryConfig, logger zerolog.Logger, m *metrics.Metrics) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	sinks := MultiSink{NewLogSink(logger)}
	if cfg.Endpoint != "" {
		sinks = append(sinks, NewHTTPSink(cfg.Endpoint, &http.Client{Timeout: cfg.Timeout}))
	}
	if cfg.S3Bucket != "" {
		s3Sink, err := NewS3Sink(ctx, S3Options{
			Bucket:   cfg.S3Bucket,
			Endpoint: cfg.S3Endpoint,
			Region:   cfg.S3Region,
			User:     cfg.S3User,
			Password: cfg.S3Password,
		})
		if err != nil {
			return nil, fmt.Errorf("history s3 sink: %w", err)
		}
		sinks = append(sinks, s3Sink)
	}

	opts := Options{Timeout: cfg.Timeout}
	if cfg.SeenPath != "" {
		seen, err := bloomfilter.NewSeenSet(cfg.SeenPath, seenSaveEvery, seenCapacity, seenFPRate, logger)
		if err != nil {
			return nil, fmt.Errorf("history seen set: %w", err)
		}
		opts.Seen = seen
	}

	logger.Info().Str("sinks", sinks.Name()).Msg("history enabled")
	return NewNotifier(sinks, opts, logger, m), nil
}
