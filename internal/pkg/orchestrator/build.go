package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"webextract/internal/pkg/cache"
	"webextract/internal/pkg/config"
	"webextract/internal/pkg/extractor"
	"webextract/internal/pkg/fetcher"
	"webextract/internal/pkg/formatter"
	"webextract/internal/pkg/gate"
	"webextract/internal/pkg/history"
	"webextract/internal/pkg/metrics"
	"webextract/internal/pkg/retry"
	"webextract/internal/pkg/search"
	"webextract/internal/pkg/types"
)

// Build assembles a Service from cfg. The returned close function drains
// pending history events and releases the shared cache connection.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, m *metrics.Metrics) (*Service, func(context.Context) error, error) {
	g := gate.New(cfg.MaxConcurrency, m)
	policy := retry.Policy{
		MaxAttempts: cfg.FetchAttempts,
		BaseDelay:   cfg.BackoffBase,
		MaxDelay:    cfg.BackoffMax,
		MaxElapsed:  cfg.RetryBudget,
	}

	f := fetcher.New(g, fetcher.Options{
		Timeout:       cfg.FetchTimeout,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Retry:         policy,
	}, logger, m)
	searcher := search.New(g, search.Options{
		BaseURL:        cfg.SearxngURL,
		Engines:        cfg.SearxngEngines,
		RewriteQueries: cfg.RewriteQueries,
	}, logger, m)

	var tokens formatter.TokenCounter = formatter.ApproxCounter{}
	if tc, err := formatter.NewTiktokenCounter(cfg.TokenEncoding); err != nil {
		logger.Warn().Err(err).Str("encoding", cfg.TokenEncoding).Msg("tokenizer unavailable, using approximate token counts")
	} else {
		tokens = tc
	}

	var (
		rdb          *redis.Client
		scrapeRemote cache.Backend[*types.ExtractionResult]
		searchRemote cache.Backend[*types.SearchResponse]
	)
	if cfg.RedisURL != "" {
		client, err := cache.DialRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		rdb = client
		scrapeRemote = cache.NewRedisBackend[*types.ExtractionResult](rdb, cfg.RedisKeyPrefix+"scrape:")
		searchRemote = cache.NewRedisBackend[*types.SearchResponse](rdb, cfg.RedisKeyPrefix+"search:")
		logger.Info().Msg("shared redis cache tier enabled")
	}

	notifier, err := history.FromConfig(ctx, cfg.History, logger, m)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, nil, fmt.Errorf("history: %w", err)
	}

	svc := New(Deps{
		Config:    cfg,
		Fetcher:   f,
		Extractor: extractor.New(logger),
		Formatter: formatter.New(tokens),
		Searcher:  searcher,
		ScrapeCache: cache.NewLayered("scrape",
			cache.New[*types.ExtractionResult](cfg.ScrapeCacheTTL, cfg.ScrapeCacheCapacity), scrapeRemote, logger, m),
		SearchCache: cache.NewLayered("search",
			cache.New[*types.SearchResponse](cfg.SearchCacheTTL, cfg.SearchCacheCapacity), searchRemote, logger, m),
		History: notifier,
		Logger:  logger,
		Metrics: m,
	})

	closeFn := func(ctx context.Context) error {
		var errs []error
		if err := notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain history: %w", err))
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
		return errors.Join(errs...)
	}
	return svc, closeFn, nil
}
