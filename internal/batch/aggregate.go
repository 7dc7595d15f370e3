package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/pdf-batch/backend/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Locator resolves a stored result path to a fetchable URL.
type Locator interface {
	PublicURL(path string) (string, bool)
}

// Fetcher downloads a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Aggregator merges per-item results into one combined artifact.
type Aggregator struct {
	locator Locator
	fetcher Fetcher
	timeout time.Duration
	logger  zerolog.Logger
}

// NewAggregator creates an aggregator. timeout bounds each fetch; zero
// disables the bound.
func NewAggregator(locator Locator, fetcher Fetcher, timeout time.Duration, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		locator: locator,
		fetcher: fetcher,
		timeout: timeout,
		logger:  logger.With().Str("component", "batch.aggregate").Logger(),
	}
}

// TryBuildCombined returns nil unless every item is done with a result
// path. Results are fetched in parallel; an item whose result cannot be
// located, fetched or parsed as non-null JSON is skipped with a warning.
// Entries keep the order of items.
func (a *Aggregator) TryBuildCombined(ctx context.Context, items []models.WorkItem) *models.CombinedResult {
	if len(items) == 0 {
		return nil
	}
	for _, it := range items {
		if it.Status != models.ItemStatusDone || it.ResultPath == "" {
			return nil
		}
	}

	results := make([]json.RawMessage, len(items))
	var g errgroup.Group
	for i, it := range items {
		g.Go(func() error {
			results[i] = a.fetchOne(ctx, it)
			return nil
		})
	}
	_ = g.Wait()

	combined := &models.CombinedResult{BatchID: items[0].BatchID, Entries: make([]models.CombinedEntry, 0, len(items))}
	for i, it := range items {
		if results[i] == nil {
			continue
		}
		combined.Entries = append(combined.Entries, models.CombinedEntry{File: it.FileName, Result: results[i]})
	}
	return combined
}

func (a *Aggregator) fetchOne(ctx context.Context, it models.WorkItem) json.RawMessage {
	log := a.logger.With().Str("item_id", it.ID).Str("file", it.FileName).Logger()

	url, ok := a.locator.PublicURL(it.ResultPath)
	if !ok || url == "" {
		log.Warn().Str("result_path", it.ResultPath).Msg("no URL for result, skipping")
		return nil
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	data, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("fetching result failed, skipping")
		return nil
	}

	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		log.Warn().Str("url", url).Msg("result is not valid JSON, skipping")
		return nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		log.Warn().Str("url", url).Msg("result is null, skipping")
		return nil
	}
	return json.RawMessage(trimmed)
}
