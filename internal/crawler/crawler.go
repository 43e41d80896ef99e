// Package crawler drives one store's paginated fetch/extract/reconcile
// pass.
package crawler

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"storewatcher/config"
	"storewatcher/internal/extractor"
	"storewatcher/internal/fetcher"
	"storewatcher/internal/models"
	"storewatcher/internal/store"
	"storewatcher/logger"
	pkgerrors "storewatcher/pkg/errors"
)

const (
	defaultRequestDelay = 5 * time.Second
	jitterMax           = 2 * time.Second
)

// Result is the outcome of one store pass.
type Result struct {
	New     []models.Product
	Updated []models.Product
	// SeenURLs holds every product URL observed this pass.
	SeenURLs map[string]bool
	// Complete is true when pagination terminated normally (next link
	// absent, unresolvable or already visited) rather than on a fetch
	// failure. Archival on disappearance is only safe after a complete
	// pass.
	Complete bool
}

// Crawler runs store passes against a shared fetcher and store.
type Crawler struct {
	fetcher *fetcher.Fetcher
	db      *store.DB
}

// New creates a crawler.
func New(f *fetcher.Fetcher, db *store.DB) *Crawler {
	return &Crawler{fetcher: f, db: db}
}

// Run crawls every page of one store and reconciles the collected items.
// A failure mid-pagination still reconciles what was collected before the
// failure point; cancellation propagates without reconciling.
func (c *Crawler) Run(ctx context.Context, cfg config.StoreConfig) (*Result, error) {
	log := logger.ForStore(cfg.Name)
	rules := cfg.Options

	result := &Result{SeenURLs: make(map[string]bool)}
	var items []models.Candidate

	currentURL := rules.BaseURL
	visited := make(map[string]bool)
	pages := 0

	for {
		if currentURL == "" {
			result.Complete = true
			break
		}
		if visited[currentURL] {
			// Cycle guard: a normal termination condition, not an error.
			log.Debug().Str("url", currentURL).Msg("URL already visited, stopping pagination")
			result.Complete = true
			break
		}
		visited[currentURL] = true

		text, err := c.fetcher.Fetch(ctx, cfg.Name, currentURL, rules.Encoding)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("url", currentURL).Msg("Page fetch failed, reconciling collected items")
			break
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err != nil {
			log.Warn().Err(pkgerrors.NewExtraction(cfg.Name, "parse HTML", err)).Str("url", currentURL).Msg("Page parse failed")
			break
		}

		pageItems := extractor.Items(doc, rules)
		for _, item := range pageItems {
			result.SeenURLs[item.ProductURL] = true
		}
		items = append(items, pageItems...)
		pages++

		nextURL := extractor.NextPageURL(doc, rules)
		if nextURL == "" {
			log.Debug().Int("pages", pages).Msg("Pagination complete")
			result.Complete = true
			break
		}
		currentURL = nextURL

		if err := c.pause(ctx, rules.RequestDelay.Duration); err != nil {
			return nil, err
		}
	}

	if len(items) == 0 {
		log.Info().Int("pages", pages).Msg("No items found")
		return result, nil
	}

	newProducts, updatedProducts, err := c.db.SyncStoreProducts(ctx, cfg.Name, items)
	if err != nil {
		return nil, err
	}
	result.New = newProducts
	result.Updated = updatedProducts

	log.Info().
		Int("pages", pages).
		Int("items", len(items)).
		Int("new", len(newProducts)).
		Int("updated", len(updatedProducts)).
		Bool("complete", result.Complete).
		Msg("Store pass finished")

	return result, nil
}

// pause waits the configured inter-request delay plus random jitter, or
// until cancellation.
func (c *Crawler) pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		delay = defaultRequestDelay
	}
	jitter := jitterMax
	if delay < jitter {
		jitter = delay
	}
	delay += time.Duration(rand.Int64N(int64(jitter)))

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
