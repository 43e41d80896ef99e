// Package scheduler decides which stores run when, bounds concurrent crawl
// work and shuts down cooperatively without losing in-flight results.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"storewatcher/config"
	"storewatcher/internal/crawler"
	"storewatcher/internal/models"
	"storewatcher/logger"
	"storewatcher/services/notifier"
)

// State is the scheduler lifecycle state.
type State int

const (
	// StateIdle means Run has not been called yet
	StateIdle State = iota
	// StateRunning means the tick loop is live
	StateRunning
	// StateShuttingDown means cancellation is in progress
	StateShuttingDown
	// StateStopped means all tasks have drained
	StateStopped
)

// Runner runs one store pass.
type Runner interface {
	Run(ctx context.Context, cfg config.StoreConfig) (*crawler.Result, error)
}

// Store is the slice of the reconciliation store the scheduler drives.
type Store interface {
	UnsentProducts(ctx context.Context, storeName string) ([]models.Product, error)
	MarkProductSent(ctx context.Context, productID int64) error
	ProductsForStore(ctx context.Context, storeName string) ([]models.Product, error)
	MarkProductsArchived(ctx context.Context, storeName string, urls []string) error
}

// Scheduler owns the tick loop, the concurrency limiter and the registry of
// in-flight store tasks. No ambient state: shutdown is a method, not a
// global.
type Scheduler struct {
	stores   []config.StoreConfig
	runner   Runner
	db       Store
	notifier notifier.Notifier
	interval time.Duration
	sem      *semaphore.Weighted
	log      *logger.Logger

	mu           sync.Mutex
	state        State
	cancel       context.CancelFunc
	tasks        sync.WaitGroup
	shutdownOnce sync.Once
}

// New creates a scheduler. maxConcurrent bounds simultaneous store crawls
// process-wide; the limiter is held for a store's entire multi-page pass.
func New(stores []config.StoreConfig, runner Runner, db Store, n notifier.Notifier, interval time.Duration, maxConcurrent int) *Scheduler {
	return &Scheduler{
		stores:   stores,
		runner:   runner,
		db:       db,
		notifier: n,
		interval: interval,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		log:      logger.ForComponent("scheduler"),
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run blocks, evaluating every store's schedule each tick and dispatching
// matching stores, until the context is cancelled or Shutdown is called.
func (s *Scheduler) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		cancel()
		return
	}
	s.state = StateRunning
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Info().
		Int("stores", len(s.stores)).
		Dur("interval", s.interval).
		Msg("Scheduler running")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// A store due right now must not wait out the first interval.
	s.tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick dispatches every store whose schedule matches now. Dispatch happens
// under the state mutex: Shutdown flips the state under the same mutex
// before waiting on the task group, so no task can be added after the wait
// has begun.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateShuttingDown || s.state == StateStopped || ctx.Err() != nil {
		return
	}
	for i := range s.stores {
		cfg := s.stores[i]
		if !cfg.Schedule.Matches(now) {
			continue
		}
		s.log.Debug().Str("store", cfg.Name).Msg("Schedule matched, dispatching")
		s.tasks.Add(1)
		go func() {
			defer s.tasks.Done()
			s.runStore(ctx, cfg)
		}()
	}
}

// RunAll runs every configured store once, subject to the same concurrency
// limiter. Used for manual full passes.
func (s *Scheduler) RunAll(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range s.stores {
		cfg := s.stores[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runStore(ctx, cfg)
		}()
	}
	wg.Wait()
}

// runStore is one dispatched store task: drain the unsent backlog, crawl,
// hand the delta to the notifier, archive disappearances. A failure here
// never affects sibling stores.
func (s *Scheduler) runStore(ctx context.Context, cfg config.StoreConfig) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	log := logger.ForStore(cfg.Name)

	s.drainUnsent(ctx, cfg)

	result, err := s.runner.Run(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown cancellation is not an error.
			return
		}
		log.Error().Err(err).Msg("Store pass failed")
		return
	}

	s.deliver(ctx, cfg, result.New, notifier.KindNew)
	s.deliver(ctx, cfg, result.Updated, notifier.KindUpdated)

	if result.Complete {
		s.archiveMissing(ctx, cfg, result.SeenURLs)
	}
}

// drainUnsent redelivers the store's backlog before a fresh crawl. This is
// what gives at-least-once delivery across restarts and notifier outages.
func (s *Scheduler) drainUnsent(ctx context.Context, cfg config.StoreConfig) {
	unsent, err := s.db.UnsentProducts(ctx, cfg.Name)
	if err != nil {
		logger.ForStore(cfg.Name).Error().Err(err).Msg("Failed to load unsent backlog")
		return
	}
	s.deliver(ctx, cfg, unsent, notifier.KindUnsent)
}

// deliver forwards one non-empty batch and acknowledges each product after
// the call returns without error.
func (s *Scheduler) deliver(ctx context.Context, cfg config.StoreConfig, products []models.Product, kind notifier.BatchKind) {
	if len(products) == 0 {
		return
	}
	log := logger.ForStore(cfg.Name)

	if err := s.notifier.Notify(ctx, cfg.NameFormat, products, kind); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Int("count", len(products)).Msg("Notify failed, batch stays unsent")
		return
	}

	for _, p := range products {
		if err := s.db.MarkProductSent(ctx, p.ID); err != nil {
			log.Error().Err(err).Int64("product", p.ID).Msg("Failed to mark product sent")
		}
	}
	log.Info().Str("kind", string(kind)).Int("count", len(products)).Msg("Batch delivered")
}

// archiveMissing flags products that were visible before but absent from a
// complete pass. Only run after complete passes so a truncated crawl never
// archives the tail it did not reach.
func (s *Scheduler) archiveMissing(ctx context.Context, cfg config.StoreConfig, seen map[string]bool) {
	log := logger.ForStore(cfg.Name)

	products, err := s.db.ProductsForStore(ctx, cfg.Name)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load products for archival check")
		return
	}

	var missing []string
	for _, p := range products {
		if !p.Archived && !seen[p.ProductURL] {
			missing = append(missing, p.ProductURL)
		}
	}
	if len(missing) == 0 {
		return
	}

	if err := s.db.MarkProductsArchived(ctx, cfg.Name, missing); err != nil {
		log.Error().Err(err).Msg("Failed to archive missing products")
		return
	}
	log.Info().Int("count", len(missing)).Msg("Archived products no longer on page")
}

// Shutdown cancels in-flight tasks and waits for them to finish. Safe to
// call more than once; later calls are no-ops.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if s.state == StateRunning {
			s.state = StateShuttingDown
		}
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.tasks.Wait()

		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()

		s.log.Info().Msg("Scheduler stopped")
	})
}

// drain is the Run-loop exit path: wait for in-flight tasks, then stop.
func (s *Scheduler) drain() {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateShuttingDown
	}
	s.mu.Unlock()

	s.tasks.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
}
