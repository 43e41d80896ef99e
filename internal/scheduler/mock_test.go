package scheduler

import (
	"context"
	"fmt"
	"sync"

	"storewatcher/config"
	"storewatcher/internal/crawler"
	"storewatcher/internal/models"
	"storewatcher/services/notifier"
)

// calls records the cross-mock event order for assertions.
type calls struct {
	mu     sync.Mutex
	events []string
}

func (c *calls) add(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

// mockRunner returns canned results per store name.
type mockRunner struct {
	calls   *calls
	results map[string]*crawler.Result
	errs    map[string]error
}

func (m *mockRunner) Run(ctx context.Context, cfg config.StoreConfig) (*crawler.Result, error) {
	m.calls.add("run:" + cfg.Name)
	if err, ok := m.errs[cfg.Name]; ok {
		return nil, err
	}
	if r, ok := m.results[cfg.Name]; ok {
		return r, nil
	}
	return &crawler.Result{SeenURLs: map[string]bool{}, Complete: true}, nil
}

// mockStore is an in-memory stand-in for the reconciliation store.
type mockStore struct {
	calls    *calls
	mu       sync.Mutex
	unsent   map[string][]models.Product
	products map[string][]models.Product
	sent     []int64
	archived map[string][]string
}

func newMockStore(c *calls) *mockStore {
	return &mockStore{
		calls:    c,
		unsent:   map[string][]models.Product{},
		products: map[string][]models.Product{},
		archived: map[string][]string{},
	}
}

func (m *mockStore) UnsentProducts(ctx context.Context, storeName string) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsent[storeName], nil
}

func (m *mockStore) MarkProductSent(ctx context.Context, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, productID)
	return nil
}

func (m *mockStore) ProductsForStore(ctx context.Context, storeName string) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[storeName], nil
}

func (m *mockStore) MarkProductsArchived(ctx context.Context, storeName string, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived[storeName] = append(m.archived[storeName], urls...)
	return nil
}

func (m *mockStore) sentIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.sent...)
}

// mockNotifier records deliveries and can fail selected kinds.
type mockNotifier struct {
	calls    *calls
	mu       sync.Mutex
	failKind notifier.BatchKind
	batches  []delivery
}

type delivery struct {
	label string
	kind  notifier.BatchKind
	count int
}

func (m *mockNotifier) Notify(ctx context.Context, storeLabel string, products []models.Product, kind notifier.BatchKind) error {
	m.calls.add(fmt.Sprintf("notify:%s:%s", storeLabel, kind))
	if m.failKind != "" && kind == m.failKind {
		return fmt.Errorf("delivery refused for kind %s", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, delivery{label: storeLabel, kind: kind, count: len(products)})
	return nil
}

func (m *mockNotifier) Close() error { return nil }

func (m *mockNotifier) deliveries() []delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]delivery(nil), m.batches...)
}
