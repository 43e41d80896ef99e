// Package store is the durable reconciliation store. It holds Store and
// Product rows in a single-file sqlite database and classifies every
// observed catalog snapshot against history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"storewatcher/internal/models"
	"storewatcher/logger"
	pkgerrors "storewatcher/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS Store (
	id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	name TEXT NOT NULL UNIQUE,
	initial_fetch TIMESTAMP
);
CREATE TABLE IF NOT EXISTS Product (
	id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	name TEXT NOT NULL,
	product_url TEXT NOT NULL,
	image_url TEXT NOT NULL DEFAULT '',
	price_jpy REAL,
	price_eur REAL,
	archived BOOLEAN NOT NULL DEFAULT 0,
	first_seen TIMESTAMP NOT NULL,
	last_seen TIMESTAMP NOT NULL,
	is_sent BOOLEAN NOT NULL DEFAULT 0,
	store_id INTEGER NOT NULL,
	FOREIGN KEY (store_id) REFERENCES Store (id)
);
CREATE INDEX IF NOT EXISTS idx_product_store_image ON Product (store_id, image_url);
CREATE INDEX IF NOT EXISTS idx_product_store_sent ON Product (store_id, is_sent);
`

// DB wraps the sqlite connection. The per-item upsert section is serialized
// by mu; read-only queries interleave freely.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
	log  *logger.Logger
}

// Open opens (creating if needed) the database at path and initializes the
// schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, ":memory:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer; sqlite serializes anyway, this keeps pool churn down.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, log: logger.ForComponent("store")}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ensureStore resolves or lazily creates the Store row for name and reports
// whether it has ever completed a first crawl.
func (db *DB) ensureStore(ctx context.Context, name string) (id int64, initialFetch *time.Time, err error) {
	if _, err = db.conn.ExecContext(ctx, "INSERT OR IGNORE INTO Store (name) VALUES (?)", name); err != nil {
		return 0, nil, err
	}

	var fetched sql.NullTime
	err = db.conn.QueryRowContext(ctx, "SELECT id, initial_fetch FROM Store WHERE name = ?", name).
		Scan(&id, &fetched)
	if err != nil {
		return 0, nil, err
	}
	if fetched.Valid {
		t := fetched.Time
		return id, &t, nil
	}
	return id, nil, nil
}

// SyncStoreProducts reconciles one snapshot of a store's catalog against
// history. Each candidate is classified new (no product shares its image),
// updated (a sibling row sharing the image but not the URL) or a silent
// refresh (exact image+URL match, updated in place). The first ever pass
// for a store seeds history: initial_fetch is set and both returned lists
// are empty.
func (db *DB) SyncStoreProducts(ctx context.Context, storeName string, items []models.Candidate) (newProducts, updatedProducts []models.Product, err error) {
	storeID, initialFetch, err := db.ensureStore(ctx, storeName)
	if err != nil {
		return nil, nil, pkgerrors.NewPersistence(storeName, "resolve store", err)
	}
	firstCrawl := initialFetch == nil

	for i := range items {
		item := normalize(items[i])
		if item.Name == "" || item.ProductURL == "" {
			db.log.Warn().Str("store", storeName).Str("url", item.ProductURL).Msg("Skipping malformed item")
			continue
		}

		product, kind, upsertErr := db.upsertItem(ctx, storeID, item)
		if upsertErr != nil {
			// One bad item never aborts the batch.
			db.log.Error().Err(upsertErr).Str("store", storeName).Str("url", item.ProductURL).Msg("Failed to upsert item")
			continue
		}

		switch kind {
		case classNew:
			newProducts = append(newProducts, product)
		case classSibling:
			updatedProducts = append(updatedProducts, product)
		}
	}

	if firstCrawl {
		if _, err := db.conn.ExecContext(ctx,
			"UPDATE Store SET initial_fetch = ? WHERE id = ?", time.Now().UTC(), storeID); err != nil {
			return nil, nil, pkgerrors.NewPersistence(storeName, "set initial fetch", err)
		}
		// Seed rows were never reported, so they must not linger in the
		// unsent backlog and flood the next drain.
		if _, err := db.conn.ExecContext(ctx,
			"UPDATE Product SET is_sent = 1 WHERE store_id = ?", storeID); err != nil {
			return nil, nil, pkgerrors.NewPersistence(storeName, "acknowledge seed rows", err)
		}
		db.log.Info().Str("store", storeName).Int("items", len(items)).Msg("First crawl seeded, notifications suppressed")
		return nil, nil, nil
	}

	return newProducts, updatedProducts, nil
}

type classification int

const (
	classRefresh classification = iota
	classNew
	classSibling
)

// upsertItem runs the two-step sibling lookup: first by image within the
// store, then by URL within that set. The read-modify-write sequence is
// serialized against concurrent store crawls.
func (db *DB) upsertItem(ctx context.Context, storeID int64, item models.Candidate) (models.Product, classification, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, product_url FROM Product WHERE store_id = ? AND image_url = ?",
		storeID, item.ImageURL)
	if err != nil {
		return models.Product{}, classRefresh, err
	}

	var matchID int64
	matched := false
	sharedImage := false
	for rows.Next() {
		var id int64
		var url string
		if err := rows.Scan(&id, &url); err != nil {
			rows.Close()
			return models.Product{}, classRefresh, err
		}
		sharedImage = true
		if url == item.ProductURL {
			matchID = id
			matched = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.Product{}, classRefresh, err
	}

	now := time.Now().UTC()
	jpy, eur := priceColumns(item)

	if matched {
		// Exact image+URL match: silent refresh.
		_, err := db.conn.ExecContext(ctx, `
			UPDATE Product SET name = ?, price_jpy = ?, price_eur = ?, archived = ?, last_seen = ?
			WHERE id = ?`,
			item.Name, jpy, eur, item.Archived, now, matchID)
		return models.Product{}, classRefresh, err
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO Product (name, product_url, image_url, price_jpy, price_eur, archived, first_seen, last_seen, store_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Name, item.ProductURL, item.ImageURL, jpy, eur, item.Archived, now, now, storeID)
	if err != nil {
		return models.Product{}, classRefresh, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Product{}, classRefresh, err
	}

	product := models.Product{
		ID:         id,
		Name:       item.Name,
		ProductURL: item.ProductURL,
		ImageURL:   item.ImageURL,
		PriceJPY:   jpy,
		PriceEUR:   eur,
		Archived:   item.Archived,
		FirstSeen:  now,
		LastSeen:   now,
		StoreID:    storeID,
	}

	if sharedImage {
		// A listing variant sharing imagery with an existing row.
		return product, classSibling, nil
	}
	return product, classNew, nil
}

// normalize trims strings and defaults missing optional fields.
func normalize(item models.Candidate) models.Candidate {
	item.Name = strings.TrimSpace(item.Name)
	item.ProductURL = strings.TrimSpace(item.ProductURL)
	item.ImageURL = strings.TrimSpace(item.ImageURL)
	if item.Prices == nil {
		item.Prices = map[string]float64{}
	}
	return item
}

func priceColumns(item models.Candidate) (jpy, eur *float64) {
	if v, ok := item.Prices["JPY"]; ok {
		jpy = &v
	}
	if v, ok := item.Prices["EUR"]; ok {
		eur = &v
	}
	return jpy, eur
}

// ProductsForStore returns every persisted product for a store.
func (db *DB) ProductsForStore(ctx context.Context, storeName string) ([]models.Product, error) {
	return db.queryProducts(ctx, storeName, "")
}

// UnsentProducts returns the store's products never yet marked delivered.
func (db *DB) UnsentProducts(ctx context.Context, storeName string) ([]models.Product, error) {
	return db.queryProducts(ctx, storeName, "AND is_sent = 0")
}

func (db *DB) queryProducts(ctx context.Context, storeName, filter string) ([]models.Product, error) {
	var storeID int64
	err := db.conn.QueryRowContext(ctx, "SELECT id FROM Store WHERE name = ?", storeName).Scan(&storeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.NewPersistence(storeName, "resolve store", err)
	}

	query := `SELECT id, name, product_url, image_url, price_jpy, price_eur, archived, first_seen, last_seen, is_sent, store_id
		FROM Product WHERE store_id = ? ` + filter + ` ORDER BY id`
	rows, err := db.conn.QueryContext(ctx, query, storeID)
	if err != nil {
		return nil, pkgerrors.NewPersistence(storeName, "query products", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		var jpy, eur sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.Name, &p.ProductURL, &p.ImageURL, &jpy, &eur,
			&p.Archived, &p.FirstSeen, &p.LastSeen, &p.IsSent, &p.StoreID); err != nil {
			return nil, pkgerrors.NewPersistence(storeName, "scan product", err)
		}
		if jpy.Valid {
			v := jpy.Float64
			p.PriceJPY = &v
		}
		if eur.Valid {
			v := eur.Float64
			p.PriceEUR = &v
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// MarkProductSent flags a product as delivered to the notifier.
func (db *DB) MarkProductSent(ctx context.Context, productID int64) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE Product SET is_sent = 1 WHERE id = ?", productID)
	return err
}

// MarkProductsArchived flags the given product URLs of a store as archived.
// Used when a page-level disappearance is detected; rows are never deleted
// for going missing.
func (db *DB) MarkProductsArchived(ctx context.Context, storeName string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	var storeID int64
	err := db.conn.QueryRowContext(ctx, "SELECT id FROM Store WHERE name = ?", storeName).Scan(&storeID)
	if err != nil {
		return pkgerrors.NewPersistence(storeName, "resolve store", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	for _, u := range urls {
		if _, err := db.conn.ExecContext(ctx,
			"UPDATE Product SET archived = 1 WHERE store_id = ? AND product_url = ?", storeID, u); err != nil {
			return pkgerrors.NewPersistence(storeName, "archive product", err)
		}
	}
	return nil
}

// DeleteStore removes a store and all of its products.
func (db *DB) DeleteStore(ctx context.Context, storeName string) error {
	var storeID int64
	err := db.conn.QueryRowContext(ctx, "SELECT id FROM Store WHERE name = ?", storeName).Scan(&storeID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return pkgerrors.NewPersistence(storeName, "resolve store", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM Product WHERE store_id = ?", storeID); err != nil {
		return pkgerrors.NewPersistence(storeName, "delete products", err)
	}
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM Store WHERE id = ?", storeID); err != nil {
		return pkgerrors.NewPersistence(storeName, "delete store", err)
	}
	return nil
}

// DeleteProduct removes a single product row.
func (db *DB) DeleteProduct(ctx context.Context, productID int64) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM Product WHERE id = ?", productID)
	return err
}
