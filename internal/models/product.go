package models

import "time"

// Product is a persisted catalog listing. Identity for matching is the
// (store, image_url, product_url) pair, not the surrogate ID.
type Product struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ProductURL string    `json:"product_url"`
	ImageURL   string    `json:"image_url,omitempty"`
	PriceJPY   *float64  `json:"price_jpy,omitempty"`
	PriceEUR   *float64  `json:"price_eur,omitempty"`
	Archived   bool      `json:"archived"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	IsSent     bool      `json:"is_sent"`
	StoreID    int64     `json:"store_id"`
}

// Candidate is an item extracted from one page pass, not yet reconciled
// against history. Prices is keyed by currency code.
type Candidate struct {
	Name       string
	ProductURL string
	ImageURL   string
	Prices     map[string]float64
	Archived   bool
}
