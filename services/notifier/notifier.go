package notifier

import (
	"context"

	"storewatcher/internal/models"
)

// BatchKind labels why a batch is being delivered.
type BatchKind string

const (
	// KindNew marks products never seen before
	KindNew BatchKind = "new"
	// KindUpdated marks sibling listings of known imagery
	KindUpdated BatchKind = "updated"
	// KindUnsent marks backlog redelivery of products not yet acknowledged
	KindUnsent BatchKind = "unsent"
)

// Notifier delivers product batches downstream. Callers guarantee a
// non-empty batch whose products all belong to the same store; delivery is
// at-least-once and no acknowledgment is awaited beyond the call itself.
type Notifier interface {
	Notify(ctx context.Context, storeLabel string, products []models.Product, kind BatchKind) error
	Close() error
}
