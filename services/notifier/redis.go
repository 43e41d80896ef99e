package notifier

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"storewatcher/internal/models"
)

// RedisNotifier implements Notifier on Redis streams. Each batch kind gets
// its own stream under the configured prefix.
type RedisNotifier struct {
	client       *redis.Client
	streamPrefix string
	maxLength    int
}

// NewRedisNotifier creates a Redis-backed notifier
func NewRedisNotifier(addr string, db int, streamPrefix string, maxLength int) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	return &RedisNotifier{
		client:       client,
		streamPrefix: streamPrefix,
		maxLength:    maxLength,
	}
}

// Notify publishes one batch to the kind's stream. The batch payload is
// base64-encoded JSON.
func (n *RedisNotifier) Notify(ctx context.Context, storeLabel string, products []models.Product, kind BatchKind) error {
	payload, err := json.Marshal(products)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(payload)

	stream := n.streamPrefix + ":" + string(kind)

	return n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: int64(n.maxLength),
		Approx: true,
		Values: map[string]interface{}{
			"store": storeLabel,
			"kind":  string(kind),
			"batch": encoded,
		},
	}).Err()
}

// Close closes the Redis connection
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
