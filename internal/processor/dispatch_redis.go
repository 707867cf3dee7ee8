package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dcbrun/dcb/internal/store"
)

// RedisSink caches the current value of a read model in Redis by
// applying fold to each dispatched event and writing the resulting
// JSON to a key derived from the event's tags. Grounded on the
// retrieved outbox processor's Redis Streams publish step
// (…chat-service…/internal/outbox/processor.go), adapted from a raw
// publish into a cached-projection write since this sink serves reads,
// not a second queue.
type RedisSink struct {
	client    *redis.Client
	keyPrefix string
	keyOf     func(store.Event) string
	fold      func(current []byte, e store.Event) ([]byte, error)
}

func NewRedisSink(client *redis.Client, keyPrefix string, keyOf func(store.Event) string, fold func([]byte, store.Event) ([]byte, error)) *RedisSink {
	return &RedisSink{client: client, keyPrefix: keyPrefix, keyOf: keyOf, fold: fold}
}

func (s *RedisSink) Dispatch(ctx context.Context, events []store.Event) error {
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := s.keyPrefix + ":" + s.keyOf(e)
		current, err := s.client.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("processor: reading redis key %s: %w", key, err)
		}
		if err == redis.Nil {
			current = nil
		}

		next, err := s.fold(current, e)
		if err != nil {
			return fmt.Errorf("processor: folding event into %s: %w", key, err)
		}
		if err := s.client.Set(ctx, key, next, 0).Err(); err != nil {
			return fmt.Errorf("processor: writing redis key %s: %w", key, err)
		}
	}
	return nil
}

// JSONMergeFold is a convenience fold for read models that are plain
// JSON objects: it shallow-merges the event's data over the current
// cached value.
func JSONMergeFold(current []byte, e store.Event) ([]byte, error) {
	merged := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &merged); err != nil {
			return nil, err
		}
	}
	var patch map[string]any
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &patch); err != nil {
			return nil, err
		}
	}
	for k, v := range patch {
		merged[k] = v
	}
	return json.Marshal(merged)
}
