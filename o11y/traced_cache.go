package o11y

import (
	"context"
	"time"

	"github.com/goware/cachestore"
)

type tracedCache[V any] struct {
	label string
	cachestore.Store[V]
}

func NewTracedCache[V any](label string, store cachestore.Store[V]) cachestore.Store[V] {
	return &tracedCache[V]{label: label, Store: store}
}

func (c *tracedCache[V]) Get(ctx context.Context, key string) (_ V, _ bool, err error) {
	ctx, span := Trace(ctx, "cachestore.Get", WithAnnotation("cache", c.label))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	v, found, err := c.Store.Get(ctx, key)
	if found {
		span.SetAnnotation("result", "hit")
	} else {
		span.SetAnnotation("result", "miss")
	}
	return v, found, err
}

func (c *tracedCache[V]) SetEx(ctx context.Context, key string, value V, ttl time.Duration) (err error) {
	ctx, span := Trace(ctx, "cachestore.SetEx", WithAnnotation("cache", c.label), WithMetadata(map[string]any{
		"cache.ttl_seconds": ttl.Seconds(),
	}))
	defer func() {
		span.RecordError(err)
		span.End()
	}()
	return c.Store.SetEx(ctx, key, value, ttl)
}

func (c *tracedCache[V]) Delete(ctx context.Context, key string) (err error) {
	ctx, span := Trace(ctx, "cachestore.Delete", WithAnnotation("cache", c.label))
	defer func() {
		span.RecordError(err)
		span.End()
	}()
	return c.Store.Delete(ctx, key)
}
