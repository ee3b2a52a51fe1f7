package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/catalog"
)

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Cached memoises an embedder in Redis, keyed by a digest of the text. Redis
// failures degrade to calling the wrapped embedder.
type Cached struct {
	next   catalog.Embedder
	rdb    kv
	hasher catalog.Hasher
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewCached wraps next. namespace separates models sharing one Redis.
func NewCached(next catalog.Embedder, rdb redis.Cmdable, hasher catalog.Hasher, namespace string, ttl time.Duration, logger *zap.Logger) *Cached {
	return newCached(next, rdb, hasher, namespace, ttl, logger)
}

func newCached(next catalog.Embedder, rdb kv, hasher catalog.Hasher, namespace string, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{
		next:   next,
		rdb:    rdb,
		hasher: hasher,
		ttl:    ttl,
		prefix: "embedding:" + namespace + ":",
		logger: logger,
	}
}

// Dimensions implements catalog.Embedder.
func (c *Cached) Dimensions() int { return c.next.Dimensions() }

// Embed implements catalog.Embedder.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	digest, err := c.hasher.Hash([]byte(text))
	if err != nil {
		return c.next.Embed(ctx, text)
	}
	key := c.prefix + digest

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vec, ok := decodeVector(raw, c.next.Dimensions()); ok {
			return vec, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("embedding cache read failed", zap.String("key", key), zap.Error(err))
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
	return vec, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw []byte, dims int) ([]float32, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 || (dims > 0 && len(raw)/4 != dims) {
		return nil, false
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, true
}
