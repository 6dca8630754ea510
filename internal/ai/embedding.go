package ai

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/metrics"
	"github.com/suPer8Hu/govchat/internal/retry"
	"go.uber.org/zap"
)

// BatchEmbedder splits requests into provider-sized batches and retries
// rate-limited or transient batch failures. Content rejections fail at once.
type BatchEmbedder struct {
	inner      Embedder
	batchSize  int
	dimensions int
	policy     retry.Policy
	log        *zap.Logger
	metrics    *metrics.Metrics
}

type BatchOption func(*BatchEmbedder)

func WithRetryPolicy(p retry.Policy) BatchOption {
	return func(b *BatchEmbedder) { b.policy = p }
}

func WithEmbedMetrics(m *metrics.Metrics) BatchOption {
	return func(b *BatchEmbedder) { b.metrics = m }
}

func WithEmbedLogger(l *zap.Logger) BatchOption {
	return func(b *BatchEmbedder) { b.log = l }
}

// NewBatchEmbedder wraps inner. dimensions of 0 disables the length check.
func NewBatchEmbedder(inner Embedder, batchSize, dimensions, maxRetries int, opts ...BatchOption) *BatchEmbedder {
	if batchSize <= 0 {
		batchSize = 32
	}
	b := &BatchEmbedder{
		inner:      inner,
		batchSize:  batchSize,
		dimensions: dimensions,
		policy:     retry.DefaultPolicy(maxRetries + 1),
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *BatchEmbedder) Dimensions() int { return b.dimensions }

func (b *BatchEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		batch := texts[start:end]

		var vectors [][]float32
		attempt := 0
		err := retry.Do(ctx, b.policy, func(ctx context.Context) error {
			attempt++
			v, err := b.inner.Embed(ctx, batch)
			if err != nil {
				if common.IsRetryable(err) {
					b.log.Warn("embedding batch failed, backing off",
						zap.Int("batch_start", start), zap.Int("attempt", attempt), zap.Error(err))
				}
				return err
			}
			vectors = v
			return nil
		})
		if err != nil {
			b.metrics.EmbedBatch(string(common.KindOf(err)))
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			b.metrics.EmbedBatch("mismatch")
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(vectors))
		}
		for i, v := range vectors {
			if b.dimensions > 0 && len(v) != b.dimensions {
				b.metrics.EmbedBatch("mismatch")
				return nil, common.Configuration("embed",
					fmt.Errorf("vector %d has %d dimensions, expected %d", start+i, len(v), b.dimensions))
			}
		}
		b.metrics.EmbedBatch("ok")
		out = append(out, vectors...)
	}
	return out, nil
}

var _ Embedder = (*BatchEmbedder)(nil)
