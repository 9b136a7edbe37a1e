package embedding

import (
	"context"

	"github.com/stratumhq/stratum/internal/resilience"
)

// ResilientClient wraps an Embedder with a token-bucket rate limiter, so
// a burst of worker batches cannot overrun the embedding server's
// throughput (§5 resource policy).
type ResilientClient struct {
	inner   Embedder
	limiter *resilience.Limiter
}

// NewResilientClient wraps inner with the given limiter options. Calls
// block for a token rather than failing outright. The worker does not
// retry a batch whose embedding fails: it acks the batch, and those
// entries stay in the columnar store without a vector.
func NewResilientClient(inner Embedder, opts resilience.LimiterOpts) *ResilientClient {
	return &ResilientClient{inner: inner, limiter: resilience.NewLimiter(opts)}
}

// Embed implements Embedder, waiting for rate-limiter capacity before
// calling through.
func (r *ResilientClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.limiter.CallWait(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = r.inner.Embed(ctx, texts)
		return callErr
	})
	return out, err
}
