package inference

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds exponential backoff around a single external call.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs op until it succeeds, returns a permanent error, the attempts
// are exhausted or ctx is done.
func Retry(ctx context.Context, p RetryPolicy, name string, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
	err := backoff.Retry(func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err != nil && !isContextErr(err) {
			slog.WarnContext(ctx, "external call failed", "call", name, "attempt", attempt, "max_attempts", attempts, "error", err)
		}
		if isContextErr(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	return err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type retryingEmbedder struct {
	next   BatchEmbedder
	policy RetryPolicy
}

// NewRetryingEmbedder wraps every call of next in Retry.
func NewRetryingEmbedder(next BatchEmbedder, p RetryPolicy) BatchEmbedder {
	return &retryingEmbedder{next: next, policy: p}
}

func (r *retryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := Retry(ctx, r.policy, "embed", func() error {
		v, err := r.next.Embed(ctx, text)
		out = v
		return err
	})
	return out, err
}

func (r *retryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := Retry(ctx, r.policy, "embed_batch", func() error {
		v, err := r.next.EmbedBatch(ctx, texts)
		out = v
		return err
	})
	return out, err
}

type retryingGenerator struct {
	next   Generator
	policy RetryPolicy
}

func NewRetryingGenerator(next Generator, p RetryPolicy) Generator {
	return &retryingGenerator{next: next, policy: p}
}

func (r *retryingGenerator) Generate(ctx context.Context, prompt string, schema *Schema) (json.RawMessage, error) {
	var out json.RawMessage
	err := Retry(ctx, r.policy, "generate", func() error {
		v, err := r.next.Generate(ctx, prompt, schema)
		out = v
		return err
	})
	return out, err
}
