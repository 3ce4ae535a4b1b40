package model

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimitedModel struct {
	next    Model
	limiter *rate.Limiter
}

// WithRateLimit wraps next so calls wait for a token of a limiter allowing
// rps requests per second with the given burst.
func WithRateLimit(next Model, rps float64, burst int) Model {
	if burst < 1 {
		burst = 1
	}

	return &rateLimitedModel{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (m *rateLimitedModel) Info() Info { return m.next.Info() }

func (m *rateLimitedModel) Generate(ctx context.Context, req Request) (Response, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, err
	}

	return m.next.Generate(ctx, req)
}
