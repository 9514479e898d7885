package providers

import (
	"context"
	"errors"
	"log/slog"

	"fetcharr/internal/breaker"
	"fetcharr/internal/logging"
	"fetcharr/internal/ratelimit"
	"fetcharr/internal/services"
)

// Client wraps a provider instance with its own rate limiter and circuit
// breaker. Collaborators are injected and owned here; providers themselves
// stay free of pacing and failure-tracking concerns.
type Client struct {
	provider Provider
	caps     Capabilities
	limiter  *ratelimit.Limiter
	brk      *breaker.Breaker
}

func newClient(provider Provider, limits Limits, logger *slog.Logger) *Client {
	caps := provider.Capabilities()

	perSecond := caps.RequestsPerSecond
	if perSecond <= 0 {
		perSecond = limits.RequestsPerSecond
	}
	burst := caps.BurstCapacity
	if burst <= 0 {
		burst = limits.BurstCapacity
	}

	name := caps.Name
	brk := breaker.New(breaker.Config{
		FailureThreshold: limits.FailureThreshold,
		ResetTimeout:     limits.ResetTimeout,
		IsFailure: func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return services.CountsAsFailure(err)
		},
		OnStateChange: func(from, to breaker.State) {
			logger.Warn("provider circuit state changed",
				logging.String(logging.FieldProvider, name),
				logging.String("from", from.String()),
				logging.String("to", to.String()))
		},
	})

	return &Client{
		provider: provider,
		caps:     caps,
		limiter:  ratelimit.New(perSecond, burst),
		brk:      brk,
	}
}

// Name returns the provider's declared name.
func (c *Client) Name() string { return c.caps.Name }

// Capabilities returns the provider's immutable capability declaration.
func (c *Client) Capabilities() Capabilities { return c.caps }

// IsOpen reports whether the provider's circuit currently rejects calls.
func (c *Client) IsOpen() bool { return c.brk.IsOpen() }

// BreakerStats exposes circuit state for status reporting.
func (c *Client) BreakerStats() breaker.Stats { return c.brk.Stats() }

// LimiterStats exposes rate limiter usage for status reporting.
func (c *Client) LimiterStats() ratelimit.Stats { return c.limiter.Stats() }

// ResetBreaker forces the circuit closed, used after reconfiguration.
func (c *Client) ResetBreaker() { c.brk.Reset() }

// execute runs fn behind the breaker and limiter. The breaker check comes
// first so short-circuited calls never consume a rate limit slot.
func (c *Client) execute(ctx context.Context, class ratelimit.Class, fn func(context.Context) error) error {
	ctx = services.WithProvider(ctx, c.caps.Name)
	return c.brk.Execute(ctx, func(ctx context.Context) error {
		return c.limiter.Execute(ctx, class, fn)
	})
}

func (c *Client) Search(ctx context.Context, class ratelimit.Class, req SearchRequest) ([]SearchResult, error) {
	var results []SearchResult
	err := c.execute(ctx, class, func(ctx context.Context) error {
		var err error
		results, err = c.provider.Search(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) GetMetadata(ctx context.Context, class ratelimit.Class, req MetadataRequest) (*Metadata, error) {
	var meta *Metadata
	err := c.execute(ctx, class, func(ctx context.Context) error {
		var err error
		meta, err = c.provider.GetMetadata(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *Client) GetAssets(ctx context.Context, class ratelimit.Class, req AssetRequest) ([]AssetRef, error) {
	var refs []AssetRef
	err := c.execute(ctx, class, func(ctx context.Context) error {
		var err error
		refs, err = c.provider.GetAssets(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (c *Client) GetChanges(ctx context.Context, class ratelimit.Class, req ChangesRequest) (*ChangeSet, error) {
	var changes *ChangeSet
	err := c.execute(ctx, class, func(ctx context.Context) error {
		var err error
		changes, err = c.provider.GetChanges(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (c *Client) TestConnection(ctx context.Context) error {
	return c.execute(ctx, ratelimit.ClassUser, func(ctx context.Context) error {
		return c.provider.TestConnection(ctx)
	})
}
