// Package resolver acquires a mesh for each entity: cache first, then the
// external generation service under a bounded retry policy. Every failure
// ends in a degraded outcome rather than an error.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/metrics"
	"github.com/factory-twin/backend/internal/models"
	"github.com/factory-twin/backend/internal/storage"
)

// ImageLocator finds a reference image for a slug.
type ImageLocator interface {
	Locate(slug string) (string, bool)
}

// Resolver resolves entity meshes.
type Resolver struct {
	cache   *storage.MeshCache
	images  ImageLocator
	gen     Generator
	clock   Clock
	policy  Policy
	metrics *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces the clock used for backoff waits.
func WithClock(c Clock) Option { return func(r *Resolver) { r.clock = c } }

// WithPolicy replaces the retry policy.
func WithPolicy(p Policy) Option { return func(r *Resolver) { r.policy = p } }

// WithMetrics records attempts and outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Resolver) { r.metrics = m } }

// New creates a resolver. gen may be nil, in which case cache misses degrade.
func New(cache *storage.MeshCache, images ImageLocator, gen Generator, opts ...Option) *Resolver {
	r := &Resolver{
		cache:  cache,
		images: images,
		gen:    gen,
		clock:  RealClock{},
		policy: DefaultPolicy,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Cache exposes the mesh cache, for external clearing.
func (r *Resolver) Cache() *storage.MeshCache {
	return r.cache
}

// Resolve returns where the entity's mesh lives, or a degraded outcome. It
// never mutates the entity.
func (r *Resolver) Resolve(ctx context.Context, e models.Entity) models.AssetOutcome {
	slug := e.Slug()
	logger := ctxlog.FromContext(ctx).With("entity", e.ID, "slug", slug)
	out := models.AssetOutcome{EntityID: e.ID, Slug: slug}

	if path, ok := r.cache.Lookup(slug); ok {
		logger.Debug("mesh cache hit", "path", path)
		out.Status = models.AssetCached
		out.MeshPath = path
		r.metrics.AssetOutcome(string(out.Status))
		return out
	}

	image, ok := r.locateImage(e, slug)
	if !ok {
		logger.Info("no reference image, entity will use a placeholder")
		out.Status = models.AssetNoImage
		r.metrics.AssetOutcome(string(out.Status))
		return out
	}

	if r.gen == nil {
		out.Status = models.AssetFailed
		out.Error = ErrNoGenerator.Error()
		r.metrics.AssetOutcome(string(out.Status))
		return out
	}

	var meshPath string
	state, attempts, err := r.policy.Run(ctx, r.clock, func(n int) error {
		logger.Info("requesting mesh generation", "attempt", n, "image", image)
		path, err := r.generateOnce(ctx, image, slug)
		switch {
		case err == nil:
			r.metrics.GenerationAttempt("success")
			meshPath = path
		case IsRejected(err):
			r.metrics.GenerationAttempt("rejected")
		default:
			r.metrics.GenerationAttempt("transient")
		}
		return err
	}, func(t Transition) {
		if t.To == StateBackoff {
			logger.Warn("generation attempt failed, backing off",
				"attempt", t.Attempt, "delay", t.Delay, "error", t.Err)
		}
	})

	out.Attempts = attempts
	switch state {
	case StateSucceeded:
		out.Status = models.AssetGenerated
		out.MeshPath = meshPath
		logger.Info("mesh generated", "path", meshPath, "attempts", attempts)
	case StateRejected:
		out.Status = models.AssetRejected
	case StateAbandoned:
		out.Status = models.AssetTimeout
	default:
		out.Status = models.AssetExhausted
	}
	if err != nil && out.Status.Degraded() {
		out.Error = err.Error()
		logger.Warn("mesh unavailable, entity will use a placeholder",
			"status", out.Status, "attempts", attempts, "error", err)
	}
	r.metrics.AssetOutcome(string(out.Status))
	return out
}

func (r *Resolver) locateImage(e models.Entity, slug string) (string, bool) {
	if e.ImageRef != "" {
		if info, err := os.Stat(e.ImageRef); err == nil && !info.IsDir() {
			return e.ImageRef, true
		}
		return "", false
	}
	if r.images == nil {
		return "", false
	}
	return r.images.Locate(slug)
}

// generateOnce performs one request and streams a successful body into the
// cache. A body that breaks off mid-stream counts as a transient failure.
func (r *Resolver) generateOnce(ctx context.Context, image, slug string) (string, error) {
	body, err := r.gen.Generate(ctx, image)
	if err != nil {
		var te *TransientError
		if IsRejected(err) || errors.As(err, &te) {
			return "", err
		}
		// Local problems reading the image cannot improve with retries.
		return "", &RejectedError{Message: err.Error()}
	}
	defer body.Close()

	path, _, err := r.cache.Write(slug, body)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("storing mesh: %w", err)}
	}
	return path, nil
}
