// Package fallback composes the local embedder with the OpenAI embedder
// behind a two-tier attempt-then-fallback policy: try the local model first,
// on any failure retry once against the API model, and only then fail hard.
// The policy is a plain Result-style code path so it can be tested in
// isolation rather than relying on panics or error sentinels for control
// flow.
package fallback

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/threadmem/memcore/internal/plugin/embed/local"
	openaiembed "github.com/threadmem/memcore/internal/plugin/embed/openai"
	registryembed "github.com/threadmem/memcore/internal/registry/embed"
	registrystore "github.com/threadmem/memcore/internal/registry/store"
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "fallback",
		Loader: func(ctx context.Context) (registryembed.Embedder, error) {
			return New(
				func() (registryembed.Embedder, error) { return &local.LocalEmbedder{}, nil },
				func() (registryembed.Embedder, error) { return openaiembed.Load(ctx) },
			), nil
		},
	})
}

type loaderFunc func() (registryembed.Embedder, error)

// Embedder tries a primary model and falls back to a secondary one. The
// primary handle is initialized lazily exactly once; concurrent first
// callers share the same initialization.
type Embedder struct {
	loadPrimary   loaderFunc
	loadSecondary loaderFunc

	primaryOnce   sync.Once
	primary       registryembed.Embedder
	primaryErr    error
	secondaryOnce sync.Once
	secondary     registryembed.Embedder
	secondaryErr  error
}

// New builds a fallback embedder from two lazy loaders.
func New(primary, secondary loaderFunc) *Embedder {
	return &Embedder{loadPrimary: primary, loadSecondary: secondary}
}

func (e *Embedder) primaryHandle() (registryembed.Embedder, error) {
	e.primaryOnce.Do(func() {
		e.primary, e.primaryErr = e.loadPrimary()
	})
	return e.primary, e.primaryErr
}

func (e *Embedder) secondaryHandle() (registryembed.Embedder, error) {
	e.secondaryOnce.Do(func() {
		e.secondary, e.secondaryErr = e.loadSecondary()
	})
	return e.secondary, e.secondaryErr
}

// ModelName reports the model that would serve the next call.
func (e *Embedder) ModelName() string {
	if p, err := e.primaryHandle(); err == nil {
		return p.ModelName()
	}
	if s, err := e.secondaryHandle(); err == nil {
		return s.ModelName()
	}
	return "unavailable"
}

// Dimension reports the dimensionality of the model that would serve the
// next call.
func (e *Embedder) Dimension() int {
	if p, err := e.primaryHandle(); err == nil {
		return p.Dimension()
	}
	if s, err := e.secondaryHandle(); err == nil {
		return s.Dimension()
	}
	return 0
}

// EmbedTexts embeds via the primary model, falling back to the secondary on
// any failure. The returned Result names whichever tier actually produced
// the vectors. When both tiers fail the error is an EmbeddingError carrying
// the secondary failure as its cause.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) (registryembed.Result, error) {
	primary, err := e.primaryHandle()
	if err == nil {
		res, embedErr := primary.EmbedTexts(ctx, texts)
		if embedErr == nil {
			return res, nil
		}
		err = embedErr
		log.Warn("primary embedder failed, trying fallback", "model", primary.ModelName(), "err", embedErr)
	}

	secondary, loadErr := e.secondaryHandle()
	if loadErr != nil {
		return registryembed.Result{}, &registrystore.EmbeddingError{
			Model: "fallback",
			Cause: fmt.Errorf("primary: %v; secondary load: %w", err, loadErr),
		}
	}
	res, embedErr := secondary.EmbedTexts(ctx, texts)
	if embedErr != nil {
		return registryembed.Result{}, &registrystore.EmbeddingError{Model: secondary.ModelName(), Cause: embedErr}
	}
	return res, nil
}

var _ registryembed.Embedder = (*Embedder)(nil)
