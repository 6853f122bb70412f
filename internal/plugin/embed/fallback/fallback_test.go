package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	registryembed "github.com/threadmem/memcore/internal/registry/embed"
	registrystore "github.com/threadmem/memcore/internal/registry/store"
)

type fixedEmbedder struct {
	name  string
	dim   int
	err   error
	calls int
}

func (f *fixedEmbedder) EmbedTexts(_ context.Context, texts []string) (registryembed.Result, error) {
	f.calls++
	if f.err != nil {
		return registryembed.Result{}, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return registryembed.Result{Vectors: out, Model: f.name}, nil
}
func (f *fixedEmbedder) ModelName() string { return f.name }
func (f *fixedEmbedder) Dimension() int    { return f.dim }

func loaderOf(e registryembed.Embedder) loaderFunc {
	return func() (registryembed.Embedder, error) { return e, nil }
}

func failingLoader(err error) loaderFunc {
	return func() (registryembed.Embedder, error) { return nil, err }
}

func TestPrimaryServes(t *testing.T) {
	primary := &fixedEmbedder{name: "primary", dim: 4}
	secondary := &fixedEmbedder{name: "secondary", dim: 8}
	e := New(loaderOf(primary), loaderOf(secondary))

	res, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, res.Vectors, 2)
	assert.Equal(t, "primary", res.Model)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, secondary.calls)
	assert.Equal(t, "primary", e.ModelName())
	assert.Equal(t, 4, e.Dimension())
}

func TestFallsBackOnPrimaryFailure(t *testing.T) {
	primary := &fixedEmbedder{name: "primary", dim: 4, err: errors.New("model load failed")}
	secondary := &fixedEmbedder{name: "secondary", dim: 8}
	e := New(loaderOf(primary), loaderOf(secondary))

	res, err := e.EmbedTexts(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, res.Vectors, 1)
	assert.Len(t, res.Vectors[0], 8)
	assert.Equal(t, 1, secondary.calls)

	// The result names the tier that produced the vectors even though
	// ModelName still reports the loaded primary.
	assert.Equal(t, "secondary", res.Model)
	assert.Equal(t, "primary", e.ModelName())
}

func TestFallsBackWhenPrimaryLoaderFails(t *testing.T) {
	secondary := &fixedEmbedder{name: "secondary", dim: 8}
	e := New(failingLoader(errors.New("no such model")), loaderOf(secondary))

	res, err := e.EmbedTexts(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, res.Vectors, 1)
	assert.Equal(t, "secondary", res.Model)
	assert.Equal(t, "secondary", e.ModelName())
}

func TestBothTiersFailing(t *testing.T) {
	primary := &fixedEmbedder{name: "primary", dim: 4, err: errors.New("down")}
	secondary := &fixedEmbedder{name: "secondary", dim: 8, err: errors.New("also down")}
	e := New(loaderOf(primary), loaderOf(secondary))

	_, err := e.EmbedTexts(context.Background(), []string{"a"})
	var ee *registrystore.EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "secondary", ee.Model)
}

func TestLoadersRunOnce(t *testing.T) {
	loads := 0
	primary := &fixedEmbedder{name: "primary", dim: 4}
	e := New(func() (registryembed.Embedder, error) {
		loads++
		return primary, nil
	}, failingLoader(errors.New("unused")))

	for i := 0; i < 3; i++ {
		_, err := e.EmbedTexts(context.Background(), []string{"a"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, loads)
}
