package memory

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/threadmem/memcore/internal/model"
	"github.com/threadmem/memcore/internal/registry/store"
)

const defaultSearchLimit = 10

// SemanticSearch embeds the query and returns the most similar messages in
// scope. With a vector index configured and a scope the index can express,
// the index answers; otherwise a bounded brute-force cosine scan over stored
// embeddings does.
func (p *Provider) SemanticSearch(ctx context.Context, query string, scope store.SearchScope, limit int) ([]store.SearchHit, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	vec, err := p.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if p.vector != nil && p.vector.IsEnabled() && scope.AgentID == nil {
		hits, err := p.indexSearch(ctx, vec, scope.ThreadID, limit)
		if err == nil {
			return hits, nil
		}
		log.Warn("Vector index search failed, falling back to scan", "error", err)
	}
	return p.scanSearch(ctx, query, vec, scope, limit, 1)
}

// HybridSearch blends vector similarity with keyword relevance. Backends with
// a native primitive run it in one query; the rest get a scan that scores
// both legs with the configured alpha.
func (p *Provider) HybridSearch(ctx context.Context, query string, scope store.SearchScope, limit int) ([]store.SearchHit, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	vec, err := p.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := p.store.HybridSearch(ctx, store.HybridQuery{
		Query:  query,
		Vector: vec,
		Scope:  scope,
		Limit:  limit,
		Alpha:  p.cfg.HybridAlpha,
	})
	if err == nil {
		return hits, nil
	}
	if err != store.ErrHybridUnsupported {
		return nil, p.wrapErr(err)
	}
	return p.scanSearch(ctx, query, vec, scope, limit, p.cfg.HybridAlpha)
}

func (p *Provider) embedQuery(ctx context.Context, query string) ([]float32, error) {
	res, err := p.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, &store.EmbeddingError{Model: p.embedder.ModelName(), Cause: err}
	}
	if len(res.Vectors) != 1 {
		return nil, &store.EmbeddingError{Model: p.embedder.ModelName(), Cause: errEmptyEmbedResult}
	}
	return res.Vectors[0], nil
}

var errEmptyEmbedResult = &store.ValidationError{Field: "query", Message: "embedder returned no vector"}

// indexSearch resolves vector index hits back into messages by loading each
// hit's thread once.
func (p *Provider) indexSearch(ctx context.Context, vec []float32, threadID *string, limit int) ([]store.SearchHit, error) {
	results, err := p.vector.Search(ctx, vec, threadID, limit)
	if err != nil {
		return nil, err
	}
	byThread := map[string]map[string]model.Message{}
	var hits []store.SearchHit
	for _, r := range results {
		msgs, ok := byThread[r.ThreadID]
		if !ok {
			loaded, err := p.store.LoadMessages(ctx, r.ThreadID, 0)
			if err != nil {
				return nil, err
			}
			msgs = make(map[string]model.Message, len(loaded))
			for _, m := range loaded {
				msgs[m.ID] = m
			}
			byThread[r.ThreadID] = msgs
		}
		if m, ok := msgs[r.MessageID]; ok {
			hits = append(hits, store.SearchHit{Message: m, Similarity: r.Score})
		}
	}
	return hits, nil
}

// scanSearch is the brute-force path shared by semantic (alpha 1) and hybrid
// fallback search. It scans at most SearchScanLimit stored embeddings, scores
// score = alpha*cosine + (1-alpha)*keyword, and returns the top hits. The cap
// is a documented trade-off: configure a vector index for larger corpora.
func (p *Provider) scanSearch(ctx context.Context, query string, vec []float32, scope store.SearchScope, limit int, alpha float64) ([]store.SearchHit, error) {
	scanLimit := p.cfg.SearchScanLimit
	if scanLimit <= 0 {
		scanLimit = 10_000
	}
	candidates, err := p.store.ListMessageEmbeddings(ctx, scope, scanLimit)
	if err != nil {
		return nil, p.wrapErr(err)
	}
	if len(candidates) == scanLimit {
		log.Warn("Semantic scan hit its candidate cap; results may be partial",
			"scanLimit", scanLimit)
	}

	needle := strings.ToLower(query)
	hits := make([]store.SearchHit, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) != len(vec) {
			// different embedding model generations are not comparable
			continue
		}
		score := alpha * cosineSimilarity(vec, c.Vector)
		if alpha < 1 && strings.Contains(strings.ToLower(c.Message.Content), needle) {
			score += 1 - alpha
		}
		hits = append(hits, store.SearchHit{Message: c.Message, Similarity: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 for
// zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
