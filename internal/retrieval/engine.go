// Package retrieval implements hybrid search over the document store:
// vector similarity and lexical matching run concurrently and their
// results are fused into a single ranked list via Reciprocal Rank
// Fusion.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kestrelworks/kestrel-agent/internal/cache"
	"github.com/kestrelworks/kestrel-agent/internal/embeddings"
	"github.com/kestrelworks/kestrel-agent/internal/events"
	"github.com/kestrelworks/kestrel-agent/internal/memory"
)

// Backend is the slice of the document store the engine queries.
type Backend interface {
	SearchSimilar(ctx context.Context, vector []float32, filters memory.Filters, limit int) ([]memory.VectorHit, error)
	SearchLexical(ctx context.Context, text, filterExpr string, pageSize int) ([]memory.LexicalHit, error)
	GetDocumentByID(ctx context.Context, id string) (*memory.Document, error)
	GetMemoryByDocumentID(ctx context.Context, documentID string) (*memory.Memory, error)
}

// Request describes one hybrid search.
type Request struct {
	// VectorQuery is embedded and sent to the vector backend.
	VectorQuery string
	// LexicalQuery goes to the full-text backend. Usually the same
	// text as VectorQuery; leave empty to skip lexical search.
	LexicalQuery string
	Filters      memory.Filters
	Limit        int
}

// SearchResult is one ranked hit: the hydrated document, its fused
// score, and the memory backing it, if any.
type SearchResult struct {
	Document *memory.Document `json:"document"`
	Score    float64          `json:"score"`
	Memory   *memory.Memory   `json:"memory,omitempty"`
}

// Options tune the engine.
type Options struct {
	DefaultLimit int           // used when Request.Limit <= 0 (default 10)
	CacheTTL     time.Duration // search result cache (default 5m)
	CacheSweep   time.Duration // default 1m
}

// Engine fuses vector and lexical search. Result sets are cached per
// (query, filters, limit); register InvalidateCache with the store's
// mutation hook to drop them when documents change.
type Engine struct {
	backend      Backend
	embedder     embeddings.Embedder
	logger       *slog.Logger
	bus          *events.Bus
	results      *cache.Cache[[]SearchResult]
	defaultLimit int
}

// NewEngine creates a hybrid search engine. Pass nil opts for defaults;
// bus may be nil.
func NewEngine(backend Backend, embedder embeddings.Embedder, logger *slog.Logger, bus *events.Bus, opts *Options) *Engine {
	if opts == nil {
		opts = &Options{}
	}
	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = 10
	}
	return &Engine{
		backend:      backend,
		embedder:     embedder,
		logger:       logger,
		bus:          bus,
		results:      cache.New[[]SearchResult](opts.CacheTTL, opts.CacheSweep),
		defaultLimit: limit,
	}
}

// Close stops the result cache sweeper.
func (e *Engine) Close() {
	e.results.Stop()
}

// InvalidateCache drops all cached result sets. Wire this to the
// store's mutation hook so searches never serve documents that have
// since changed.
func (e *Engine) InvalidateCache() int {
	return e.results.Flush()
}

// Search runs one hybrid query. Both backends are queried concurrently
// and any failure — embedding, vector, lexical, or hydration — fails
// the whole call with no partial results. Zero hits return an empty,
// non-nil slice.
func (e *Engine) Search(ctx context.Context, req Request) ([]SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = e.defaultLimit
	}

	key := cacheKey(req, limit)
	if cached, ok := e.results.Get(key); ok {
		return cached, nil
	}

	vector, err := e.embedder.Generate(ctx, req.VectorQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var (
		wg         sync.WaitGroup
		vecHits    []memory.VectorHit
		lexHits    []memory.LexicalHit
		vecErr     error
		lexErr     error
		filterExpr = req.Filters.Expr()
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vecHits, vecErr = e.backend.SearchSimilar(ctx, vector, req.Filters, limit)
	}()
	go func() {
		defer wg.Done()
		lexHits, lexErr = e.backend.SearchLexical(ctx, req.LexicalQuery, filterExpr, limit)
	}()
	wg.Wait()
	if vecErr != nil {
		return nil, fmt.Errorf("vector backend: %w", vecErr)
	}
	if lexErr != nil {
		return nil, fmt.Errorf("lexical backend: %w", lexErr)
	}

	// Merge by document identity. Vector hits keep their raw
	// similarity score; lexical hits contribute RRF terms (see
	// fuseLexical for the co-occurrence rule). Insertion order is
	// preserved so the final stable sort breaks ties deterministically.
	scores := make(map[string]float64)
	var order []string
	for _, h := range vecHits {
		if !req.Filters.Match(h) {
			continue
		}
		if _, seen := scores[h.DocumentID]; !seen {
			order = append(order, h.DocumentID)
		}
		scores[h.DocumentID] = float64(h.Score)
	}
	for i, h := range lexHits {
		rank := i + 1
		_, hadVector := scores[h.DocumentID]
		if !hadVector {
			order = append(order, h.DocumentID)
		}
		scores[h.DocumentID] = fuseLexical(hadVector, rank)
	}

	candidates, err := e.hydrate(ctx, order, scores)
	if err != nil {
		return nil, err
	}

	if req.Filters.ContentType == memory.ContentMemory {
		kept := candidates[:0]
		for _, c := range candidates {
			if c.Memory != nil {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	e.results.Set(key, candidates)
	e.bus.Publish(events.Event{
		Source: events.SourceRetrieval,
		Kind:   events.KindSearch,
		Data: map[string]any{
			"query":   req.VectorQuery,
			"results": len(candidates),
		},
	})
	if e.logger != nil {
		e.logger.Debug("hybrid search",
			"query", req.VectorQuery,
			"vector_hits", len(vecHits),
			"lexical_hits", len(lexHits),
			"results", len(candidates))
	}
	return candidates, nil
}

// hydrate fetches documents and their memories for every candidate,
// concurrently across candidates. Candidates whose document has gone
// missing are dropped; store errors fail the whole search.
func (e *Engine) hydrate(ctx context.Context, order []string, scores map[string]float64) ([]SearchResult, error) {
	results := make([]SearchResult, len(order))
	errs := make([]error, len(order))

	var wg sync.WaitGroup
	for i, id := range order {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			doc, err := e.backend.GetDocumentByID(ctx, id)
			if err != nil {
				errs[i] = fmt.Errorf("hydrate document %s: %w", id, err)
				return
			}
			if doc == nil {
				if e.logger != nil {
					e.logger.Warn("search hit references missing document", "id", id)
				}
				return
			}
			mem, err := e.backend.GetMemoryByDocumentID(ctx, id)
			if err != nil {
				errs[i] = fmt.Errorf("hydrate memory for %s: %w", id, err)
				return
			}
			results[i] = SearchResult{Document: doc, Score: scores[id], Memory: mem}
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Document != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func cacheKey(req Request, limit int) string {
	return "q=" + req.VectorQuery + "|lq=" + req.LexicalQuery +
		"|f=" + req.Filters.Key() + "|n=" + strconv.Itoa(limit)
}
