package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aptyp78/claude-auto-dev/internal/chunk"
	"github.com/aptyp78/claude-auto-dev/internal/embed"
	engerrors "github.com/aptyp78/claude-auto-dev/internal/errors"
	"github.com/aptyp78/claude-auto-dev/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Index is the read surface of the index store the engine queries.
// *store.IndexStore satisfies it.
type Index interface {
	QueryKeyword(ctx context.Context, query string, limit int) ([]*store.BM25Result, error)
	QuerySemantic(ctx context.Context, vector []float32, k int) ([]*store.VectorResult, error)
	QuerySymbols(ctx context.Context, q store.SymbolQuery) ([]*store.SymbolRecord, error)
	QueryFiles(ctx context.Context, pathQuery string, limit int) ([]*store.FileRecord, error)
	QueryPatterns(ctx context.Context, patternType string, limit int) ([]*store.PatternRecord, error)
	GetChunks(ctx context.Context, ids []string) ([]*chunk.Chunk, error)
	GetChunksByPath(ctx context.Context, path string) ([]*chunk.Chunk, error)
}

// Engine answers queries against the index store. Search validates the
// query, routes record collections (Files, Patterns, Symbols) to their
// lookup handlers, and dispatches the rest by Mode.
type Engine struct {
	store    Index
	embedder embed.Embedder
	reranker Reranker
	fusion   *RRFFusion
	config   Config

	// Query embeddings are cached so repeated queries skip the embedder.
	embedCache *lru.Cache[string, []float32]
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithReranker sets an optional reranker applied to the fused head of
// hybrid results. A nil or unavailable reranker is skipped silently.
func WithReranker(r Reranker) Option {
	return func(e *Engine) {
		e.reranker = r
	}
}

// NewEngine creates a search engine over the given index and embedder.
func NewEngine(idx Index, embedder embed.Embedder, config Config, opts ...Option) (*Engine, error) {
	if idx == nil {
		return nil, fmt.Errorf("%w: index store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}

	config = config.withDefaults()
	cache, err := lru.New[string, []float32](config.EmbedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embed cache: %w", err)
	}

	e := &Engine{
		store:      idx,
		embedder:   embedder,
		fusion:     NewRRFFusionWithK(config.RRFConstant),
		config:     config,
		embedCache: cache,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search executes one query. An empty index yields an empty response and a
// nil error. Hybrid searches degrade rather than fail when one leg breaks:
// the response carries Partial=true and the surviving leg's results.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return &Response{Results: []*Result{}}, nil
	}

	if q.Mode == "" {
		q.Mode = ModeHybrid
	}
	if !q.Mode.Valid() {
		return nil, engerrors.ValidationError(fmt.Sprintf("unknown search mode %q", q.Mode), nil)
	}
	if q.Collection != "" && !q.Collection.Valid() {
		return nil, engerrors.ValidationError(fmt.Sprintf("unknown collection %q", q.Collection), nil)
	}

	if q.Limit <= 0 {
		q.Limit = e.config.DefaultLimit
	}
	if q.Limit > e.config.MaxLimit {
		q.Limit = e.config.MaxLimit
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	// Files and Patterns are record collections answered by direct lookup;
	// the ranked modes apply to the chunk-backed collections only.
	var (
		resp *Response
		err  error
	)
	switch {
	case q.Collection == store.CollectionFiles:
		resp, err = e.searchFiles(ctx, q)
	case q.Collection == store.CollectionPatterns:
		resp, err = e.searchPatterns(ctx, q)
	case q.Collection == store.CollectionSymbols || q.Mode == ModeExact:
		resp, err = e.searchExact(ctx, q)
	case q.Mode == ModeKeyword:
		resp, err = e.searchKeyword(ctx, q)
	case q.Mode == ModeSemantic:
		resp, err = e.searchSemantic(ctx, q)
	default:
		resp, err = e.searchHybrid(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	resp.Results = filterByPath(resp.Results, q.FilePaths, q.ExcludePaths)
	resp.Results = filterByScore(resp.Results, q.MinScore)
	resp.Results = DedupOverlapping(resp.Results)
	if len(resp.Results) > q.Limit {
		resp.Results = resp.Results[:q.Limit]
	}
	return resp, nil
}

// searchExact resolves symbol names through the Symbols collection. Degraded
// chunks never enter that collection, so parse failures cannot pollute exact
// lookups.
func (e *Engine) searchExact(ctx context.Context, q Query) (*Response, error) {
	symbols, err := e.store.QuerySymbols(ctx, store.SymbolQuery{
		Name:  q.Text,
		Kinds: q.SymbolTypes,
		Limit: e.candidates(q.Limit),
	})
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		// Fall back to prefix matching so partial identifiers still resolve.
		symbols, err = e.store.QuerySymbols(ctx, store.SymbolQuery{
			Name:   q.Text,
			Prefix: true,
			Kinds:  q.SymbolTypes,
			Limit:  e.candidates(q.Limit),
		})
		if err != nil {
			return nil, err
		}
	}

	ids := make([]string, len(symbols))
	for i, s := range symbols {
		ids[i] = s.ChunkID
	}
	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	chunkByID := make(map[string]int, len(chunks))
	for i, c := range chunks {
		chunkByID[c.ID] = i
	}

	results := make([]*Result, 0, len(symbols))
	for _, s := range symbols {
		i, ok := chunkByID[s.ChunkID]
		if !ok {
			continue
		}
		score := 1.0
		if s.Name != q.Text {
			score = 0.5 // prefix match, not exact
		}
		results = append(results, &Result{
			Chunk:      chunks[i],
			Collection: store.CollectionSymbols,
			Score:      score,
			Stage:      StageExact,
			Symbol:     s,
		})
	}
	return &Response{Results: results}, nil
}

// searchKeyword runs the sparse leg only.
func (e *Engine) searchKeyword(ctx context.Context, q Query) (*Response, error) {
	hits, err := e.store.QueryKeyword(ctx, q.Text, e.candidates(q.Limit))
	if err != nil {
		return nil, err
	}
	results, err := e.keywordResults(ctx, hits)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results}, nil
}

// searchSemantic runs the dense leg only. An embedding failure here is an
// error; only hybrid mode degrades.
func (e *Engine) searchSemantic(ctx context.Context, q Query) (*Response, error) {
	vec, err := e.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, engerrors.EmbeddingError("embed query", err)
	}

	hits, err := e.store.QuerySemantic(ctx, vec, e.candidates(q.Limit))
	if err != nil {
		return nil, err
	}
	results, err := e.semanticResults(ctx, hits)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results}, nil
}

// searchFiles answers Files collection queries by path substring. Each hit
// carries the file's summary chunk when one was indexed.
func (e *Engine) searchFiles(ctx context.Context, q Query) (*Response, error) {
	files, err := e.store.QueryFiles(ctx, q.Text, e.candidates(q.Limit))
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(files))
	for _, f := range files {
		score := 0.5 // substring match
		if f.Path == q.Text || strings.HasSuffix(f.Path, "/"+q.Text) {
			score = 1.0
		}
		r := &Result{
			File:       f,
			Collection: store.CollectionFiles,
			Score:      score,
			Stage:      StageExact,
		}
		chunks, err := e.store.GetChunksByPath(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			if c.Kind == chunk.KindFile {
				r.Chunk = c
				break
			}
		}
		results = append(results, r)
	}
	SortByScore(results)
	return &Response{Results: results}, nil
}

// searchPatterns answers Patterns collection queries. Query text naming a
// pattern type returns that type's patterns; otherwise it matches against
// pattern names and descriptions. The store's usage-count order is kept.
func (e *Engine) searchPatterns(ctx context.Context, q Query) (*Response, error) {
	patterns, err := e.store.QueryPatterns(ctx, q.Text, e.candidates(q.Limit))
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		all, err := e.store.QueryPatterns(ctx, "", e.candidates(q.Limit))
		if err != nil {
			return nil, err
		}
		needle := strings.ToLower(q.Text)
		for _, p := range all {
			if strings.Contains(strings.ToLower(p.Name), needle) ||
				strings.Contains(strings.ToLower(p.Description), needle) {
				patterns = append(patterns, p)
			}
		}
	}

	results := make([]*Result, 0, len(patterns))
	for _, p := range patterns {
		results = append(results, &Result{
			Pattern:    p,
			Collection: store.CollectionPatterns,
			Score:      1.0,
			Stage:      StageExact,
		})
	}
	return &Response{Results: results}, nil
}

// searchHybrid runs both legs in parallel, fuses with RRF, optionally
// reranks the head, and marks the response Partial when a leg failed.
func (e *Engine) searchHybrid(ctx context.Context, q Query) (*Response, error) {
	candidates := e.candidates(q.Limit)

	var (
		kwHits  []*store.BM25Result
		vecHits []*store.VectorResult
		kwErr   error
		vecErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kwHits, kwErr = e.store.QueryKeyword(gctx, q.Text, candidates)
		return nil
	})
	g.Go(func() error {
		vec, err := e.embedQuery(gctx, q.Text)
		if err != nil {
			vecErr = err
			return nil
		}
		vecHits, vecErr = e.store.QuerySemantic(gctx, vec, candidates)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if kwErr != nil && vecErr != nil {
		return nil, engerrors.StorageError("both search legs failed", errors.Join(kwErr, vecErr))
	}

	// One leg down: answer from the other and flag the response.
	if vecErr != nil {
		slog.Warn("semantic leg failed, degrading to keyword only",
			slog.String("error", vecErr.Error()))
		results, err := e.keywordResults(ctx, kwHits)
		if err != nil {
			return nil, err
		}
		return &Response{Results: results, Partial: true}, nil
	}
	if kwErr != nil {
		slog.Warn("keyword leg failed, degrading to semantic only",
			slog.String("error", kwErr.Error()))
		// The dense leg already ran; reuse its hits instead of embedding
		// and querying again.
		results, err := e.semanticResults(ctx, vecHits)
		if err != nil {
			return nil, err
		}
		return &Response{Results: results, Partial: true}, nil
	}

	fused := e.fusion.Fuse(kwHits, vecHits)

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	chunkByID := make(map[string]int, len(chunks))
	for i, c := range chunks {
		chunkByID[c.ID] = i
	}

	results := make([]*Result, 0, len(fused))
	for _, f := range fused {
		i, ok := chunkByID[f.ChunkID]
		if !ok {
			continue
		}
		results = append(results, &Result{
			Chunk:         chunks[i],
			Collection:    store.CollectionSemantic,
			Score:         f.RRFScore,
			Stage:         StageFused,
			KeywordScore:  f.KeywordScore,
			KeywordRank:   f.KeywordRank,
			SemanticScore: f.SemanticScore,
			SemanticRank:  f.SemanticRank,
			MatchedTerms:  f.MatchedTerms,
		})
	}

	results = e.rerank(ctx, q, results)

	return &Response{Results: results}, nil
}

// rerank rescores the top RerankMultiplier*limit fused results. Failures and
// unavailability leave the fused order untouched.
func (e *Engine) rerank(ctx context.Context, q Query, results []*Result) []*Result {
	if e.reranker == nil || len(results) < 2 {
		return results
	}
	if !e.reranker.Available(ctx) {
		return results
	}

	head := len(results)
	if max := e.config.RerankMultiplier * q.Limit; head > max {
		head = max
	}

	docs := make([]string, head)
	for i := 0; i < head; i++ {
		docs[i] = results[i].Chunk.Content
	}

	reranked, err := e.reranker.Rerank(ctx, q.Text, docs, 0)
	if err != nil {
		slog.Warn("reranking failed, keeping fused order",
			slog.String("error", err.Error()))
		return results
	}

	reordered := make([]*Result, 0, len(results))
	for _, rr := range reranked {
		if rr.Index < 0 || rr.Index >= head {
			continue
		}
		r := results[rr.Index]
		r.Score = rr.Score
		r.Stage = StageReranked
		reordered = append(reordered, r)
	}
	// The tail beyond the reranked head keeps its fused order.
	reordered = append(reordered, results[head:]...)
	return reordered
}

// keywordResults turns BM25 hits into enriched results.
func (e *Engine) keywordResults(ctx context.Context, hits []*store.BM25Result) ([]*Result, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	chunkByID := make(map[string]int, len(chunks))
	for i, c := range chunks {
		chunkByID[c.ID] = i
	}

	results := make([]*Result, 0, len(hits))
	for rank, h := range hits {
		i, ok := chunkByID[h.DocID]
		if !ok {
			continue
		}
		results = append(results, &Result{
			Chunk:        chunks[i],
			Collection:   store.CollectionSemantic,
			Score:        h.Score,
			Stage:        StageKeyword,
			KeywordScore: h.Score,
			KeywordRank:  rank + 1,
			MatchedTerms: h.MatchedTerms,
		})
	}
	return results, nil
}

// semanticResults turns vector hits into enriched results.
func (e *Engine) semanticResults(ctx context.Context, hits []*store.VectorResult) ([]*Result, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	chunkByID := make(map[string]int, len(chunks))
	for i, c := range chunks {
		chunkByID[c.ID] = i
	}

	results := make([]*Result, 0, len(hits))
	for rank, h := range hits {
		i, ok := chunkByID[h.ID]
		if !ok {
			continue
		}
		results = append(results, &Result{
			Chunk:         chunks[i],
			Collection:    store.CollectionSemantic,
			Score:         float64(h.Score),
			Stage:         StageSemantic,
			SemanticScore: float64(h.Score),
			SemanticRank:  rank + 1,
		})
	}
	return results, nil
}

// embedQuery embeds the query text, consulting the LRU cache first.
func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.embedCache.Get(text); ok {
		return vec, nil
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.embedCache.Add(text, vec)
	return vec, nil
}

// candidates returns the per-leg candidate pull for a requested limit.
func (e *Engine) candidates(limit int) int {
	return e.config.CandidateMultiplier * limit
}
