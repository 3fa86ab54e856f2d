package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/dshills/repoindex/internal/lexical"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// SearchMode defines which indices a search consults
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Semantic + lexical, interleaved
	SearchModeVector  SearchMode = "vector"  // Semantic index only
	SearchModeKeyword SearchMode = "keyword" // Lexical index only
)

// Defaults applied by validateRequest and New
const (
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 10 * time.Minute
)

// maxLexicalFetch caps the corpus-wide lexical over-fetch
const maxLexicalFetch = 1000

// ParseMode converts a user supplied mode name. The empty string selects hybrid.
func ParseMode(s string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(s)) {
	case "", SearchModeHybrid:
		return SearchModeHybrid, nil
	case SearchModeVector:
		return SearchModeVector, nil
	case SearchModeKeyword:
		return SearchModeKeyword, nil
	}
	return "", fmt.Errorf("%w: unsupported search mode %q", types.ErrConfiguration, s)
}

// SemanticSearcher is the vector side of a hybrid search
type SemanticSearcher interface {
	Search(ctx context.Context, query string, k int, namespaceIDs []int64) ([]storage.ChunkHit, error)
}

// LexicalSearcher is the full-text side of a hybrid search. A nil namespace
// searches the whole corpus.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, k int, ns *types.Namespace) ([]lexical.Hit, error)
}

// ChunkChecker confirms lexical hits against the semantic store
type ChunkChecker interface {
	ExistingChunkIDs(ctx context.Context, ids []string, namespaceIDs []int64) (map[string]bool, error)
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query      string
	Limit      int // Hits requested from each index
	Mode       SearchMode
	Namespaces []*types.Namespace // Generations to search; empty matches nothing
	UseCache   bool
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results       []types.SearchResult
	TotalResults  int
	SearchMode    SearchMode
	Duration      time.Duration
	CacheHit      bool
	VectorResults int
	TextResults   int
	Dropped       int // Lexical hits no longer present in the semantic store
}

// Searcher coordinates search operations across the semantic and lexical indices
type Searcher struct {
	semantic SemanticSearcher
	lexical  LexicalSearcher
	checker  ChunkChecker
	cache    *expirable.LRU[[32]byte, *SearchResponse]
	logger   *zap.Logger
}

// Option configures a Searcher
type Option func(*Searcher)

// WithCache sets the response cache size and lifetime. A size of zero disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(s *Searcher) {
		if size <= 0 {
			s.cache = nil
			return
		}
		s.cache = expirable.NewLRU[[32]byte, *SearchResponse](size, nil, ttl)
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Searcher. Either index may be nil, in which case only the
// modes served by the other one are available.
func New(sem SemanticSearcher, lex LexicalSearcher, checker ChunkChecker, opts ...Option) *Searcher {
	s := &Searcher{
		semantic: sem,
		lexical:  lex,
		checker:  checker,
		cache:    expirable.NewLRU[[32]byte, *SearchResponse](DefaultCacheSize, nil, DefaultCacheTTL),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if len(req.Namespaces) == 0 {
		return &SearchResponse{SearchMode: req.Mode, Duration: time.Since(startTime)}, nil
	}

	useCache := req.UseCache && s.cache != nil
	var key [32]byte
	if useCache {
		key = computeQueryHash(req)
		if cached, ok := s.cache.Get(key); ok {
			resp := copySearchResponse(cached)
			resp.CacheHit = true
			resp.Duration = time.Since(startTime)
			return resp, nil
		}
	}

	var response *SearchResponse
	var err error

	switch req.Mode {
	case SearchModeHybrid:
		response, err = s.hybridSearch(ctx, req)
	case SearchModeVector:
		response, err = s.vectorSearch(ctx, req)
	case SearchModeKeyword:
		response, err = s.keywordSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	assignRanks(response.Results)
	response.TotalResults = len(response.Results)
	response.Duration = time.Since(startTime)
	response.SearchMode = req.Mode

	if useCache && len(response.Results) > 0 {
		s.cache.Add(key, copySearchResponse(response))
	}

	return response, nil
}

// searchResult holds results from one side of a concurrent hybrid search
type searchResult struct {
	results []types.SearchResult
	dropped int
	err     error
}

// hybridSearch queries both indices concurrently and interleaves their rankings
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vectorChan := make(chan searchResult, 1)
	textChan := make(chan searchResult, 1)

	go func() {
		results, err := s.semanticResults(ctx, req)
		vectorChan <- searchResult{results: results, err: err}
	}()
	go func() {
		results, dropped, err := s.lexicalResults(ctx, req)
		textChan <- searchResult{results: results, dropped: dropped, err: err}
	}()

	var vectorRes, textRes searchResult
	var vectorDone, textDone bool
	for !vectorDone || !textDone {
		select {
		case vectorRes = <-vectorChan:
			vectorDone = true
		case textRes = <-textChan:
			textDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// One side may fail; the other still answers
	if vectorRes.err != nil && textRes.err != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%w", vectorRes.err, textRes.err)
	}
	if vectorRes.err != nil {
		s.logger.Warn("semantic search failed", zap.Error(vectorRes.err))
	}
	if textRes.err != nil {
		s.logger.Warn("lexical search failed", zap.Error(textRes.err))
	}

	return &SearchResponse{
		Results:       interleave(vectorRes.results, textRes.results),
		VectorResults: len(vectorRes.results),
		TextResults:   len(textRes.results),
		Dropped:       textRes.dropped,
	}, nil
}

// vectorSearch performs only semantic similarity search
func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	results, err := s.semanticResults(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Results: results, VectorResults: len(results)}, nil
}

// keywordSearch performs only lexical search
func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	results, dropped, err := s.lexicalResults(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Results: results, TextResults: len(results), Dropped: dropped}, nil
}

func (s *Searcher) semanticResults(ctx context.Context, req SearchRequest) ([]types.SearchResult, error) {
	if s.semantic == nil {
		return nil, errors.New("semantic index not configured")
	}
	hits, err := s.semantic.Search(ctx, req.Query, req.Limit, namespaceIDs(req.Namespaces))
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, types.SearchResult{
			ChunkID:  h.Chunk.ID,
			Score:    h.Score,
			Origin:   types.OriginSemantic,
			RepoID:   h.RepoSlug,
			Ref:      h.Ref,
			Source:   h.Chunk.Source,
			Content:  h.Chunk.Content,
			Metadata: h.Chunk.Metadata,
		})
	}
	return results, nil
}

// lexicalResults searches the lexical index and drops hits whose chunk is
// not stored in one of the requested namespaces. The lexical index may lag
// or hold rows of deleted generations; the semantic store decides.
func (s *Searcher) lexicalResults(ctx context.Context, req SearchRequest) ([]types.SearchResult, int, error) {
	if s.lexical == nil {
		return nil, 0, errors.New("lexical index not configured")
	}

	// A single namespace is filtered inside the index. Several are searched
	// corpus-wide and narrowed by the existence check below, so other refs
	// must not use up the k slots.
	var scope *types.Namespace
	fetch := req.Limit
	if len(req.Namespaces) == 1 {
		scope = req.Namespaces[0]
	} else {
		fetch = min(req.Limit*max(len(req.Namespaces), 1), maxLexicalFetch)
	}

	hits, err := s.lexical.Search(ctx, req.Query, fetch, scope)
	if err != nil {
		return nil, 0, fmt.Errorf("lexical search: %w", err)
	}
	if len(hits) == 0 {
		return nil, 0, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	var existing map[string]bool
	if s.checker != nil {
		existing, err = s.checker.ExistingChunkIDs(ctx, ids, namespaceIDs(req.Namespaces))
		if err != nil {
			return nil, 0, fmt.Errorf("verify lexical hits: %w", err)
		}
	}

	results := make([]types.SearchResult, 0, len(hits))
	dropped := 0
	for _, h := range hits {
		if existing != nil && !existing[h.DocID] {
			dropped++
			continue
		}
		if len(results) == req.Limit {
			break
		}
		results = append(results, types.SearchResult{
			ChunkID:  h.DocID,
			Score:    h.Score,
			Origin:   types.OriginLexical,
			RepoID:   h.RepoID,
			Ref:      h.Ref,
			Source:   h.Source,
			Content:  h.Content,
			Metadata: h.Metadata,
		})
	}
	if dropped > 0 {
		s.logger.Debug("dropped stale lexical hits", zap.Int("dropped", dropped))
	}
	return results, dropped, nil
}

// interleave merges two rankings position by position, semantic first, keeping
// the first (higher ranked) occurrence of every chunk id.
func interleave(semantic, lexical []types.SearchResult) []types.SearchResult {
	merged := make([]types.SearchResult, 0, len(semantic)+len(lexical))
	seen := make(map[string]bool, len(semantic)+len(lexical))
	add := func(r types.SearchResult) {
		if seen[r.ChunkID] {
			return
		}
		seen[r.ChunkID] = true
		merged = append(merged, r)
	}

	for i := 0; i < max(len(semantic), len(lexical)); i++ {
		if i < len(semantic) {
			add(semantic[i])
		}
		if i < len(lexical) {
			add(lexical[i])
		}
	}
	return merged
}

func assignRanks(results []types.SearchResult) {
	for i := range results {
		results[i].Rank = i + 1
	}
}

func namespaceIDs(namespaces []*types.Namespace) []int64 {
	ids := make([]int64, 0, len(namespaces))
	for _, ns := range namespaces {
		ids = append(ids, ns.ID)
	}
	return ids
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}

	return nil
}

// InvalidateCache drops every cached response. Called after an index update.
func (s *Searcher) InvalidateCache() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		dst.Results[i].Metadata = maps.Clone(r.Metadata)
	}
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	ids := namespaceIDs(req.Namespaces)
	slices.Sort(ids)

	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(req.Limit))
	data.WriteString("|ns:")
	for i, id := range ids {
		if i > 0 {
			data.WriteString(",")
		}
		data.WriteString(strconv.FormatInt(id, 10))
	}

	return sha256.Sum256([]byte(data.String()))
}
