package pipeline

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"reconcile/internal"
	"reconcile/internal/catalog"
	"reconcile/internal/util"
)

type ScoreFunc func(input, searchKey string) int

type MatcherOption func(*Matcher)

func WithScoreFunc(f ScoreFunc) MatcherOption {
	return func(m *Matcher) {
		if f != nil {
			m.score = f
		}
	}
}

func WithThresholds(ok, review int) MatcherOption {
	return func(m *Matcher) {
		m.okThreshold = ok
		m.reviewThreshold = review
	}
}

func WithMatcherLogger(log *zap.Logger) MatcherOption {
	return func(m *Matcher) {
		if log != nil {
			m.log = log
		}
	}
}

// Matcher scores cleaned text against one tenant's index. It owns the run's
// match cache and is discarded with the run.
type Matcher struct {
	index           *catalog.Index
	cache           *MatchCache
	score           ScoreFunc
	okThreshold     int
	reviewThreshold int
	scans           atomic.Int64
	warnOnce        sync.Once
	log             *zap.Logger
}

func NewMatcher(index *catalog.Index, opts ...MatcherOption) *Matcher {
	if index == nil {
		index = &catalog.Index{}
	}
	m := &Matcher{
		index:           index,
		cache:           NewMatchCache(),
		score:           util.TokenSortRatio,
		okThreshold:     90,
		reviewThreshold: 60,
		log:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns the best index entry for cleaned. Identical cleaned text is
// scored once per run.
func (m *Matcher) Match(cleaned string) internal.MatchResult {
	if cleaned == "" {
		return zeroMatch()
	}
	if m.index.Empty() {
		m.warnOnce.Do(func() {
			m.log.Warn("catalog index is empty, every row will score 0",
				zap.String("tenant", string(m.index.Tenant)),
				zap.Error(internal.ConfigurationWarning("no catalog or pending staging entries")))
		})
		return zeroMatch()
	}
	return m.cache.Get(cleaned, func() internal.MatchResult { return m.scan(cleaned) })
}

// Scans reports how many full index scans this matcher has run.
func (m *Matcher) Scans() int64 {
	return m.scans.Load()
}

func (m *Matcher) Cache() *MatchCache {
	return m.cache
}

func (m *Matcher) scan(cleaned string) internal.MatchResult {
	m.scans.Add(1)

	best := -1
	bestScore := 0
	for i, e := range m.index.Entries {
		// strictly greater keeps the first entry on ties
		if s := m.score(cleaned, e.SearchKey); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return zeroMatch()
	}

	hit := m.index.Entries[best]
	matched, missing := util.TokenOverlap(cleaned, hit.SearchKey)
	return internal.MatchResult{
		BestMatchKey:    hit.SearchKey,
		SimilarityScore: bestScore,
		MatchedTokens:   matched,
		MissingTokens:   missing,
		CatalogID:       hit.Entry.CatalogID,
		Categoria:       hit.Entry.Categoria,
		Variedad:        hit.Entry.Variedad,
		Color:           hit.Entry.Color,
		Grado:           hit.Entry.Grado,
		Source:          hit.Source,
		Status:          m.status(bestScore),
	}
}

func (m *Matcher) status(score int) internal.MatchStatus {
	switch {
	case score >= m.okThreshold:
		return internal.MatchOK
	case score >= m.reviewThreshold:
		return internal.MatchReview
	default:
		return internal.MatchNotFound
	}
}

func zeroMatch() internal.MatchResult {
	return internal.MatchResult{
		MatchedTokens: []string{},
		MissingTokens: []string{},
		Source:        internal.SourceNone,
		Status:        internal.MatchNotFound,
	}
}

// MatchCache memoizes results by cleaned text for one run.
// Concurrent lookups of the same text share a single computation.
type MatchCache struct {
	mu      sync.RWMutex
	entries map[string]internal.MatchResult
	group   singleflight.Group
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewMatchCache() *MatchCache {
	return &MatchCache{entries: map[string]internal.MatchResult{}}
}

func (c *MatchCache) Get(key string, compute func() internal.MatchResult) internal.MatchResult {
	c.mu.RLock()
	res, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return cloneMatch(res)
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		res, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return res, nil
		}
		c.misses.Add(1)
		res = compute()
		c.mu.Lock()
		c.entries[key] = res
		c.mu.Unlock()
		return res, nil
	})
	return cloneMatch(v.(internal.MatchResult))
}

func (c *MatchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MatchCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func cloneMatch(r internal.MatchResult) internal.MatchResult {
	r.MatchedTokens = append([]string{}, r.MatchedTokens...)
	r.MissingTokens = append([]string{}, r.MissingTokens...)
	return r
}
