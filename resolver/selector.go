// Package resolver drives a classified link through provider selection,
// remote job polling and file selection.
package resolver

import (
	"context"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"onedl/debrid"
	"onedl/internal"
)

// Candidate is a provider able to handle a link, with its cache answer
type Candidate struct {
	Provider debrid.Provider
	Cache    internal.CacheStatus
}

// Selector ranks providers for a link
type Selector struct {
	providers []debrid.Provider
	priority  map[internal.ProviderName]int
	cache     *xsync.Map[string, internal.CacheStatus]
}

// NewSelector creates a selector over providers. priority breaks ties;
// providers missing from it rank after every listed one.
func NewSelector(providers []debrid.Provider, priority []internal.ProviderName) *Selector {
	if len(priority) == 0 {
		priority = internal.DefaultPriority
	}
	rank := make(map[internal.ProviderName]int, len(priority))
	for i, p := range priority {
		if _, ok := rank[p]; !ok {
			rank[p] = i
		}
	}
	return &Selector{
		providers: providers,
		priority:  rank,
		cache:     xsync.NewMap[string, internal.CacheStatus](),
	}
}

// Select returns the candidates for link, best first. A non-empty explicit
// name bypasses ranking and returns only that provider.
func (s *Selector) Select(ctx context.Context, link internal.Link, explicit internal.ProviderName) ([]Candidate, error) {
	if explicit != "" {
		return s.selectExplicit(link, explicit)
	}

	var candidates []Candidate
	for _, p := range s.providers {
		if p.Configured() && p.Supports(link) {
			candidates = append(candidates, Candidate{Provider: p, Cache: internal.CacheUnknown})
		}
	}
	if len(candidates) == 0 {
		return nil, internal.NewUnsupportedLinkError(link, "no configured provider supports it").
			WithSuggestion("Set an API token for a provider that handles this link type")
	}

	if link.Kind == internal.KindMagnet || link.Kind == internal.KindHoster {
		s.checkCached(ctx, link, candidates)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i].Cache == internal.CacheCached, candidates[j].Cache == internal.CacheCached
		if ci != cj {
			return ci
		}
		return s.rank(candidates[i].Provider.Name()) < s.rank(candidates[j].Provider.Name())
	})

	for _, c := range candidates {
		internal.LogDebug("Candidate %s (%s)", c.Provider.Name(), c.Cache)
	}
	return candidates, nil
}

func (s *Selector) selectExplicit(link internal.Link, name internal.ProviderName) ([]Candidate, error) {
	for _, p := range s.providers {
		if p.Name() != name {
			continue
		}
		if !p.Configured() {
			return nil, internal.NewUnsupportedLinkError(link, name.DisplayName()+" has no API token configured")
		}
		if !p.Supports(link) {
			return nil, internal.NewUnsupportedLinkError(link, name.DisplayName()+" does not support it")
		}
		return []Candidate{{Provider: p, Cache: internal.CacheUnknown}}, nil
	}
	return nil, internal.NewUnsupportedLinkError(link, "unknown provider "+string(name))
}

// checkCached queries every candidate concurrently. Failures count as unknown.
func (s *Selector) checkCached(ctx context.Context, link internal.Link, candidates []Candidate) {
	g, gctx := errgroup.WithContext(ctx)
	for i := range candidates {
		c := &candidates[i]
		key := string(c.Provider.Name()) + "|" + link.Raw
		if status, ok := s.cache.Load(key); ok {
			c.Cache = status
			continue
		}
		g.Go(func() error {
			status, err := c.Provider.CheckCached(gctx, link)
			if err != nil {
				internal.LogDebug("Cache check on %s failed: %v", c.Provider.Name(), err)
				c.Cache = internal.CacheUnknown
				return nil
			}
			c.Cache = status
			s.cache.Store(key, status)
			return nil
		})
	}
	g.Wait()
}

func (s *Selector) rank(name internal.ProviderName) int {
	if r, ok := s.priority[name]; ok {
		return r
	}
	return len(s.priority)
}
