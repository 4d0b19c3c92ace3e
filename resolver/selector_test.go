package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"onedl/debrid"
	"onedl/internal"
)

func names(candidates []Candidate) []internal.ProviderName {
	out := make([]internal.ProviderName, len(candidates))
	for i, c := range candidates {
		out[i] = c.Provider.Name()
	}
	return out
}

func TestSelector_CachedFirst(t *testing.T) {
	a := newFake(internal.TorBox, internal.KindMagnet)
	a.cache = internal.CacheCached
	b := newFake(internal.RealDebrid, internal.KindMagnet)
	b.cache = internal.CacheNotCached

	// b has the higher configured priority
	s := NewSelector([]debrid.Provider{b, a}, internal.DefaultPriority)
	got, err := s.Select(context.Background(), magnet, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Provider.Name() != internal.TorBox || got[0].Cache != internal.CacheCached {
		t.Errorf("order = %v", names(got))
	}
}

func TestSelector_PriorityBreaksTies(t *testing.T) {
	rd := newFake(internal.RealDebrid, internal.KindHoster)
	ad := newFake(internal.AllDebrid, internal.KindHoster)
	pm := newFake(internal.Premiumize, internal.KindHoster)
	pm.cacheErr = errors.New("boom")

	priority := []internal.ProviderName{internal.Premiumize, internal.AllDebrid, internal.RealDebrid}
	got, err := NewSelector([]debrid.Provider{rd, ad, pm}, priority).Select(context.Background(), hoster, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []internal.ProviderName{internal.Premiumize, internal.AllDebrid, internal.RealDebrid}
	for i := range want {
		if got[i].Provider.Name() != want[i] {
			t.Fatalf("order = %v, want %v", names(got), want)
		}
	}
	if got[0].Cache != internal.CacheUnknown {
		t.Errorf("failed cache check should be unknown, got %s", got[0].Cache)
	}
}

func TestSelector_FiltersUnconfiguredAndUnsupported(t *testing.T) {
	rd := newFake(internal.RealDebrid, internal.KindHoster)
	rd.configured = false
	tb := newFake(internal.TorBox, internal.KindMagnet)

	_, err := NewSelector([]debrid.Provider{rd, tb}, nil).Select(context.Background(), hoster, "")
	if !internal.IsErrorType(err, internal.ErrUnsupportedLink) {
		t.Fatalf("expected UnsupportedLinkError, got %v", err)
	}
	if rd.cacheChecks.Load() != 0 || tb.cacheChecks.Load() != 0 {
		t.Error("filtered providers were asked for cache status")
	}
}

func TestSelector_Explicit(t *testing.T) {
	rd := newFake(internal.RealDebrid, internal.KindMagnet)
	ad := newFake(internal.AllDebrid, internal.KindMagnet)
	ad.cache = internal.CacheCached
	unset := newFake(internal.Premiumize, internal.KindMagnet)
	unset.configured = false
	s := NewSelector([]debrid.Provider{rd, ad, unset}, nil)

	got, err := s.Select(context.Background(), magnet, internal.RealDebrid)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Provider.Name() != internal.RealDebrid {
		t.Errorf("explicit selection = %v", names(got))
	}
	if ad.cacheChecks.Load() != 0 {
		t.Error("explicit selection should skip ranking")
	}

	tests := []struct {
		name string
		link internal.Link
		p    internal.ProviderName
	}{
		{"unsupported_kind", hoster, internal.RealDebrid},
		{"unconfigured", magnet, internal.Premiumize},
		{"unknown", magnet, internal.TorBox},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Select(context.Background(), tt.link, tt.p)
			if !internal.IsErrorType(err, internal.ErrUnsupportedLink) {
				t.Errorf("expected UnsupportedLinkError, got %v", err)
			}
		})
	}
}

func TestSelector_CacheChecksRunConcurrently(t *testing.T) {
	var providers []debrid.Provider
	for _, name := range internal.DefaultPriority {
		f := newFake(name, internal.KindMagnet)
		f.cacheDelay = 50 * time.Millisecond
		providers = append(providers, f)
	}

	start := time.Now()
	if _, err := NewSelector(providers, nil).Select(context.Background(), magnet, ""); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("cache checks took %v, expected them to overlap", elapsed)
	}
}

func TestSelector_MemoizesCacheStatus(t *testing.T) {
	f := newFake(internal.RealDebrid, internal.KindMagnet)
	f.cache = internal.CacheCached
	s := NewSelector([]debrid.Provider{f}, nil)

	for i := 0; i < 3; i++ {
		got, err := s.Select(context.Background(), magnet, "")
		if err != nil || got[0].Cache != internal.CacheCached {
			t.Fatalf("select %d = %+v, %v", i, got, err)
		}
	}
	if f.cacheChecks.Load() != 1 {
		t.Errorf("cache checks = %d, want 1", f.cacheChecks.Load())
	}
}

func TestSelector_ContainersSkipCacheCheck(t *testing.T) {
	f := newFake(internal.TorBox, internal.KindNZBContainer)
	link := internal.Link{Raw: "/tmp/x.nzb", Kind: internal.KindNZBContainer, Path: "/tmp/x.nzb"}
	if _, err := NewSelector([]debrid.Provider{f}, nil).Select(context.Background(), link, ""); err != nil {
		t.Fatal(err)
	}
	if f.cacheChecks.Load() != 0 {
		t.Error("container links should not be cache checked")
	}
}
