package resolver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"onedl/internal"
)

// fakeProvider replays a scripted sequence of poll snapshots
type fakeProvider struct {
	name       internal.ProviderName
	configured bool
	kinds      map[internal.LinkKind]bool
	cache      internal.CacheStatus
	cacheErr   error
	cacheDelay time.Duration

	submitErrs []error // returned in order before a successful submit
	secondary  bool
	snapshots  []internal.JobSnapshot
	pollErrs   map[int]error // poll number (1-based) -> error, consumed once
	files      []internal.ResolvedFile

	mu          sync.Mutex
	submits     atomic.Int32
	polls       atomic.Int32
	lists       atomic.Int32
	cacheChecks atomic.Int32
}

func newFake(name internal.ProviderName, kinds ...internal.LinkKind) *fakeProvider {
	f := &fakeProvider{
		name:       name,
		configured: true,
		kinds:      make(map[internal.LinkKind]bool),
		pollErrs:   make(map[int]error),
		snapshots: []internal.JobSnapshot{
			{Status: internal.JobReady, Progress: 100},
		},
		files: []internal.ResolvedFile{
			{Name: string(name) + "-a.mkv", Size: 10, DirectURL: "https://cdn.example/" + string(name) + "/a"},
			{Name: string(name) + "-b.srt", Size: 1, DirectURL: "https://cdn.example/" + string(name) + "/b"},
		},
	}
	for _, k := range kinds {
		f.kinds[k] = true
	}
	return f
}

func (f *fakeProvider) Name() internal.ProviderName { return f.name }
func (f *fakeProvider) Configured() bool            { return f.configured }

func (f *fakeProvider) Supports(link internal.Link) bool {
	return f.kinds[link.Kind]
}

func (f *fakeProvider) CheckCached(ctx context.Context, link internal.Link) (internal.CacheStatus, error) {
	f.cacheChecks.Add(1)
	if f.cacheDelay > 0 {
		select {
		case <-time.After(f.cacheDelay):
		case <-ctx.Done():
			return internal.CacheUnknown, ctx.Err()
		}
	}
	return f.cache, f.cacheErr
}

func (f *fakeProvider) Submit(ctx context.Context, link internal.Link) (*internal.RemoteJob, error) {
	n := int(f.submits.Add(1))
	if n <= len(f.submitErrs) {
		return nil, f.submitErrs[n-1]
	}
	job := internal.NewRemoteJob(f.name, internal.JobKindTorrent, fmt.Sprintf("%s-%d", f.name, n), link)
	job.NeedsSecondaryStage = f.secondary
	return job, nil
}

func (f *fakeProvider) Poll(ctx context.Context, job *internal.RemoteJob) (*internal.JobSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int(f.polls.Add(1))

	f.mu.Lock()
	err, ok := f.pollErrs[n]
	if ok {
		delete(f.pollErrs, n)
	}
	f.mu.Unlock()
	if ok {
		return nil, err
	}

	i := n - 1
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}
	snap := f.snapshots[i]
	return &snap, nil
}

func (f *fakeProvider) ListFiles(ctx context.Context, job *internal.RemoteJob) ([]internal.ResolvedFile, error) {
	f.lists.Add(1)
	if !job.Ready() {
		return nil, internal.NewNotReadyError(job)
	}
	return append([]internal.ResolvedFile(nil), f.files...), nil
}

func snapshots(statuses ...internal.JobStatus) []internal.JobSnapshot {
	out := make([]internal.JobSnapshot, len(statuses))
	for i, s := range statuses {
		out[i] = internal.JobSnapshot{Status: s}
	}
	return out
}

func fastPoller() *Poller {
	return &Poller{
		Interval:         time.Millisecond,
		Timeout:          2 * time.Second,
		TransientRetries: 2,
		TransientBackoff: time.Millisecond,
	}
}

func transientErr(p internal.ProviderName) error {
	return internal.NewProviderError(p, internal.ProviderTransient, "connection reset")
}

var (
	magnet = internal.Link{Raw: "magnet:?xt=urn:btih:abc", Kind: internal.KindMagnet, InfoHash: "abc"}
	hoster = internal.Link{Raw: "https://1fichier.com/?abc", Kind: internal.KindHoster, Host: "1fichier.com"}
)
