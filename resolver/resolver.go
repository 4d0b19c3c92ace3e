package resolver

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"onedl/debrid"
	"onedl/internal"
	"onedl/utils"
)

// FolderResolver lists files behind links that need no debrid provider
type FolderResolver interface {
	Resolve(ctx context.Context, link internal.Link) ([]internal.ResolvedFile, error)
}

// Options tune a single resolution
type Options struct {
	Provider  internal.ProviderName // empty lets the selector choose
	Selection string                // file selection, empty means all
}

// Attempt records one provider tried for a link
type Attempt struct {
	Provider internal.ProviderName `json:"provider"`
	Cache    string                `json:"cache"`
	Error    string                `json:"error,omitempty"`
}

// Resolution is the outcome of resolving one link
type Resolution struct {
	Link      internal.Link           `json:"link"`
	Provider  internal.ProviderName   `json:"provider,omitempty"`
	Files     []internal.ResolvedFile `json:"files"`
	Available int                     `json:"available"`
	Attempts  []Attempt               `json:"attempts,omitempty"`

	all []internal.ResolvedFile
}

// Select narrows Files to input over every resolved file. After an
// InvalidSelection error Files holds the full list, and Select may be called
// again without resolving the link a second time.
func (res *Resolution) Select(input string) error {
	files, err := ParseSelection(input, res.all)
	if err != nil {
		res.Files = append([]internal.ResolvedFile(nil), res.all...)
		return err
	}
	res.Files = files
	return nil
}

// Resolver turns raw user input into downloadable files
type Resolver struct {
	classifier internal.LinkClassifier
	selector   *Selector
	poller     *Poller
	mega       FolderResolver
	parallel   int
}

// New wires a resolver from its collaborators
func New(cfg *internal.Config, classifier internal.LinkClassifier, providers []debrid.Provider, mega FolderResolver) *Resolver {
	parallel := cfg.Parallel
	if parallel < 1 {
		parallel = 1
	}
	return &Resolver{
		classifier: classifier,
		selector:   NewSelector(providers, cfg.ProviderPriority),
		poller:     NewPoller(cfg),
		mega:       mega,
		parallel:   parallel,
	}
}

// Poller exposes the job poller so callers can observe progress
func (r *Resolver) Poller() *Poller {
	return r.poller
}

// Selector exposes the provider selector
func (r *Resolver) Selector() *Selector {
	return r.selector
}

// Classify runs the configured link classifier
func (r *Resolver) Classify(raw string) (internal.Link, error) {
	return r.classifier.Classify(raw)
}

// Resolve classifies raw and produces its selected files. An invalid
// opts.Selection returns the Resolution with every file alongside the error.
func (r *Resolver) Resolve(ctx context.Context, raw string, opts Options) (*Resolution, error) {
	link, err := r.classifier.Classify(raw)
	if err != nil {
		return nil, err
	}
	internal.LogDebug("Classified %s as %s", raw, link.Kind)

	res := &Resolution{Link: link}
	switch {
	case link.Kind == internal.KindDirect:
		res.Files = []internal.ResolvedFile{{
			Index:     1,
			Name:      utils.FileNameFromURL(link.Raw, "download"),
			DirectURL: link.Raw,
		}}
	case link.Kind.IsMega():
		if r.mega == nil {
			return nil, internal.NewUnsupportedLinkError(link, "MEGA resolution is not available")
		}
		if res.Files, err = r.mega.Resolve(ctx, link); err != nil {
			return nil, err
		}
	default:
		if err := r.resolveWithProviders(ctx, link, opts.Provider, res); err != nil {
			return nil, err
		}
	}

	res.all = res.Files
	res.Available = len(res.all)
	if err := res.Select(opts.Selection); err != nil {
		return res, err
	}
	return res, nil
}

// resolveWithProviders tries each ranked candidate until one yields files
func (r *Resolver) resolveWithProviders(ctx context.Context, link internal.Link, explicit internal.ProviderName, res *Resolution) error {
	candidates, err := r.selector.Select(ctx, link, explicit)
	if err != nil {
		return err
	}

	var failures []error
	for _, c := range candidates {
		name := c.Provider.Name()
		internal.LogInfo("Trying %s for %s link (%s)", name.DisplayName(), link.Kind, c.Cache)

		files, err := r.tryProvider(ctx, c.Provider, link)
		attempt := Attempt{Provider: name, Cache: c.Cache.String()}
		if err == nil {
			res.Provider = name
			res.Files = files
			res.Attempts = append(res.Attempts, attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt.Error = err.Error()
		res.Attempts = append(res.Attempts, attempt)
		if !fallsThrough(err) {
			return err
		}
		internal.LogWarn("%s failed: %v", name.DisplayName(), err)
		failures = append(failures, fmt.Errorf("%s: %w", name, err))
	}
	return internal.NewResolutionError(link, failures)
}

func (r *Resolver) tryProvider(ctx context.Context, provider debrid.Provider, link internal.Link) ([]internal.ResolvedFile, error) {
	job, err := retryTransient(ctx, r.poller.TransientRetries, r.poller.TransientBackoff, func() (*internal.RemoteJob, error) {
		return provider.Submit(ctx, link)
	})
	if err != nil {
		return nil, err
	}
	internal.LogDebug("Submitted to %s as %s (job %s)", provider.Name(), job.RemoteID, job.ID)

	files, err := r.poller.ResolveJob(ctx, provider, job)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, internal.NewRemoteJobFailedError(job, "provider returned no files")
	}
	return files, nil
}

// fallsThrough reports whether the next candidate should be tried after err
func fallsThrough(err error) bool {
	var re *internal.ResolveError
	if errors.As(err, &re) {
		return re.FallsThrough()
	}
	return !errors.Is(err, context.Canceled)
}

// LinkResult pairs an input with its resolution or failure
type LinkResult struct {
	Input      string
	Resolution *Resolution
	Err        error
}

// ResolveAll resolves every input concurrently, bounded by the configured
// parallelism. Each link succeeds or fails independently; results keep input order.
func (r *Resolver) ResolveAll(ctx context.Context, raws []string, opts Options) []LinkResult {
	results := make([]LinkResult, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, raw := range raws {
		g.Go(func() error {
			res, err := r.Resolve(gctx, raw, opts)
			results[i] = LinkResult{Input: raw, Resolution: res, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}
