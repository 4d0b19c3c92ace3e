package resolver

import (
	"context"
	"time"

	"onedl/debrid"
	"onedl/internal"
)

// Poller drives a RemoteJob to a terminal state and lists its files
type Poller struct {
	Interval         time.Duration
	Timeout          time.Duration
	MaxAttempts      int // 0 means bounded by Timeout only
	TransientRetries int
	TransientBackoff time.Duration

	// OnUpdate, when set, observes the job after every poll
	OnUpdate func(job *internal.RemoteJob, snap *internal.JobSnapshot)
}

// NewPoller creates a poller from the configured poll settings
func NewPoller(cfg *internal.Config) *Poller {
	return &Poller{
		Interval:         cfg.PollInterval,
		Timeout:          cfg.PollTimeout,
		MaxAttempts:      cfg.MaxPollAttempts,
		TransientRetries: cfg.TransientRetries,
		TransientBackoff: cfg.TransientBackoff,
	}
}

// ResolveJob polls job until it is ready, including any secondary stage,
// then lists its files exactly once. The job is owned by this call.
func (p *Poller) ResolveJob(ctx context.Context, provider debrid.Provider, job *internal.RemoteJob) ([]internal.ResolvedFile, error) {
	if job.Ready() {
		return p.listFiles(ctx, provider, job)
	}

	pctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	polls := 0
	for {
		snap, err := retryTransient(pctx, p.TransientRetries, p.TransientBackoff, func() (*internal.JobSnapshot, error) {
			return provider.Poll(pctx, job)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if pctx.Err() != nil {
				return nil, internal.NewPollTimeoutError(job, polls)
			}
			return nil, err
		}
		polls++

		if err := p.apply(job, snap); err != nil {
			return nil, err
		}
		if p.OnUpdate != nil {
			p.OnUpdate(job, snap)
		}
		if job.Ready() {
			internal.LogDebug("Job %s ready after %d polls", job.RemoteID, polls)
			return p.listFiles(ctx, provider, job)
		}

		if p.MaxAttempts > 0 && polls >= p.MaxAttempts {
			return nil, internal.NewPollTimeoutError(job, polls)
		}

		select {
		case <-time.After(p.Interval):
		case <-pctx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, internal.NewPollTimeoutError(job, polls)
		}
	}
}

// apply folds one snapshot into job. Backward transitions are ignored.
func (p *Poller) apply(job *internal.RemoteJob, snap *internal.JobSnapshot) error {
	job.LastPolledAt = time.Now()
	if snap.Message != "" {
		job.Message = snap.Message
	}

	switch snap.Status {
	case internal.JobError:
		job.Status = internal.JobError
		msg := snap.Message
		if msg == "" {
			msg = "provider reported an error"
		}
		return internal.NewRemoteJobFailedError(job, msg)
	case internal.JobExpired:
		job.Status = internal.JobExpired
		return internal.NewRemoteJobExpiredError(job, "job expired on the provider before completion")
	}

	previous := job.Status
	if job.Advance(snap.Status) {
		internal.LogDebug("Job %s: %s -> %s", job.RemoteID, previous, job.Status)
	}
	if snap.Progress > job.Progress {
		job.Progress = snap.Progress
	}

	if job.Status == internal.JobReady && job.NeedsSecondaryStage {
		if job.Stage == internal.StagePrimary {
			job.Stage = internal.StageAwaitingCloudDownload
			internal.LogInfo("%s job %s finished remotely, waiting for the cloud copy", job.Provider.DisplayName(), job.RemoteID)
		}
		if snap.SecondaryDone {
			job.SecondaryDone = true
		}
	}
	return nil
}

func (p *Poller) listFiles(ctx context.Context, provider debrid.Provider, job *internal.RemoteJob) ([]internal.ResolvedFile, error) {
	files, err := retryTransient(ctx, p.TransientRetries, p.TransientBackoff, func() ([]internal.ResolvedFile, error) {
		return provider.ListFiles(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return internal.Reindex(files), nil
}

// retryTransient calls fn until it succeeds, fails permanently or retries
// are spent. Only transient provider errors are retried.
func retryTransient[T any](ctx context.Context, retries int, backoff time.Duration, fn func() (T, error)) (T, error) {
	delay := backoff
	for attempt := 0; ; attempt++ {
		v, err := fn()
		if err == nil || !internal.IsRetryable(err) || attempt >= retries {
			return v, err
		}
		internal.LogDebug("Transient failure, retrying in %v: %v", delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
		delay *= 2
	}
}
