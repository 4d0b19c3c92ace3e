package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"onedl/internal"
)

func submit(t *testing.T, f *fakeProvider) *internal.RemoteJob {
	t.Helper()
	job, err := f.Submit(context.Background(), magnet)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func TestPoller_FourPollsThenFilesOnce(t *testing.T) {
	f := newFake(internal.RealDebrid, internal.KindMagnet)
	f.snapshots = snapshots(internal.JobSubmitted, internal.JobQueued, internal.JobDownloadingRemote, internal.JobReady)

	files, err := fastPoller().ResolveJob(context.Background(), f, submit(t, f))
	if err != nil {
		t.Fatalf("ResolveJob: %v", err)
	}
	if got := f.polls.Load(); got != 4 {
		t.Errorf("polls = %d, want 4", got)
	}
	if got := f.lists.Load(); got != 1 {
		t.Errorf("ListFiles calls = %d, want 1", got)
	}
	if len(files) != 2 || files[0].Index != 1 || files[1].Index != 2 {
		t.Errorf("files = %+v", files)
	}
}

func TestPoller_SynchronousJobSkipsPolling(t *testing.T) {
	f := newFake(internal.AllDebrid, internal.KindHoster)
	job := submit(t, f)
	job.Advance(internal.JobReady)

	if _, err := fastPoller().ResolveJob(context.Background(), f, job); err != nil {
		t.Fatal(err)
	}
	if f.polls.Load() != 0 {
		t.Errorf("ready job was polled %d times", f.polls.Load())
	}
}

func TestPoller_SecondaryStage(t *testing.T) {
	f := newFake(internal.TorBox, internal.KindNZBContainer)
	f.secondary = true
	f.snapshots = []internal.JobSnapshot{
		{Status: internal.JobDownloadingRemote},
		{Status: internal.JobReady},
		{Status: internal.JobReady},
		{Status: internal.JobReady, SecondaryDone: true},
	}

	job := submit(t, f)
	var stages []internal.JobStage
	p := fastPoller()
	p.OnUpdate = func(j *internal.RemoteJob, _ *internal.JobSnapshot) {
		stages = append(stages, j.Stage)
	}

	files, err := p.ResolveJob(context.Background(), f, job)
	if err != nil {
		t.Fatal(err)
	}
	if f.polls.Load() != 4 || f.lists.Load() != 1 {
		t.Errorf("polls = %d, lists = %d", f.polls.Load(), f.lists.Load())
	}
	if len(files) != 2 {
		t.Errorf("files = %+v", files)
	}
	want := []internal.JobStage{
		internal.StagePrimary,
		internal.StageAwaitingCloudDownload,
		internal.StageAwaitingCloudDownload,
		internal.StageAwaitingCloudDownload,
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage after poll %d = %s, want %s", i+1, stages[i], want[i])
		}
	}
}

func TestPoller_SecondaryStageTimesOut(t *testing.T) {
	f := newFake(internal.TorBox, internal.KindNZBContainer)
	f.secondary = true
	f.snapshots = snapshots(internal.JobReady)

	p := fastPoller()
	p.Timeout = 30 * time.Millisecond
	_, err := p.ResolveJob(context.Background(), f, submit(t, f))
	if !internal.IsErrorType(err, internal.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if f.lists.Load() != 0 {
		t.Error("files listed before the cloud copy finished")
	}
}

func TestPoller_Timeout(t *testing.T) {
	f := newFake(internal.Premiumize, internal.KindMagnet)
	f.snapshots = snapshots(internal.JobDownloadingRemote)

	p := fastPoller()
	p.Interval = 5 * time.Millisecond
	p.Timeout = 40 * time.Millisecond

	files, err := p.ResolveJob(context.Background(), f, submit(t, f))
	if !internal.IsErrorType(err, internal.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if files != nil {
		t.Errorf("timeout returned files %+v", files)
	}
}

func TestPoller_MaxAttempts(t *testing.T) {
	f := newFake(internal.Premiumize, internal.KindMagnet)
	f.snapshots = snapshots(internal.JobQueued)

	p := fastPoller()
	p.MaxAttempts = 3
	_, err := p.ResolveJob(context.Background(), f, submit(t, f))
	if !internal.IsErrorType(err, internal.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if f.polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", f.polls.Load())
	}
}

func TestPoller_TerminalFailures(t *testing.T) {
	tests := []struct {
		name   string
		status internal.JobStatus
		want   internal.ErrorType
	}{
		{"error", internal.JobError, internal.ErrRemoteJobFailed},
		{"expired", internal.JobExpired, internal.ErrRemoteJobExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake(internal.RealDebrid, internal.KindMagnet)
			f.snapshots = snapshots(internal.JobQueued, tt.status, internal.JobReady)

			_, err := fastPoller().ResolveJob(context.Background(), f, submit(t, f))
			if !internal.IsErrorType(err, tt.want) {
				t.Fatalf("got %v", err)
			}
			if f.polls.Load() != 2 {
				t.Errorf("terminal failure was polled again: %d polls", f.polls.Load())
			}
		})
	}
}

func TestPoller_TransientRetriedInPlace(t *testing.T) {
	f := newFake(internal.AllDebrid, internal.KindMagnet)
	f.snapshots = snapshots(internal.JobQueued, internal.JobQueued, internal.JobReady)
	f.pollErrs[2] = transientErr(f.name)

	job := submit(t, f)
	if _, err := fastPoller().ResolveJob(context.Background(), f, job); err != nil {
		t.Fatal(err)
	}
	if job.Status != internal.JobReady {
		t.Errorf("status = %s", job.Status)
	}

	// exhausting retries surfaces the transient error
	f = newFake(internal.AllDebrid, internal.KindMagnet)
	for i := 1; i <= 3; i++ {
		f.pollErrs[i] = transientErr(f.name)
	}
	_, err := fastPoller().ResolveJob(context.Background(), f, submit(t, f))
	if internal.ProviderKindOf(err) != internal.ProviderTransient {
		t.Errorf("expected transient error, got %v", err)
	}
	if f.polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", f.polls.Load())
	}
}

func TestPoller_AuthErrorNotRetried(t *testing.T) {
	f := newFake(internal.TorBox, internal.KindMagnet)
	f.pollErrs[1] = internal.NewProviderError(f.name, internal.ProviderAuth, "bad token")

	_, err := fastPoller().ResolveJob(context.Background(), f, submit(t, f))
	if internal.ProviderKindOf(err) != internal.ProviderAuth || f.polls.Load() != 1 {
		t.Errorf("err = %v after %d polls", err, f.polls.Load())
	}
}

func TestPoller_Cancellation(t *testing.T) {
	f := newFake(internal.RealDebrid, internal.KindMagnet)
	f.snapshots = snapshots(internal.JobDownloadingRemote)

	p := fastPoller()
	p.Interval = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	_, err := p.ResolveJob(ctx, f, submit(t, f))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestPoller_MonotonicStatus(t *testing.T) {
	f := newFake(internal.Premiumize, internal.KindMagnet)
	f.snapshots = snapshots(
		internal.JobDownloadingRemote,
		internal.JobQueued,
		internal.JobSubmitted,
		internal.JobDownloadingRemote,
		internal.JobQueued,
		internal.JobReady,
	)

	var seen []internal.JobStatus
	p := fastPoller()
	p.OnUpdate = func(j *internal.RemoteJob, _ *internal.JobSnapshot) {
		seen = append(seen, j.Status)
	}
	if _, err := p.ResolveJob(context.Background(), f, submit(t, f)); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("status went backwards: %v", seen)
		}
	}
	if seen[len(seen)-1] != internal.JobReady {
		t.Errorf("final status = %s", seen[len(seen)-1])
	}
}
