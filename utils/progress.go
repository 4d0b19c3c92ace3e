package utils

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/cheggaaa/pb/v3"
)

const progressTemplate = `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`

// ProgressTracker draws a pb bar for one file. It implements io.Writer so it
// can sit behind an io.TeeReader; in quiet mode it only counts.
type ProgressTracker struct {
	bar      *pb.ProgressBar
	out      io.Writer
	filename string
	total    int64
	started  time.Time

	offset  atomic.Int64 // bytes already on disk before this session
	written atomic.Int64 // bytes seen through Write
}

// DownloadSummary describes one finished (or aborted) transfer
type DownloadSummary struct {
	Filename     string
	TotalBytes   int64 // size on disk, resumed bytes included
	Transferred  int64 // bytes fetched in this session
	TotalTime    time.Duration
	AverageSpeed float64 // bytes per second over Transferred
}

// NewProgressTracker creates a tracker; total <= 0 means the size is unknown
func NewProgressTracker(filename string, total int64, quiet bool) *ProgressTracker {
	p := &ProgressTracker{
		out:      os.Stderr,
		filename: filename,
		total:    total,
		started:  time.Now(),
	}
	if !quiet {
		bar := pb.New64(total).SetTemplate(pb.ProgressBarTemplate(progressTemplate))
		bar.SetWriter(p.out)
		bar.Set(pb.Bytes, true)
		bar.Set(pb.SIBytesPrefix, true)
		bar.Set("prefix", truncateName(filename, 32)+" ")
		p.bar = bar.Start()
	}
	return p
}

// Start records bytes already present from a partial file
func (p *ProgressTracker) Start(offset int64) {
	p.offset.Store(offset)
	if p.bar != nil {
		p.bar.SetCurrent(offset)
	}
}

func (p *ProgressTracker) Write(b []byte) (int, error) {
	n := p.written.Add(int64(len(b)))
	if p.bar != nil {
		p.bar.SetCurrent(p.offset.Load() + n)
	}
	return len(b), nil
}

// Percent is the share of total on disk, 0 when the size is unknown
func (p *ProgressTracker) Percent() float64 {
	if p.total <= 0 {
		return 0
	}
	return float64(p.offset.Load()+p.written.Load()) / float64(p.total) * 100
}

// Finish stops the bar and prints a one line summary unless quiet
func (p *ProgressTracker) Finish() *DownloadSummary {
	elapsed := time.Since(p.started)
	s := &DownloadSummary{
		Filename:    p.filename,
		Transferred: p.written.Load(),
		TotalTime:   elapsed,
	}
	s.TotalBytes = p.offset.Load() + s.Transferred
	if elapsed > 0 {
		s.AverageSpeed = float64(s.Transferred) / elapsed.Seconds()
	}

	if p.bar != nil {
		p.bar.Finish()
		fmt.Fprintf(p.out, "Saved %s (%s in %v, %s/s)\n",
			s.Filename, FormatBytes(s.TotalBytes), elapsed.Round(time.Millisecond), FormatBytes(int64(s.AverageSpeed)))
	}
	return s
}

// FormatBytes formats byte count as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func truncateName(name string, max int) string {
	r := []rune(name)
	if len(r) <= max {
		return name
	}
	return string(r[:max-3]) + "..."
}
