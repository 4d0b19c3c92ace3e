// Package downloader streams resolved files to local storage.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"onedl/internal"
	"onedl/mega"
	"onedl/utils"
)

var _ internal.FileFetcher = (*Engine)(nil)

// Engine downloads one file at a time into a .part file and renames it into
// place once complete. Interrupted downloads resume with a Range request.
type Engine struct {
	httpClient *utils.HTTPClient
	fileOps    *utils.FileOperations
	limiter    internal.RateLimiter
	quiet      bool
	maxRetries int
	backoff    time.Duration
}

// NewEngine creates an engine using the proxy and user agent from cfg.
// bytesPerSecond <= 0 disables the bandwidth limit.
func NewEngine(cfg *internal.Config, bytesPerSecond int64) *Engine {
	client := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		Timeout:     0, // bodies may stream for hours
		ProxyURL:    cfg.Proxy,
		UserAgent:   cfg.UserAgent,
		RetryConfig: utils.DefaultRetryConfig(),
	})
	return NewEngineWithClient(client, utils.NewBandwidthLimiter(bytesPerSecond), cfg.QuietMode)
}

// NewEngineWithClient creates an engine around an existing client and limiter
func NewEngineWithClient(client *utils.HTTPClient, limiter internal.RateLimiter, quiet bool) *Engine {
	return &Engine{
		httpClient: client,
		fileOps:    utils.NewFileOperations(),
		limiter:    limiter,
		quiet:      quiet,
		maxRetries: 3,
		backoff:    time.Second,
	}
}

// SetRate changes the bandwidth limit of running and future transfers
func (e *Engine) SetRate(bytesPerSecond int64) {
	if e.limiter != nil {
		e.limiter.SetRate(bytesPerSecond)
	}
}

// Fetch downloads file into destDir and returns the final path
func (e *Engine) Fetch(ctx context.Context, file internal.ResolvedFile, destDir string) (string, error) {
	if file.DirectURL == "" {
		return "", internal.NewResolveError(internal.ErrDownloadFailed, "file has no download URL").
			WithContext("name", file.Name)
	}

	// Unnamed files take their name from the first response
	var first *http.Response
	name := file.Name
	if name == "" {
		resp, err := e.get(ctx, file.DirectURL, 0)
		if err != nil {
			return "", err
		}
		first = resp
		name = filenameFromResponse(resp, utils.FileNameFromURL(file.DirectURL, fmt.Sprintf("file-%d", file.Index)))
	}

	outputPath, err := e.fileOps.SafeJoin(destDir, name)
	if err != nil {
		if first != nil {
			first.Body.Close()
		}
		return "", internal.NewResolveError(internal.ErrDownloadFailed, "unusable file name").WithCause(err)
	}

	if file.Size > 0 {
		if info, err := os.Stat(outputPath); err == nil && info.Size() == file.Size {
			if first != nil {
				first.Body.Close()
			}
			internal.LogInfo("Skipping %s, already downloaded", name)
			return outputPath, nil
		}
	}

	delay := e.backoff
	for attempt := 1; ; attempt++ {
		err = e.transfer(ctx, file, outputPath, first)
		first = nil
		if err == nil {
			return outputPath, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRecoverable(err) || attempt >= e.maxRetries {
			return "", err
		}
		internal.LogWarn("Download of %s interrupted (attempt %d/%d): %v", name, attempt, e.maxRetries, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		delay *= 2
	}
}

// transfer continues outputPath's .part file from its current size.
// resp, when non-nil, is an unranged response that may be reused.
func (e *Engine) transfer(ctx context.Context, file internal.ResolvedFile, outputPath string, resp *http.Response) error {
	partPath := outputPath + ".part"

	exists, offset, err := e.fileOps.DetectPartialDownload(outputPath)
	if err != nil {
		return err
	}
	if exists {
		if err := e.fileOps.ValidatePartialFile(partPath, file.Size); err != nil {
			internal.LogWarn("Discarding partial file %s: %v", partPath, err)
			os.Remove(partPath)
			offset = 0
		}
	}
	if file.Size > 0 && offset == file.Size {
		if resp != nil {
			resp.Body.Close()
		}
		return e.fileOps.AtomicRename(partPath, outputPath)
	}

	if resp != nil && offset > 0 {
		resp.Body.Close()
		resp = nil
	}
	if resp == nil {
		if resp, err = e.get(ctx, file.DirectURL, offset); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			internal.LogInfo("Server ignored the range request, restarting %s", filepath.Base(outputPath))
			offset = 0
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// the part file already holds everything the server has
		return e.fileOps.AtomicRename(partPath, outputPath)
	default:
		return internal.NewResolveError(internal.ErrDownloadFailed, fmt.Sprintf("server returned HTTP %d", resp.StatusCode)).
			WithURL(file.DirectURL).
			WithCode(resp.StatusCode)
	}

	if err := e.fileOps.EnsureDir(outputPath); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		internal.LogInfo("Resuming %s at %s", filepath.Base(outputPath), utils.FormatBytes(offset))
	}
	out, err := os.OpenFile(partPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open part file: %w", err)
	}

	total := file.Size
	if total <= 0 && resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	var body io.Reader = resp.Body
	if file.Key != "" {
		if body, err = mega.NewDecryptReader(resp.Body, file.Key, offset); err != nil {
			out.Close()
			return internal.NewResolveError(internal.ErrDownloadFailed, "invalid decryption key").WithCause(err)
		}
	}

	tracker := utils.NewProgressTracker(filepath.Base(outputPath), total, e.quiet)
	tracker.Start(offset)
	written, copyErr := e.copyWithRateLimit(ctx, out, io.TeeReader(body, tracker))
	summary := tracker.Finish()
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return copyErr
	}

	if total > 0 && offset+written != total {
		return fmt.Errorf("incomplete transfer: have %d of %d bytes", offset+written, total)
	}
	if err := e.fileOps.AtomicRename(partPath, outputPath); err != nil {
		return fmt.Errorf("failed to rename part file to final file: %w", err)
	}
	if summary != nil {
		internal.LogDebug("Fetched %s: %s in %v", outputPath, utils.FormatBytes(summary.TotalBytes), summary.TotalTime.Round(time.Millisecond))
	}
	return nil
}

func (e *Engine) get(ctx context.Context, url string, offset int64) (*http.Response, error) {
	headers := map[string]string{}
	if offset > 0 {
		headers["Range"] = fmt.Sprintf("bytes=%d-", offset)
	}
	resp, err := e.httpClient.GetWithContext(ctx, url, headers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	return resp, nil
}

// copyWithRateLimit copies src to dst, pacing each chunk through the limiter
func (e *Engine) copyWithRateLimit(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buffer := make([]byte, 32*1024)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := src.Read(buffer)
		if n > 0 {
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx, n); err != nil {
					return total, err
				}
			}
			written, writeErr := dst.Write(buffer[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// isRecoverable reports whether a failed transfer is worth resuming.
// HTTP errors from the server are final, everything else is I/O.
func isRecoverable(err error) bool {
	var re *internal.ResolveError
	if errors.As(err, &re) {
		return re.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// filenameFromResponse prefers the Content-Disposition filename
func filenameFromResponse(resp *http.Response, fallback string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return filepath.Base(params["filename"])
		}
	}
	return fallback
}
