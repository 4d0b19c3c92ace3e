package internal

import "context"

// LinkClassifier turns raw user input into a typed Link
type LinkClassifier interface {
	Classify(raw string) (Link, error)
}

// FileFetcher downloads resolved files to local storage
type FileFetcher interface {
	Fetch(ctx context.Context, file ResolvedFile, destDir string) (string, error)
}

// RateLimiter controls bandwidth usage
type RateLimiter interface {
	Wait(ctx context.Context, n int) error
	SetRate(bytesPerSecond int64)
}
