package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"onedl/downloader"
	"onedl/internal"
	"onedl/resolver"
	"onedl/utils"
)

// executeDownloadWorkflow resolves every link, then fetches the selected files
func executeDownloadWorkflow(ctx context.Context, links []string, rateLimitBytes int64) error {
	opts, err := resolveOptions()
	if err != nil {
		return err
	}

	r := newResolver()
	engine := downloader.NewEngine(config, rateLimitBytes)

	if !quiet {
		fmt.Fprintf(os.Stderr, "Resolving %d link(s)...\n", len(links))
	}
	results := r.ResolveAll(ctx, links, opts)

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			reportLinkFailure(result)
			continue
		}

		res := result.Resolution
		if !quiet {
			source := "direct"
			if res.Provider != "" {
				source = res.Provider.DisplayName()
			} else if res.Link.Kind.IsMega() {
				source = "MEGA"
			}
			fmt.Fprintf(os.Stderr, "%s: %d of %d file(s) via %s\n", res.Link.Kind, len(res.Files), res.Available, source)
		}

		for _, file := range res.Files {
			path, err := engine.Fetch(ctx, file, outputDir)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					internal.LogInfo("Download cancelled by user, partial files are kept for resuming")
					return fmt.Errorf("download cancelled by user")
				}
				failed++
				reportFailure(file.Name, err)
				continue
			}
			internal.LogInfo("Saved %s (%s)", path, utils.FormatBytes(file.Size))
			if !quiet {
				fmt.Printf("%s\n", path)
			}
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("download cancelled by user")
	}
	if failed > 0 {
		return fmt.Errorf("%d item(s) failed", failed)
	}
	return nil
}

// reportLinkFailure reports a failed link. A bad --select still carries
// the resolved files, which are listed so the indices can be corrected.
func reportLinkFailure(result resolver.LinkResult) {
	if result.Resolution != nil && internal.IsErrorType(result.Err, internal.ErrInvalidSelection) {
		printFiles(result.Resolution)
	}
	reportFailure(result.Input, result.Err)
}

// reportFailure logs err with its suggestion when it carries one
func reportFailure(what string, err error) {
	var re *internal.ResolveError
	if errors.As(err, &re) {
		internal.LogResolveError(re)
		if !quiet && re.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "%s: %v\n  hint: %s\n", what, err, re.Suggestion)
			return
		}
	} else {
		internal.LogAnyError(err)
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	}
}

// printFiles writes a numbered file listing for one resolution
func printFiles(res *resolver.Resolution) {
	fmt.Printf("%s (%s)\n", res.Link.Raw, res.Link.Kind)
	for _, f := range res.Files {
		size := "unknown size"
		if f.Size > 0 {
			size = utils.FormatBytes(f.Size)
		}
		fmt.Printf("  %3d. %s [%s]\n       %s\n", f.Index, f.Name, size, f.DirectURL)
	}
}
