package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"onedl/internal"
	"onedl/resolver"
)

var jsonOutput bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <LINK>...",
	Short: "Print the direct download URLs for links without downloading",
	Long: `Resolve links through the selected debrid provider or MEGA and print
the resulting files. With --json the full resolution, including the providers
that were tried, is written to stdout.

Examples:
  onedl resolve 'magnet:?xt=urn:btih:...'
  onedl resolve --json -s 2 https://mega.nz/folder/abc#key`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		links, err := collectLinks(args)
		if err != nil {
			return err
		}
		opts, err := resolveOptions()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		results := newResolver().ResolveAll(ctx, links, opts)

		var resolved []*resolver.Resolution
		failed := 0
		for _, result := range results {
			if result.Err != nil {
				failed++
				reportLinkFailure(result)
				continue
			}
			resolved = append(resolved, result.Resolution)
			if !jsonOutput {
				printFiles(result.Resolution)
			}
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(resolved); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d link(s) failed", failed, len(links))
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <LINK>...",
	Short: "Show which providers already have a link cached",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		links, err := collectLinks(args)
		if err != nil {
			return err
		}
		opts, err := resolveOptions()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		r := newResolver()
		reports := make([]string, len(links))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(config.Parallel)
		for i, raw := range links {
			g.Go(func() error {
				reports[i] = checkLink(gctx, r, raw, opts.Provider)
				return nil
			})
		}
		g.Wait()

		for _, report := range reports {
			fmt.Print(report)
		}
		return ctx.Err()
	},
}

// checkLink renders the ranked candidates for one link
func checkLink(ctx context.Context, r *resolver.Resolver, raw string, explicit internal.ProviderName) string {
	link, err := r.Classify(raw)
	if err != nil {
		return fmt.Sprintf("%s\n  error: %v\n", raw, err)
	}
	if link.Kind.IsMega() || link.Kind == internal.KindDirect {
		return fmt.Sprintf("%s (%s)\n  no provider needed\n", raw, link.Kind)
	}

	candidates, err := r.Selector().Select(ctx, link, explicit)
	if err != nil {
		return fmt.Sprintf("%s (%s)\n  error: %v\n", raw, link.Kind, err)
	}
	out := fmt.Sprintf("%s (%s)\n", raw, link.Kind)
	for i, c := range candidates {
		out += fmt.Sprintf("  %d. %-14s %s\n", i+1, c.Provider.Name().DisplayName(), c.Cache)
	}
	return out
}

func init() {
	resolveCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print resolutions as JSON")
}
