package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"onedl/debrid"
	"onedl/internal"
	"onedl/mega"
	"onedl/resolver"
	"onedl/utils"
)

var (
	providerName string
	selection    string
	inputFile    string
	outputDir    string
	rateLimit    string
	proxyURL     string
	quiet        bool
	debug        bool
	logLevel     string
	logFile      string
	envFile      string
	pollInterval time.Duration
	pollTimeout  time.Duration
	parallel     int
	config       *internal.Config
)

var rootCmd = &cobra.Command{
	Use:     "onedl [OPTIONS] <LINK>...",
	Short:   "Resolve magnets, hoster links, MEGA shares and containers through debrid services",
	Version: "v1.0.0",
	Long: `onedl resolves a link into direct downloads and fetches them.

Magnets, hoster URLs and .torrent/.nzb files go through a debrid service
(Real-Debrid, AllDebrid, Premiumize or TorBox). MEGA links are read directly
and decrypted while downloading. Plain HTTP(S) links are fetched as is.

Examples:
  onedl 'magnet:?xt=urn:btih:...'
  onedl -p torbox -o ~/Downloads ./episode.nzb
  onedl -s 1,3-5 https://mega.nz/folder/abc#key
  onedl -i links.txt -r 5M
  onedl resolve --json https://1fichier.com/?abc
  onedl check 'magnet:?xt=urn:btih:...'

Environment Variables:
  REAL_DEBRID_API_TOKEN   Real-Debrid API token
  ALLDEBRID_API_TOKEN     AllDebrid API key
  PREMIUMIZE_API_TOKEN    Premiumize.me API key
  TORBOX_API_TOKEN        TorBox API key
  ONEDL_PROVIDER_PRIORITY Provider order, e.g. torbox,realdebrid
  ONEDL_POLL_INTERVAL     Poll interval (e.g. 3s)
  ONEDL_POLL_TIMEOUT      Give up on a remote job after this long
  ONEDL_PROXY             HTTP/SOCKS5 proxy URL
  ONEDL_LOG_LEVEL         debug, info, warn or error`,
	Args: cobra.ArbitraryArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfiguration(cmd); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}

		if err := internal.InitLogger(config); err != nil {
			return fmt.Errorf("failed to initialize logger: %v", err)
		}

		internal.LogDebug("Configuration loaded: providers=%v, poll=%v/%v, parallel=%d",
			config.ConfiguredProviders(), config.PollInterval, config.PollTimeout, config.Parallel)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		links, err := collectLinks(args)
		if err != nil {
			return err
		}

		var rateLimitBytes int64
		if rateLimit != "" {
			rateLimitBytes, err = utils.ParseRateLimit(rateLimit)
			if err != nil {
				validationErr := internal.NewValidationErrorWithValue("rate_limit", "invalid format", rateLimit).
					WithSuggestion("Use formats like 1M (1 MB/s), 500K (500 KB/s), 2G (2 GB/s), or 1024 (1024 bytes/s)")
				internal.LogValidationError(validationErr)
				return fmt.Errorf("invalid rate limit format: %v", err)
			}
			internal.LogDebug("Rate limit parsed: %s = %d bytes/sec", rateLimit, rateLimitBytes)
		}

		if err := validateOutputDir(outputDir); err != nil {
			validationErr := internal.NewValidationErrorWithValue("output", err.Error(), outputDir)
			internal.LogValidationError(validationErr)
			return fmt.Errorf("invalid output directory: %v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()
		return executeDownloadWorkflow(ctx, links, rateLimitBytes)
	},
}

// loadConfiguration builds the config from defaults, the .env file, the
// environment and finally the flags that were set explicitly
func loadConfiguration(cmd *cobra.Command) error {
	if err := internal.LoadEnvFile(envFile); err != nil {
		return err
	}

	config = internal.DefaultConfig()
	config.LoadFromEnv()

	flags := cmd.Flags()
	if flags.Changed("proxy") {
		if err := validateProxyURL(proxyURL); err != nil {
			return internal.NewValidationErrorWithValue("proxy", err.Error(), proxyURL).
				WithSuggestion("Use formats like http://proxy:8080 or socks5://proxy:1080")
		}
		config.Proxy = proxyURL
	}
	if flags.Changed("poll-interval") {
		config.PollInterval = pollInterval
	}
	if flags.Changed("poll-timeout") {
		config.PollTimeout = pollTimeout
	}
	if flags.Changed("parallel") {
		config.Parallel = parallel
	}

	if debug {
		config.EnableDebug = true
		config.LogLevel = "debug"
	}
	if quiet {
		config.QuietMode = true
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if logFile != "" {
		config.LogFile = logFile
	}

	return config.ValidateConfig()
}

// newResolver wires the classifier, provider adapters and MEGA client
func newResolver() *resolver.Resolver {
	megaClient := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		Timeout:   config.RequestTimeout,
		ProxyURL:  config.Proxy,
		UserAgent: config.UserAgent,
	})
	r := resolver.New(config,
		utils.NewLinkClassifier(config.Hosters),
		debrid.NewProviders(config),
		mega.NewResolver(megaClient),
	)
	r.Poller().OnUpdate = reportJob
	return r
}

// reportJob logs each poll so long remote downloads show signs of life
func reportJob(job *internal.RemoteJob, snap *internal.JobSnapshot) {
	msg := fmt.Sprintf("%s job %s: %s %.0f%%", job.Provider.DisplayName(), job.RemoteID, job.Status, job.Progress)
	if job.Stage == internal.StageAwaitingCloudDownload {
		msg += " (" + job.Stage.String() + ")"
	}
	if snap.Speed > 0 {
		msg += fmt.Sprintf(" at %s/s", utils.FormatBytes(snap.Speed))
	}
	if snap.Seeders > 0 {
		msg += fmt.Sprintf(", %d seeders", snap.Seeders)
	}
	internal.LogInfo("%s", msg)
}

func resolveOptions() (resolver.Options, error) {
	opts := resolver.Options{Selection: selection}
	if providerName != "" {
		name, ok := internal.ParseProviderName(strings.ToLower(providerName))
		if !ok {
			return opts, internal.NewValidationErrorWithValue("provider", "unknown provider", providerName).
				WithSuggestion("Use realdebrid, alldebrid, premiumize or torbox")
		}
		opts.Provider = name
	}
	return opts, nil
}

// collectLinks merges positional links with those read from --input
func collectLinks(args []string) ([]string, error) {
	links := append([]string(nil), args...)
	if inputFile != "" {
		fromFile, err := readLinks(inputFile)
		if err != nil {
			return nil, err
		}
		links = append(links, fromFile...)
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("at least one link is required (as an argument or via --input)")
	}
	return links, nil
}

// readLinks reads one link per line, skipping blanks and # comments
func readLinks(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read input file: %w", err)
	}
	defer f.Close()

	var links []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		links = append(links, line)
	}
	return links, scanner.Err()
}

// validateOutputDir creates dir if needed and checks it is writable
func validateOutputDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create output directory: %v", err)
	}

	testFile := filepath.Join(dir, ".onedl_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to output directory: %v", err)
	}
	f.Close()
	os.Remove(testFile)
	return nil
}

// validateProxyURL validates the proxy URL format
func validateProxyURL(proxyURL string) error {
	if !strings.HasPrefix(proxyURL, "http://") &&
		!strings.HasPrefix(proxyURL, "https://") &&
		!strings.HasPrefix(proxyURL, "socks5://") {
		return fmt.Errorf("unsupported proxy scheme, use http://, https://, or socks5://")
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			internal.LogInfo("Received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func init() {
	config = internal.DefaultConfig()

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(checkCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&providerName, "provider", "p", "", "Use only this provider (realdebrid, alldebrid, premiumize, torbox)")
	pf.StringVarP(&selection, "select", "s", "", "Files to keep, e.g. 1,3-5 (default all)")
	pf.StringVarP(&inputFile, "input", "i", "", "Read links from a file, one per line")
	pf.StringVar(&proxyURL, "proxy", "", "HTTP/SOCKS5 proxy URL (env: ONEDL_PROXY)")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output (env: ONEDL_QUIET)")
	pf.BoolVarP(&debug, "debug", "d", false, "Enable debug logging (env: ONEDL_DEBUG)")
	pf.StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error) (env: ONEDL_LOG_LEVEL)")
	pf.StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (env: ONEDL_LOG_FILE)")
	pf.StringVar(&envFile, "env-file", "", "Load KEY=VALUE settings from this file (default .env if present)")
	pf.DurationVar(&pollInterval, "poll-interval", config.PollInterval, "Delay between remote job polls (env: ONEDL_POLL_INTERVAL)")
	pf.DurationVar(&pollTimeout, "poll-timeout", config.PollTimeout, "Give up on a remote job after this long (env: ONEDL_POLL_TIMEOUT)")
	pf.IntVar(&parallel, "parallel", config.Parallel, "Links resolved at the same time (1-16)")

	rootCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to download into")
	rootCmd.Flags().StringVarP(&rateLimit, "limit-rate", "r", "", "Bandwidth limit (e.g., 5M for 5MB/s)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
