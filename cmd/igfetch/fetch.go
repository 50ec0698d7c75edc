package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"igfetch/internal/downloader"
	"igfetch/internal/ytdlp"
	"igfetch/pkg/accounts"
	"igfetch/pkg/auth"
	"igfetch/pkg/config"
	"igfetch/pkg/errors"
	"igfetch/pkg/extractor"
	"igfetch/pkg/instagram"
	"igfetch/pkg/logger"
	"igfetch/pkg/metrics"
	"igfetch/pkg/pipeline"
	"igfetch/pkg/proxy"
	"igfetch/pkg/ratelimit"
	"igfetch/pkg/retry"
	"igfetch/pkg/urlrouter"
)

var (
	fetchOutputDir    string
	fetchAccountsFile string
	fetchFastPath     bool
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download the media behind an Instagram link",
	Long: `Download the media behind an Instagram post, reel, share or story link.

Post and reel links are first tried anonymously over public endpoints.
When that path comes up empty, or for story links, the authenticated
downloader takes over using the account pool. An account that fails
authentication is banned and the pool rotates to the next one.`,
	Example: `  # Fetch a post
  igfetch fetch https://www.instagram.com/p/Cxyz123/

  # Fetch a share link into a specific directory
  igfetch fetch https://www.instagram.com/share/p/abc/ --output ./media

  # Skip the anonymous fast path
  igfetch fetch https://www.instagram.com/reel/Cxyz123/ --fast-path=false`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&fetchOutputDir, "output", "o", "", "output directory for downloads")
	fetchCmd.Flags().StringVar(&fetchAccountsFile, "accounts", "", "account pool file")
	fetchCmd.Flags().BoolVar(&fetchFastPath, "fast-path", true, "try the anonymous fast path first")
}

func runFetch(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{
		"output":   fetchOutputDir,
		"accounts": fetchAccountsFile,
	}
	if cmd.Flags().Changed("fast-path") {
		flags["fast-path"] = fetchFastPath
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	log := logger.GetLogger()

	if err := ytdlp.CheckInstalled(""); err != nil {
		log.WithError(err).Warn("yt-dlp unavailable, the authenticated path will fail")
	}

	orch, manager, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	result, err := orch.Extract(context.Background(), args[0])
	if err != nil {
		log.WithError(err).Error("extraction failed")
		return fmt.Errorf("%s: %w", errors.CategoryOf(err), err)
	}

	fmt.Printf("Downloaded %d %s file(s) for %s\n", len(result.Items), result.PrimaryType(), result.Shortcode)
	for _, item := range result.Items {
		fmt.Printf("  %s (%s)\n", item.Path, item.Type)
	}
	if result.Caption != "" {
		fmt.Printf("Caption: %s\n", result.Caption)
	}

	status := manager.Status()
	if status.Banned > 0 {
		fmt.Fprintf(os.Stderr, "Note: %d of %d accounts are banned; see 'igfetch accounts status'\n",
			status.Banned, status.Total)
	}
	return nil
}

// buildOrchestrator assembles the extraction stack from configuration.
func buildOrchestrator(cfg *config.Config, log logger.Logger) (*pipeline.Orchestrator, *accounts.Manager, error) {
	client, err := instagram.NewClient(instagram.ClientOptions{
		ConnectTimeout: cfg.Download.ConnectTimeout,
		ReadTimeout:    cfg.Download.ReadTimeout,
		Logger:         log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building HTTP client: %w", err)
	}

	collector := metrics.NewCollector("igfetch", nil)
	assigner := proxy.FromConfig(cfg, log)

	managerOpts := accounts.Options{
		AccountsFile:  cfg.Accounts.File,
		StateFile:     cfg.Accounts.StateFile,
		SessionsDir:   cfg.Accounts.SessionsDir,
		Assigner:      assigner,
		Authenticator: &ytdlp.SessionAuthenticator{CookiesDir: cfg.Accounts.CookiesDir},
		Metrics:       collector,
		Logger:        log,
	}
	if _, statErr := os.Stat(cfg.Accounts.File); os.IsNotExist(statErr) {
		seeded, err := storedCredentialAccounts()
		if err != nil {
			return nil, nil, err
		}
		managerOpts.Accounts = seeded
		log.InfoWithFields("no accounts file, using stored credentials", map[string]interface{}{
			"accounts": len(seeded),
		})
	}

	manager, err := accounts.NewManager(managerOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("loading account pool: %w", err)
	}

	// Pipeline operations are spaced by the interval limiter; the
	// fast-path stages share a per-minute budget instead, so a stage
	// miss does not pay the full operation delay again.
	limiter := ratelimit.NewInterval(cfg.RateLimit.MinDelay, cfg.RateLimit.Jitter)
	stageLimiter := ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, time.Minute)

	orch := pipeline.New(pipeline.Options{
		Manager:  manager,
		Fast:     extractor.New(client, extractor.Options{Limiter: stageLimiter, Metrics: collector, Logger: log}),
		Fetcher: downloader.NewFetcher(client, collector, log).
			WithRetrier(retry.NewHTTPRetrier(cfg.RateLimit.MaxRetries, log)),
		Resolver: urlrouter.NewResolver(client),
		HeavyFactory: ytdlp.NewFactory(ytdlp.Options{
			CookiesDir: cfg.Accounts.CookiesDir,
			Logger:     log,
		}),
		Limiter:         limiter,
		OutputDir:       cfg.Download.OutputDir,
		DisableFastPath: !cfg.FastPath.Enabled,
		Metrics:         collector,
		Logger:          log,
	})

	return orch, manager, nil
}

// storedCredentialAccounts builds the pool from the credential stores
// when no accounts file exists, so a single 'igfetch auth login' is
// enough to use the authenticated path.
func storedCredentialAccounts() ([]*accounts.Account, error) {
	credentials, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("opening credential stores: %w", err)
	}
	return poolFromCredentials(credentials)
}

// poolFromCredentials converts every stored account into a pool
// account, resolving each listing into its full credential set.
func poolFromCredentials(credentials *auth.Manager) ([]*accounts.Account, error) {
	stored, err := credentials.List()
	if err != nil {
		return nil, fmt.Errorf("listing stored credentials: %w", err)
	}

	var pool []*accounts.Account
	for _, entry := range stored {
		full, err := credentials.Retrieve(entry.Username)
		if err != nil {
			continue
		}
		pool = append(pool, &accounts.Account{
			Username:   full.Username,
			Password:   full.Password,
			TOTPSecret: full.TOTPSecret,
		})
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("no accounts file and no stored credentials; run 'igfetch auth login' or set accounts.file")
	}
	return pool, nil
}
