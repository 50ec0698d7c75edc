// Package pipeline sequences the fast anonymous extraction path and
// the authenticated heavy path behind a single Extract operation. It
// owns the rate limiting between operations and the rotate-once retry
// policy for authentication failures on the heavy path.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"igfetch/internal/downloader"
	"igfetch/pkg/accounts"
	"igfetch/pkg/errors"
	"igfetch/pkg/extractor"
	"igfetch/pkg/logger"
	"igfetch/pkg/media"
	"igfetch/pkg/metrics"
	"igfetch/pkg/ratelimit"
	"igfetch/pkg/urlrouter"
)

// One ban-and-rotate, then the retry is terminal.
const heavyAttempts = 2

// Options configures an Orchestrator.
type Options struct {
	// Manager owns the account pool. Required for the heavy path.
	Manager *accounts.Manager

	// Fast is the anonymous extractor. Nil disables the fast path.
	Fast *extractor.FastExtractor

	// Fetcher downloads the refs the fast extractor produces.
	Fetcher *downloader.Fetcher

	// Resolver expands share URLs before classification.
	Resolver *urlrouter.Resolver

	// HeavyFactory builds the authenticated client per account.
	HeavyFactory HeavyClientFactory

	// Limiter spaces consecutive extraction operations. Nil disables.
	Limiter ratelimit.Limiter

	// OutputDir receives downloaded media files.
	OutputDir string

	// DisableFastPath forces every URL onto the heavy path.
	DisableFastPath bool

	Metrics *metrics.Collector
	Logger  logger.Logger
}

// Orchestrator runs one extraction at a time. The mutex serializes
// operations because the pool's current-account pointer is shared
// mutable state.
type Orchestrator struct {
	mu sync.Mutex

	manager  *accounts.Manager
	fast     *extractor.FastExtractor
	fetcher  *downloader.Fetcher
	resolver *urlrouter.Resolver
	factory  HeavyClientFactory
	limiter  ratelimit.Limiter

	outputDir string
	fastPath  bool

	metrics *metrics.Collector
	logger  logger.Logger

	heavy        HeavyClient
	heavyAccount *accounts.Account
}

// New creates an orchestrator from opts.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &Orchestrator{
		manager:   opts.Manager,
		fast:      opts.Fast,
		fetcher:   opts.Fetcher,
		resolver:  opts.Resolver,
		factory:   opts.HeavyFactory,
		limiter:   opts.Limiter,
		outputDir: opts.OutputDir,
		fastPath:  !opts.DisableFastPath && opts.Fast != nil && opts.Fetcher != nil,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// Extract resolves rawURL, downloads its media and returns a uniform
// result regardless of which path produced it.
func (o *Orchestrator) Extract(ctx context.Context, rawURL string) (*media.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.limiter != nil {
		o.limiter.Wait()
	}

	parsed, err := urlrouter.Classify(rawURL)
	if err != nil {
		return nil, err
	}

	if parsed.Route == urlrouter.RouteShare {
		parsed, err = o.resolveShare(ctx, parsed)
		if err != nil {
			return nil, err
		}
	}

	var fastErr error
	if o.fastPath && parsed.Route != urlrouter.RouteStory {
		result, err := o.extractFast(ctx, parsed)
		if err == nil {
			o.recordExtraction("fast", "success")
			return result, nil
		}
		fastErr = err
		o.recordExtraction("fast", "failure")
		o.logger.WarnWithFields("fast path failed, falling through to heavy path", map[string]interface{}{
			"url":   parsed.CanonicalURL,
			"error": err.Error(),
		})
	}

	result, err := o.extractHeavy(ctx, parsed)
	if err != nil {
		o.recordExtraction("heavy", "failure")
		if fastErr != nil {
			return nil, errors.Wrap(errors.TypeOf(err),
				fmt.Sprintf("extraction failed on both paths (fast path: %v)", fastErr), err)
		}
		return nil, err
	}

	o.recordExtraction("heavy", "success")
	return result, nil
}

// resolveShare expands a share URL into its canonical post URL and
// re-classifies it.
func (o *Orchestrator) resolveShare(ctx context.Context, parsed *urlrouter.ParsedURL) (*urlrouter.ParsedURL, error) {
	if o.resolver == nil {
		return nil, errors.New(errors.ErrorTypeShareUnresolved, "no share resolver configured")
	}

	resolved, err := o.resolver.ResolveShare(ctx, parsed.CanonicalURL)
	if err != nil {
		return nil, err
	}

	o.logger.DebugWithFields("share URL resolved", map[string]interface{}{
		"share_url": parsed.CanonicalURL,
		"resolved":  resolved,
	})

	return urlrouter.Classify(resolved)
}

func (o *Orchestrator) extractFast(ctx context.Context, parsed *urlrouter.ParsedURL) (*media.Result, error) {
	extraction, err := o.fast.Extract(ctx, parsed.Shortcode, parsed.CanonicalURL)
	if err != nil {
		return nil, err
	}

	items, err := o.fetcher.Fetch(ctx, extraction.Shortcode, extraction.Refs, o.outputDir)
	if err != nil {
		return nil, err
	}

	return &media.Result{
		Shortcode: extraction.Shortcode,
		Caption:   extraction.Caption,
		Items:     items,
	}, nil
}

// extractHeavy runs the authenticated path. An authentication-class
// failure on the first attempt bans the current account, which rotates
// the pool, and the operation is retried once with the replacement.
func (o *Orchestrator) extractHeavy(ctx context.Context, parsed *urlrouter.ParsedURL) (*media.Result, error) {
	if o.factory == nil || o.manager == nil {
		return nil, errors.New(errors.ErrorTypeUnknown, "no heavy path configured")
	}

	var lastErr error
	for attempt := 1; attempt <= heavyAttempts; attempt++ {
		client, account, err := o.ensureHeavyClient(ctx)
		if err != nil {
			return nil, err
		}

		items, err := client.Fetch(ctx, parsed.CanonicalURL, o.outputDir)
		if err == nil {
			o.manager.MarkUsed(account)
			result := &media.Result{
				Shortcode: shortcodeFor(parsed),
				Items:     items,
			}
			o.enrich(ctx, client, parsed, result)
			return result, nil
		}

		lastErr = err
		if errors.IsAuthClass(err) && attempt < heavyAttempts {
			o.logger.WarnWithFields("heavy path authentication failed, rotating account", map[string]interface{}{
				"account": account.Username,
				"attempt": attempt,
				"error":   err.Error(),
			})
			o.manager.Ban(ctx, account, accounts.BanAuthFailed)
			o.dropHeavyClient()
			continue
		}
		break
	}

	return nil, errors.Wrap(errors.TypeOf(lastErr), "heavy path extraction failed", lastErr)
}

// ensureHeavyClient returns the cached client when it is still bound
// to the pool's current account, otherwise builds a fresh one.
func (o *Orchestrator) ensureHeavyClient(ctx context.Context) (HeavyClient, *accounts.Account, error) {
	current := o.manager.Current()
	if current == nil {
		if !o.manager.Rotate(ctx) {
			return nil, nil, errors.New(errors.ErrorTypeAuth, "no usable accounts in pool")
		}
		current = o.manager.Current()
	}

	if o.heavy != nil && o.heavyAccount == current {
		return o.heavy, current, nil
	}

	client, err := o.factory(current)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrorTypeAuth,
			fmt.Sprintf("building authenticated client for %s", current.Username), err)
	}

	o.heavy = client
	o.heavyAccount = current
	return client, current, nil
}

func (o *Orchestrator) dropHeavyClient() {
	o.heavy = nil
	o.heavyAccount = nil
}

// enrich fills descriptive fields from the heavy client's metadata
// lookup. A failure here never invalidates the download.
func (o *Orchestrator) enrich(ctx context.Context, client HeavyClient, parsed *urlrouter.ParsedURL, result *media.Result) {
	meta, err := client.Metadata(ctx, parsed.CanonicalURL)
	if err != nil {
		o.logger.DebugWithFields("metadata enrichment failed", map[string]interface{}{
			"url":   parsed.CanonicalURL,
			"error": err.Error(),
		})
		return
	}
	if meta == nil {
		return
	}

	if result.Caption == "" {
		result.Caption = meta.Caption
	}
	for i := range result.Items {
		if result.Items[i].Caption == "" {
			result.Items[i].Caption = meta.Caption
		}
		if result.Items[i].Duration == nil && meta.Duration != nil {
			result.Items[i].Duration = meta.Duration
		}
	}
}

func (o *Orchestrator) recordExtraction(path, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordExtraction(path, outcome)
	}
}

func shortcodeFor(parsed *urlrouter.ParsedURL) string {
	if parsed.Shortcode != "" {
		return parsed.Shortcode
	}
	return parsed.StoryID
}
