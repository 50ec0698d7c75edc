// Package ytdlp shells out to the yt-dlp binary as the authenticated
// heavy-path downloader. It feeds yt-dlp the per-account cookie file
// and reports authentication problems as typed errors so the pipeline
// can apply its rotation policy.
package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"igfetch/pkg/accounts"
	"igfetch/pkg/cookies"
	"igfetch/pkg/errors"
	"igfetch/pkg/logger"
	"igfetch/pkg/media"
	"igfetch/pkg/pipeline"
)

const defaultBinary = "yt-dlp"

// Best single-file mp4, falling back to whatever is available.
const formatString = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// Client downloads one URL at a time through yt-dlp, bound to a single
// account's cookie file.
type Client struct {
	account    *accounts.Account
	binary     string
	cookiesDir string
	timeout    time.Duration
	logger     logger.Logger

	// runCommand is swappable so tests can avoid the real binary.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Options configures the yt-dlp adapter.
type Options struct {
	// Binary overrides the yt-dlp executable name or path.
	Binary string
	// CookiesDir holds the per-account Netscape cookie files.
	CookiesDir string
	// Timeout bounds a single yt-dlp invocation.
	Timeout time.Duration
	Logger  logger.Logger
}

// NewClient creates a yt-dlp client bound to account.
func NewClient(account *accounts.Account, opts Options) *Client {
	if opts.Binary == "" {
		opts.Binary = defaultBinary
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &Client{
		account:    account,
		binary:     opts.Binary,
		cookiesDir: opts.CookiesDir,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
		runCommand: runCombined,
	}
}

// NewFactory returns a factory producing one client per account, for
// the pipeline to call after every rotation.
func NewFactory(opts Options) pipeline.HeavyClientFactory {
	return func(account *accounts.Account) (pipeline.HeavyClient, error) {
		return NewClient(account, opts), nil
	}
}

// CheckInstalled verifies the yt-dlp binary is on the path.
func CheckInstalled(binary string) error {
	if binary == "" {
		binary = defaultBinary
	}
	if err := exec.Command(binary, "--version").Run(); err != nil {
		return fmt.Errorf("%s not found: %w (install: pip install yt-dlp)", binary, err)
	}
	return nil
}

// Fetch downloads every media item behind url into outputDir. New
// files are detected by diffing the directory around the invocation,
// because yt-dlp decides the final names itself.
func (c *Client) Fetch(ctx context.Context, url, outputDir string) ([]media.Item, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeDownloadFailed, "creating output directory", err)
	}

	before, err := listFiles(outputDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeDownloadFailed, "reading output directory", err)
	}

	args := []string{
		"-o", filepath.Join(outputDir, "instagram_%(id)s_%(autonumber)s.%(ext)s"),
		"-f", formatString,
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--restrict-filenames",
	}
	args = c.appendCookieArgs(args)
	args = append(args, url)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.DebugWithFields("invoking yt-dlp", map[string]interface{}{
		"account": c.account.Username,
		"url":     url,
	})

	output, err := c.runCommand(ctx, c.binary, args...)
	if err != nil {
		return nil, classifyRunError(err, string(output))
	}

	after, err := listFiles(outputDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeDownloadFailed, "reading output directory", err)
	}

	var fresh []string
	for path := range after {
		if !before[path] {
			fresh = append(fresh, path)
		}
	}
	sort.Strings(fresh)

	var items []media.Item
	for _, path := range fresh {
		items = append(items, media.Item{Path: path, Type: typeForPath(path)})
	}
	if len(items) == 0 {
		return nil, errors.New(errors.ErrorTypeEmptyMedia, "yt-dlp produced no files")
	}
	return items, nil
}

// Metadata asks yt-dlp for the post description and duration without
// downloading anything.
func (c *Client) Metadata(ctx context.Context, url string) (*pipeline.Metadata, error) {
	args := []string{"-J", "--skip-download", "--no-playlist"}
	args = c.appendCookieArgs(args)
	args = append(args, url)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output, err := c.runCommand(ctx, c.binary, args...)
	if err != nil {
		return nil, classifyRunError(err, string(output))
	}

	var info struct {
		Description string   `json:"description"`
		Duration    *float64 `json:"duration"`
	}
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeParsing, "parsing yt-dlp metadata", err)
	}

	return &pipeline.Metadata{Caption: info.Description, Duration: info.Duration}, nil
}

func (c *Client) appendCookieArgs(args []string) []string {
	if c.cookiesDir == "" || c.account == nil {
		return args
	}
	cookieFile := cookies.FileFor(c.cookiesDir, c.account.Username)
	if _, err := os.Stat(cookieFile); err != nil {
		c.logger.WarnWithFields("no cookie file for account", map[string]interface{}{
			"account": c.account.Username,
			"path":    cookieFile,
		})
		return args
	}
	return append(args, "--cookies", cookieFile)
}

func runCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// classifyRunError inspects yt-dlp's output to decide whether a
// failure is an authentication problem, a rate limit, or a plain
// download failure.
func classifyRunError(err error, output string) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "login required") ||
		strings.Contains(lower, "login_required") ||
		strings.Contains(lower, "cookies are no longer valid") ||
		strings.Contains(lower, "http error 401") ||
		strings.Contains(lower, "http error 403"):
		return errors.Wrap(errors.ErrorTypeAuth,
			fmt.Sprintf("yt-dlp authentication failed: %s", firstLine(output)), err)
	case strings.Contains(lower, "http error 429") ||
		strings.Contains(lower, "rate-limit") ||
		strings.Contains(lower, "rate limit"):
		return errors.Wrap(errors.ErrorTypeRateLimit,
			fmt.Sprintf("yt-dlp rate limited: %s", firstLine(output)), err)
	default:
		return errors.Wrap(errors.ErrorTypeDownloadFailed,
			fmt.Sprintf("yt-dlp failed: %s", firstLine(output)), err)
	}
}

func firstLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR") {
			return line
		}
	}
	trimmed := strings.TrimSpace(output)
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

func listFiles(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files[filepath.Join(dir, entry.Name())] = true
	}
	return files, nil
}

func typeForPath(path string) media.Type {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return media.TypePhoto
	default:
		return media.TypeVideo
	}
}
