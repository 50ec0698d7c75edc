package pipeline

import (
	"context"

	"igfetch/pkg/accounts"
	"igfetch/pkg/media"
)

// Metadata is the best-effort enrichment the heavy client can provide
// on top of an already-downloaded result.
type Metadata struct {
	Caption  string
	Duration *float64
}

// HeavyClient is the authenticated downloader collaborator. It owns
// its own session handling; the orchestrator only borrows the pool's
// current account to construct one.
type HeavyClient interface {
	// Fetch downloads every media item behind url into outputDir.
	Fetch(ctx context.Context, url, outputDir string) ([]media.Item, error)

	// Metadata returns descriptive fields for url. Failures here never
	// invalidate a completed Fetch.
	Metadata(ctx context.Context, url string) (*Metadata, error)
}

// HeavyClientFactory builds a heavy client bound to one account. The
// orchestrator calls it lazily and again after every rotation.
type HeavyClientFactory func(account *accounts.Account) (HeavyClient, error)
