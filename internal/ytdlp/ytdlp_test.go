package ytdlp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igfetch/pkg/accounts"
	"igfetch/pkg/cookies"
	"igfetch/pkg/errors"
	"igfetch/pkg/logger"
	"igfetch/pkg/media"
)

func newTestClient(run func(ctx context.Context, name string, args ...string) ([]byte, error)) *Client {
	c := NewClient(&accounts.Account{Username: "alice"}, Options{Logger: logger.NewNop()})
	c.runCommand = run
	return c
}

func TestFetchCollectsNewFiles(t *testing.T) {
	outputDir := t.TempDir()
	// A leftover from an earlier run must not be picked up.
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "old.mp4"), []byte("x"), 0644))

	client := newTestClient(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		require.NoError(t, os.WriteFile(filepath.Join(outputDir, "instagram_1_1.mp4"), []byte("video"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(outputDir, "instagram_1_2.jpg"), []byte("photo"), 0644))
		return nil, nil
	})

	items, err := client.Fetch(context.Background(), "https://www.instagram.com/p/ABC/", outputDir)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, filepath.Join(outputDir, "instagram_1_1.mp4"), items[0].Path)
	assert.Equal(t, media.TypeVideo, items[0].Type)
	assert.Equal(t, media.TypePhoto, items[1].Type)
}

func TestFetchNoFilesIsEmptyMedia(t *testing.T) {
	client := newTestClient(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, nil
	})

	_, err := client.Fetch(context.Background(), "https://www.instagram.com/p/ABC/", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeEmptyMedia))
}

func TestFetchClassifiesAuthFailures(t *testing.T) {
	tests := []struct {
		output string
		want   errors.ErrorType
	}{
		{"ERROR: [Instagram] ABC: login required, use --cookies", errors.ErrorTypeAuth},
		{"ERROR: HTTP Error 403: Forbidden", errors.ErrorTypeAuth},
		{"ERROR: HTTP Error 429: Too Many Requests", errors.ErrorTypeRateLimit},
		{"ERROR: unable to download video data", errors.ErrorTypeDownloadFailed},
	}

	for _, tt := range tests {
		client := newTestClient(func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(tt.output), fmt.Errorf("exit status 1")
		})

		_, err := client.Fetch(context.Background(), "https://www.instagram.com/p/ABC/", t.TempDir())
		require.Error(t, err, tt.output)
		assert.True(t, errors.IsType(err, tt.want), tt.output)
	}
}

func TestFetchPassesCookieFile(t *testing.T) {
	cookiesDir := t.TempDir()
	cookieFile := cookies.FileFor(cookiesDir, "alice")
	require.NoError(t, os.WriteFile(cookieFile, []byte("# Netscape HTTP Cookie File\n"), 0600))

	var gotArgs []string
	client := NewClient(&accounts.Account{Username: "alice"}, Options{
		CookiesDir: cookiesDir,
		Logger:     logger.NewNop(),
	})
	outputDir := t.TempDir()
	client.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		require.NoError(t, os.WriteFile(filepath.Join(outputDir, "instagram_1_1.mp4"), []byte("v"), 0644))
		return nil, nil
	}

	_, err := client.Fetch(context.Background(), "https://www.instagram.com/p/ABC/", outputDir)
	require.NoError(t, err)
	assert.Contains(t, gotArgs, "--cookies")
	assert.Contains(t, gotArgs, cookieFile)
}

func TestMetadataParsesDescriptionAndDuration(t *testing.T) {
	client := newTestClient(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Contains(t, args, "-J")
		assert.Contains(t, args, "--skip-download")
		return []byte(`{"description": "a caption", "duration": 12.5}`), nil
	})

	meta, err := client.Metadata(context.Background(), "https://www.instagram.com/p/ABC/")
	require.NoError(t, err)
	assert.Equal(t, "a caption", meta.Caption)
	require.NotNil(t, meta.Duration)
	assert.Equal(t, 12.5, *meta.Duration)
}

func TestSessionAuthenticator(t *testing.T) {
	cookiesDir := t.TempDir()
	auth := &SessionAuthenticator{CookiesDir: cookiesDir}

	account := &accounts.Account{Username: "alice"}
	err := auth.Setup(context.Background(), account)
	require.Error(t, err)
	assert.Equal(t, accounts.BanLoginFailed, accounts.ClassifyBanReason(err))

	require.NoError(t, os.WriteFile(cookies.FileFor(cookiesDir, "alice"), []byte("#\n"), 0600))
	assert.NoError(t, auth.Setup(context.Background(), account))

	// A session reference file also satisfies setup.
	sessionFile := filepath.Join(t.TempDir(), "bob.json")
	require.NoError(t, os.WriteFile(sessionFile, []byte("{}"), 0600))
	bob := &accounts.Account{Username: "bob", SessionFile: sessionFile}
	assert.NoError(t, (&SessionAuthenticator{}).Setup(context.Background(), bob))
}
