package ytdlp

import (
	"context"
	"fmt"
	"os"

	"igfetch/pkg/accounts"
	"igfetch/pkg/cookies"
)

// SessionAuthenticator validates that an account has a usable session
// artifact on disk. Interactive sign-in is outside this program; the
// cookie and session files are produced by the import tooling, so
// setup here only has to confirm they exist.
type SessionAuthenticator struct {
	CookiesDir string
}

// Setup returns nil when the account has a cookie file or session
// reference to work with, and a login error otherwise.
func (a *SessionAuthenticator) Setup(ctx context.Context, account *accounts.Account) error {
	if a.CookiesDir != "" {
		if _, err := os.Stat(cookies.FileFor(a.CookiesDir, account.Username)); err == nil {
			return nil
		}
	}
	if account.SessionFile != "" {
		if _, err := os.Stat(account.SessionFile); err == nil {
			return nil
		}
	}
	return fmt.Errorf("login required: no session artifacts for %s", account.Username)
}
