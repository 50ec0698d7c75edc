package accounts

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"igfetch/pkg/errors"
	"igfetch/pkg/proxy"
)

// BanReason is the closed set of reasons an account gets banned.
type BanReason string

const (
	BanChallengeRequired BanReason = "challenge_required"
	BanAuthFailed        BanReason = "auth_failed"
	BanRateLimited       BanReason = "rate_limited"
	BanLoginFailed       BanReason = "login_failed"
	BanUnknown           BanReason = "unknown"
)

// Account is one pool member. Ban state and last use are mutated only
// by the Manager. BanReason and BannedAt are set and cleared together.
type Account struct {
	Username   string
	Password   string
	TOTPSecret string
	// SessionOnly marks accounts loaded from a bare-username line;
	// they carry a pre-established session instead of credentials.
	SessionOnly bool
	Proxy       *proxy.Config
	SessionFile string
	LastUsed    *time.Time
	Banned      bool
	BanReason   BanReason
	BannedAt    *time.Time
}

// HasCredentials reports whether the account can be set up: either a
// password, with the TOTP seed optional, or a pre-established
// session.
func (a *Account) HasCredentials() bool {
	return a.SessionOnly || a.Password != ""
}

// ParseAccountLine parses one account source line. The format is
// "username|password|totp_secret", or a bare "username" for accounts
// that already carry a session. Blank lines, comments and malformed
// lines return nil.
func ParseAccountLine(line string) *Account {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	parts := strings.Split(line, "|")
	if len(parts) == 1 {
		username := strings.TrimSpace(parts[0])
		if username == "" {
			return nil
		}
		return &Account{Username: username, SessionOnly: true}
	}
	if len(parts) < 3 {
		return nil
	}

	username := strings.TrimSpace(parts[0])
	if username == "" {
		return nil
	}
	return &Account{
		Username:   username,
		Password:   strings.TrimSpace(parts[1]),
		TOTPSecret: strings.TrimSpace(parts[2]),
	}
}

// LoadAccounts reads the account source file. Duplicate usernames keep
// the later occurrence; this mirrors the source format's existing
// contract.
func LoadAccounts(path string) ([]*Account, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeUnknown, "opening accounts file", err)
	}
	defer file.Close()

	byUsername := make(map[string]int)
	var out []*Account

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		account := ParseAccountLine(scanner.Text())
		if account == nil {
			continue
		}
		if idx, seen := byUsername[account.Username]; seen {
			out[idx] = account
			continue
		}
		byUsername[account.Username] = len(out)
		out = append(out, account)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeUnknown, "reading accounts file", err)
	}

	return out, nil
}

// SessionFileFor returns the session blob path for a username. The
// blob itself is opaque; only the authenticated client reads it.
func SessionFileFor(dir, username string) string {
	return filepath.Join(dir, username+".json")
}

// ClassifyBanReason maps a setup error onto a ban reason. Typed errors
// are checked first; text heuristics are the documented last resort
// for errors surfaced by external collaborators.
func ClassifyBanReason(err error) BanReason {
	if err == nil {
		return BanUnknown
	}

	switch errors.TypeOf(err) {
	case errors.ErrorTypeAuth:
		return BanAuthFailed
	case errors.ErrorTypeRateLimit:
		return BanRateLimited
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "challenge"):
		return BanChallengeRequired
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return BanRateLimited
	case strings.Contains(msg, "login"):
		return BanLoginFailed
	case strings.Contains(msg, "auth") || strings.Contains(msg, "session expired"):
		return BanAuthFailed
	default:
		return BanUnknown
	}
}
