package accounts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igfetch/pkg/errors"
	"igfetch/pkg/logger"
)

type fakeAuthenticator struct {
	failFor map[string]error
	calls   []string
}

func (f *fakeAuthenticator) Setup(ctx context.Context, account *Account) error {
	f.calls = append(f.calls, account.Username)
	if f.failFor != nil {
		if err, ok := f.failFor[account.Username]; ok {
			return err
		}
	}
	return nil
}

func writeAccountsFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.txt")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0600))
	return path
}

func newTestManager(t *testing.T, lines string, auth Authenticator) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(Options{
		AccountsFile:                writeAccountsFile(t, lines),
		StateFile:                   filepath.Join(dir, "state.json"),
		SessionsDir:                 filepath.Join(dir, "sessions"),
		Authenticator:               auth,
		Logger:                      logger.NewNop(),
		DisableRecencyRandomization: true,
	})
	require.NoError(t, err)
	return m
}

func TestParseAccountLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want *Account
	}{
		{
			name: "full credentials",
			line: "alice|pw1|SEED1",
			want: &Account{Username: "alice", Password: "pw1", TOTPSecret: "SEED1"},
		},
		{
			name: "bare username",
			line: "bob",
			want: &Account{Username: "bob", SessionOnly: true},
		},
		{
			name: "extra fields tolerated",
			line: "carol|pw|SEED|note",
			want: &Account{Username: "carol", Password: "pw", TOTPSecret: "SEED"},
		},
		{name: "comment", line: "# a comment", want: nil},
		{name: "blank", line: "   ", want: nil},
		{name: "two fields", line: "dave|pw", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAccountLine(tt.line))
		})
	}
}

func TestLoadAccountsDuplicateKeepsLater(t *testing.T) {
	path := writeAccountsFile(t, "alice|first|SEED1\nbob|pw|SEED\nalice|second|SEED2\n")

	accounts, err := LoadAccounts(path)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "second", accounts[0].Password, "later duplicate wins")
	assert.Equal(t, "bob", accounts[1].Username)
}

func TestNewManagerSeededAccounts(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(Options{
		Accounts:                    []*Account{{Username: "solo", Password: "pw"}},
		StateFile:                   filepath.Join(dir, "state.json"),
		SessionsDir:                 filepath.Join(dir, "sessions"),
		Authenticator:               &fakeAuthenticator{},
		Logger:                      logger.NewNop(),
		DisableRecencyRandomization: true,
	})
	require.NoError(t, err)

	available := m.Available()
	require.Len(t, available, 1)
	assert.Equal(t, "solo", available[0].Username)
	assert.Equal(t, SessionFileFor(filepath.Join(dir, "sessions"), "solo"), available[0].SessionFile)

	require.True(t, m.Rotate(context.Background()))
	current := m.Current()
	require.NotNil(t, current)
	assert.Equal(t, "solo", current.Username)
}

func TestHasCredentials(t *testing.T) {
	assert.True(t, (&Account{Username: "a", Password: "p", TOTPSecret: "s"}).HasCredentials())
	assert.True(t, (&Account{Username: "a", SessionOnly: true}).HasCredentials())
	assert.True(t, (&Account{Username: "a", Password: "p"}).HasCredentials())
	assert.False(t, (&Account{Username: "a"}).HasCredentials())
}

func TestRotateVisitsDistinctAccounts(t *testing.T) {
	auth := &fakeAuthenticator{}
	m := newTestManager(t, "a1|pw|S\na2|pw|S\na3|pw|S\n", auth)

	seen := make(map[string]bool)
	base := time.Now()
	for i := 0; i < 3; i++ {
		// Advance the clock so each setup's last_used is distinct.
		step := time.Duration(i) * time.Minute
		m.now = func() time.Time { return base.Add(step) }
		require.True(t, m.Rotate(context.Background()))
		seen[m.Current().Username] = true
	}

	assert.Len(t, seen, 3, "three rotations visit three distinct accounts")
}

func TestNextPrefersOldestLastUsed(t *testing.T) {
	m := newTestManager(t, "a1|pw|S\na2|pw|S\na3|pw|S\n", &fakeAuthenticator{})

	old := time.Now().Add(-3 * time.Hour)
	older := time.Now().Add(-5 * time.Hour)
	m.accounts[0].LastUsed = &old
	m.accounts[2].LastUsed = &older

	assert.Equal(t, "a2", m.Next().Username, "never-used account is oldest")

	now := time.Now()
	m.accounts[1].LastUsed = &now
	assert.Equal(t, "a3", m.Next().Username)
}

func TestBannedAccountExcluded(t *testing.T) {
	m := newTestManager(t, "a1|pw|S\na2|pw|S\n", &fakeAuthenticator{})

	m.Ban(context.Background(), m.accounts[0], BanAuthFailed)

	available := m.Available()
	require.Len(t, available, 1)
	assert.Equal(t, "a2", available[0].Username)
	assert.Equal(t, "a2", m.Next().Username)

	banned := m.accounts[0]
	assert.True(t, banned.Banned)
	assert.Equal(t, BanAuthFailed, banned.BanReason)
	require.NotNil(t, banned.BannedAt)
}

func TestBanRotatesToFreshAccount(t *testing.T) {
	auth := &fakeAuthenticator{}
	m := newTestManager(t, "a1|pw|S\na2|pw|S\n", auth)
	require.True(t, m.Rotate(context.Background()))
	first := m.Current()

	m.Ban(context.Background(), first, BanAuthFailed)

	current := m.Current()
	require.NotNil(t, current)
	assert.NotEqual(t, first.Username, current.Username)
}

func TestSetupFailureBansAndReturnsFalse(t *testing.T) {
	auth := &fakeAuthenticator{failFor: map[string]error{
		"bad": errors.New(errors.ErrorTypeAuth, "login_required"),
	}}
	m := newTestManager(t, "bad|pw|S\n", auth)

	ok := m.Setup(context.Background(), m.accounts[0])
	assert.False(t, ok)
	assert.True(t, m.accounts[0].Banned)
	assert.Equal(t, BanAuthFailed, m.accounts[0].BanReason)
	assert.Nil(t, m.Current())
}

func TestRotateSkipsFailingAccounts(t *testing.T) {
	auth := &fakeAuthenticator{failFor: map[string]error{
		"bad1": errors.New(errors.ErrorTypeAuth, "login_required"),
		"bad2": errors.New(errors.ErrorTypeRateLimit, "too many requests"),
	}}
	m := newTestManager(t, "bad1|pw|S\nbad2|pw|S\ngood|pw|S\n", auth)

	require.True(t, m.Rotate(context.Background()))
	assert.Equal(t, "good", m.Current().Username)
	assert.True(t, m.accounts[0].Banned)
	assert.True(t, m.accounts[1].Banned)
}

func TestResetOlderThan(t *testing.T) {
	m := newTestManager(t, "a1|pw|S\na2|pw|S\na3|pw|S\n", &fakeAuthenticator{})

	stale := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-1 * time.Hour)
	m.accounts[0].Banned = true
	m.accounts[0].BanReason = BanAuthFailed
	m.accounts[0].BannedAt = &stale
	m.accounts[1].Banned = true
	m.accounts[1].BanReason = BanRateLimited
	m.accounts[1].BannedAt = &fresh

	count := m.ResetOlderThan(24 * time.Hour)
	assert.Equal(t, 1, count)
	assert.False(t, m.accounts[0].Banned)
	assert.Empty(t, m.accounts[0].BanReason)
	assert.Nil(t, m.accounts[0].BannedAt)
	assert.True(t, m.accounts[1].Banned, "recent ban untouched")
}

func TestReset(t *testing.T) {
	m := newTestManager(t, "a1|pw|S\na2|pw|S\n", &fakeAuthenticator{})
	now := time.Now()
	for _, account := range m.accounts {
		account.Banned = true
		account.BanReason = BanUnknown
		account.BannedAt = &now
	}

	assert.Equal(t, 2, m.Reset())
	for _, account := range m.accounts {
		assert.False(t, account.Banned)
	}
}

func TestStatePersistsAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	accountsFile := writeAccountsFile(t, "a1|pw|S\na2|pw|S\n")
	stateFile := filepath.Join(dir, "state.json")

	opts := Options{
		AccountsFile:                accountsFile,
		StateFile:                   stateFile,
		SessionsDir:                 filepath.Join(dir, "sessions"),
		Authenticator:               &fakeAuthenticator{},
		Logger:                      logger.NewNop(),
		DisableRecencyRandomization: true,
	}

	m1, err := NewManager(opts)
	require.NoError(t, err)
	m1.Ban(context.Background(), m1.accounts[0], BanChallengeRequired)

	// The state file must not leak credentials.
	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "pw")
	var state map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &state))

	m2, err := NewManager(opts)
	require.NoError(t, err)
	assert.True(t, m2.accounts[0].Banned)
	assert.Equal(t, BanChallengeRequired, m2.accounts[0].BanReason)
	require.NotNil(t, m2.accounts[0].BannedAt)
	assert.False(t, m2.accounts[1].Banned)
}

func TestSaveSkippedWhenStatePathIsDirectory(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state.json")
	require.NoError(t, os.Mkdir(stateDir, 0755))

	m, err := NewManager(Options{
		AccountsFile:                writeAccountsFile(t, "a1|pw|S\n"),
		StateFile:                   stateDir,
		SessionsDir:                 filepath.Join(dir, "sessions"),
		Authenticator:               &fakeAuthenticator{},
		Logger:                      logger.NewNop(),
		DisableRecencyRandomization: true,
	})
	require.NoError(t, err)

	// Must not fail the mutating call.
	m.Ban(context.Background(), m.accounts[0], BanUnknown)

	info, statErr := os.Stat(stateDir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir(), "directory left untouched")
}

func TestClassifyBanReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want BanReason
	}{
		{"typed auth", errors.New(errors.ErrorTypeAuth, "bad session"), BanAuthFailed},
		{"typed rate limit", errors.New(errors.ErrorTypeRateLimit, "slow down"), BanRateLimited},
		{"challenge text", errString("challenge_required"), BanChallengeRequired},
		{"login text", errString("login failed for user"), BanLoginFailed},
		{"rate limit text", errString("rate limit exceeded"), BanRateLimited},
		{"session text", errString("session expired"), BanAuthFailed},
		{"unknown", errString("something odd"), BanUnknown},
		{"nil", nil, BanUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyBanReason(tt.err))
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
