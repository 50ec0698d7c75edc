package accounts

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"igfetch/pkg/logger"
	"igfetch/pkg/metrics"
	"igfetch/pkg/proxy"
)

// rotateAttempts caps how many accounts one rotation will try.
const rotateAttempts = 5

// Authenticator performs the delegated authentication handshake for an
// account. Implementations decide what "setup" means: verifying a
// session blob, running a login flow, or anything in between.
type Authenticator interface {
	Setup(ctx context.Context, account *Account) error
}

// Options configures a Manager.
type Options struct {
	// AccountsFile is the account source file.
	AccountsFile string
	// Accounts seeds the pool directly instead of reading
	// AccountsFile, for callers that already hold credential
	// material such as the stored-credential fallback.
	Accounts []*Account
	// StateFile is the persisted pool state path.
	StateFile string
	// SessionsDir holds the per-account session blobs.
	SessionsDir string
	// Assigner maps accounts onto proxies. Nil leaves accounts
	// proxyless.
	Assigner *proxy.Assigner
	// Authenticator runs the account setup handshake.
	Authenticator Authenticator
	// Metrics records bans and rotations. Nil disables.
	Metrics *metrics.Collector
	// Logger for pool events.
	Logger logger.Logger
	// DisableRecencyRandomization makes Next fully deterministic,
	// used by tests.
	DisableRecencyRandomization bool
}

// Manager owns the account pool: selection, rotation, the ban
// lifecycle and durable state. It is safe for concurrent use, though
// the pool state file is not safe to share between processes.
type Manager struct {
	mu       sync.Mutex
	accounts []*Account
	current  *Account

	stateFile   string
	sessionsDir string
	auth        Authenticator
	metrics     *metrics.Collector
	logger      logger.Logger

	randomizeRecency bool
	now              func() time.Time
	randIntn         func(int) int
}

// NewManager loads the account pool from opts.Accounts, or from
// opts.AccountsFile when no seed is given, assigns proxies, and
// overlays any persisted state.
func NewManager(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	accounts := opts.Accounts
	if len(accounts) == 0 {
		loaded, err := LoadAccounts(opts.AccountsFile)
		if err != nil {
			return nil, err
		}
		accounts = loaded
	}

	for _, account := range accounts {
		if opts.Assigner != nil {
			account.Proxy = opts.Assigner.Assign(account.Username)
		}
		account.SessionFile = SessionFileFor(opts.SessionsDir, account.Username)
	}

	m := &Manager{
		accounts:         accounts,
		stateFile:        opts.StateFile,
		sessionsDir:      opts.SessionsDir,
		auth:             opts.Authenticator,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
		randomizeRecency: !opts.DisableRecencyRandomization,
		now:              time.Now,
		randIntn:         rand.Intn,
	}

	m.loadState()

	m.logger.InfoWithFields("account pool loaded", map[string]interface{}{
		"total":     len(m.accounts),
		"available": len(m.availableLocked()),
	})

	return m, nil
}

// All returns every account in the pool, banned ones included.
func (m *Manager) All() []*Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Account, len(m.accounts))
	copy(out, m.accounts)
	return out
}

// Available returns the non-banned accounts with complete credentials.
func (m *Manager) Available() []*Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableLocked()
}

func (m *Manager) availableLocked() []*Account {
	var out []*Account
	for _, account := range m.accounts {
		if !account.Banned && account.HasCredentials() {
			out = append(out, account)
		}
	}
	return out
}

// Next picks the available account with the oldest last use, nulls
// first. When the oldest candidate was used within the last hour and
// there is a choice, one of the three oldest is picked at random so
// the access pattern is not perfectly periodic.
func (m *Manager) Next() *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLocked()
}

func (m *Manager) nextLocked() *Account {
	available := m.availableLocked()
	if len(available) == 0 {
		m.logger.Error("no available accounts for rotation")
		return nil
	}

	sort.SliceStable(available, func(i, j int) bool {
		li, lj := available[i].LastUsed, available[j].LastUsed
		switch {
		case li == nil:
			return lj != nil
		case lj == nil:
			return false
		default:
			return li.Before(*lj)
		}
	})

	top := available[0]
	if m.randomizeRecency && len(available) > 1 && top.LastUsed != nil && m.now().Sub(*top.LastUsed) < time.Hour {
		candidates := available
		if len(candidates) > 3 {
			candidates = candidates[:3]
		}
		return candidates[m.randIntn(len(candidates))]
	}

	return top
}

// Setup runs the authentication handshake for an account. Success
// updates last_used and persists. Failure classifies the error, bans
// the account with that reason, persists, and returns false. Setup
// never propagates the underlying error.
func (m *Manager) Setup(ctx context.Context, account *Account) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setupLocked(ctx, account)
}

func (m *Manager) setupLocked(ctx context.Context, account *Account) bool {
	m.logger.InfoWithFields("setting up account", map[string]interface{}{
		"username": account.Username,
	})

	if m.auth != nil {
		if err := m.auth.Setup(ctx, account); err != nil {
			reason := ClassifyBanReason(err)
			m.logger.WarnWithFields("account setup failed", map[string]interface{}{
				"username": account.Username,
				"reason":   string(reason),
				"error":    err.Error(),
			})
			m.banLocked(account, reason)
			m.saveStateLocked()
			return false
		}
	}

	now := m.now()
	account.LastUsed = &now
	m.current = account
	m.saveStateLocked()

	m.logger.InfoWithFields("account ready", map[string]interface{}{
		"username": account.Username,
		"proxy":    proxyLabel(account.Proxy),
	})
	return true
}

// Rotate moves the pool onto the next usable account, trying up to
// min(5, pool size) candidates. Accounts that fail setup are already
// banned by Setup and skipped on the following iteration.
func (m *Manager) Rotate(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked(ctx)
}

func (m *Manager) rotateLocked(ctx context.Context) bool {
	attempts := rotateAttempts
	if len(m.accounts) < attempts {
		attempts = len(m.accounts)
	}

	for i := 0; i < attempts; i++ {
		next := m.nextLocked()
		if next == nil {
			return false
		}
		if next == m.current {
			m.logger.Debug("already on the best available account")
			return true
		}

		m.logger.InfoWithFields("rotating account", map[string]interface{}{
			"from": currentLabel(m.current),
			"to":   next.Username,
		})
		if m.setupLocked(ctx, next) {
			if m.metrics != nil {
				m.metrics.RecordRotation()
			}
			return true
		}
	}

	m.logger.Error("rotation exhausted all candidates")
	return false
}

// Ban marks an account banned with a reason and timestamp, persists,
// then rotates so the pool keeps a usable current account when one
// exists.
func (m *Manager) Ban(ctx context.Context, account *Account, reason BanReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WarnWithFields("banning account", map[string]interface{}{
		"username": account.Username,
		"reason":   string(reason),
	})
	m.banLocked(account, reason)
	m.saveStateLocked()

	if m.rotateLocked(ctx) {
		m.logger.Info("rotated to a fresh account after ban")
	} else {
		m.logger.Error("no accounts available after ban")
	}
}

func (m *Manager) banLocked(account *Account, reason BanReason) {
	now := m.now()
	account.Banned = true
	account.BanReason = reason
	account.BannedAt = &now
	if m.current == account {
		m.current = nil
	}
	if m.metrics != nil {
		m.metrics.RecordBan(string(reason))
	}
}

// Reset clears ban state on every account.
func (m *Manager) Reset() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, account := range m.accounts {
		if account.Banned {
			m.unban(account)
			count++
		}
	}
	m.saveStateLocked()
	m.logger.InfoWithFields("reset banned accounts", map[string]interface{}{
		"count": count,
	})
	return count
}

// ResetOlderThan clears ban state only for accounts banned before the
// cutoff.
func (m *Manager) ResetOlderThan(age time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-age)
	count := 0
	for _, account := range m.accounts {
		if account.Banned && account.BannedAt != nil && account.BannedAt.Before(cutoff) {
			m.unban(account)
			count++
		}
	}
	m.saveStateLocked()
	m.logger.InfoWithFields("reset stale bans", map[string]interface{}{
		"count":  count,
		"cutoff": cutoff,
	})
	return count
}

func (m *Manager) unban(account *Account) {
	account.Banned = false
	account.BanReason = ""
	account.BannedAt = nil
}

// Current returns the current account, or nil when none is set up.
func (m *Manager) Current() *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// MarkUsed updates an account's last use timestamp and persists.
func (m *Manager) MarkUsed(account *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	account.LastUsed = &now
	m.saveStateLocked()
}

// AccountStatus is one row of a pool status report.
type AccountStatus struct {
	Username   string     `json:"username"`
	Banned     bool       `json:"is_banned"`
	BanReason  BanReason  `json:"ban_reason,omitempty"`
	Proxy      string     `json:"proxy,omitempty"`
	LastUsed   *time.Time `json:"last_used"`
	HasSession bool       `json:"has_session"`
}

// Status is a snapshot of the pool.
type Status struct {
	Total     int             `json:"total_accounts"`
	Available int             `json:"available_accounts"`
	Banned    int             `json:"banned_accounts"`
	Current   string          `json:"current_account,omitempty"`
	Accounts  []AccountStatus `json:"accounts"`
}

// Status reports the pool state for operator tooling.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		Total:     len(m.accounts),
		Available: len(m.availableLocked()),
		Current:   currentLabel(m.current),
	}
	if status.Current == "none" {
		status.Current = ""
	}

	for _, account := range m.accounts {
		if account.Banned {
			status.Banned++
		}
		status.Accounts = append(status.Accounts, AccountStatus{
			Username:   account.Username,
			Banned:     account.Banned,
			BanReason:  account.BanReason,
			Proxy:      proxyLabel(account.Proxy),
			LastUsed:   account.LastUsed,
			HasSession: fileExists(account.SessionFile),
		})
	}
	return status
}

func proxyLabel(p *proxy.Config) string {
	if p == nil {
		return ""
	}
	return p.URL()
}

func currentLabel(account *Account) string {
	if account == nil {
		return "none"
	}
	return account.Username
}
