package accounts

import (
	"encoding/json"
	"os"
	"time"
)

// accountState is the persisted record for one account. Credentials
// are deliberately absent; the state file only tracks pool health.
type accountState struct {
	Username    string     `json:"username"`
	Banned      bool       `json:"is_banned"`
	BanReason   BanReason  `json:"ban_reason,omitempty"`
	BannedAt    *time.Time `json:"banned_at,omitempty"`
	LastUsed    *time.Time `json:"last_used"`
	Proxy       string     `json:"proxy,omitempty"`
	SessionFile string     `json:"session_file,omitempty"`
}

type poolState struct {
	Accounts    []accountState `json:"accounts"`
	LastUpdated time.Time      `json:"last_updated"`
}

// loadState overlays persisted ban and usage state onto the loaded
// pool. Accounts present only in the state file are ignored; the
// source file defines the pool.
func (m *Manager) loadState() {
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.WarnWithFields("failed to read pool state", map[string]interface{}{
				"path":  m.stateFile,
				"error": err.Error(),
			})
		}
		return
	}

	var state poolState
	if err := json.Unmarshal(data, &state); err != nil {
		m.logger.WarnWithFields("failed to parse pool state", map[string]interface{}{
			"path":  m.stateFile,
			"error": err.Error(),
		})
		return
	}

	byUsername := make(map[string]*Account, len(m.accounts))
	for _, account := range m.accounts {
		byUsername[account.Username] = account
	}

	for _, saved := range state.Accounts {
		account, ok := byUsername[saved.Username]
		if !ok {
			continue
		}
		account.LastUsed = saved.LastUsed
		account.Banned = saved.Banned
		account.BanReason = saved.BanReason
		account.BannedAt = saved.BannedAt
		if saved.SessionFile != "" {
			account.SessionFile = saved.SessionFile
		}
	}
}

// saveStateLocked rewrites the full pool state. An unwritable target,
// such as a stale directory sitting at the state path, downgrades to a
// warning so the caller's operation is never failed by bookkeeping.
func (m *Manager) saveStateLocked() {
	if m.stateFile == "" {
		return
	}

	if info, err := os.Stat(m.stateFile); err == nil && info.IsDir() {
		m.logger.WarnWithFields("pool state path is a directory, skipping save", map[string]interface{}{
			"path": m.stateFile,
		})
		return
	}

	state := poolState{LastUpdated: m.now()}
	for _, account := range m.accounts {
		state.Accounts = append(state.Accounts, accountState{
			Username:    account.Username,
			Banned:      account.Banned,
			BanReason:   account.BanReason,
			BannedAt:    account.BannedAt,
			LastUsed:    account.LastUsed,
			Proxy:       proxyLabel(account.Proxy),
			SessionFile: account.SessionFile,
		})
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		m.logger.WarnWithFields("failed to encode pool state", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	tempPath := m.stateFile + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		m.logger.WarnWithFields("failed to write pool state", map[string]interface{}{
			"path":  tempPath,
			"error": err.Error(),
		})
		return
	}
	if err := os.Rename(tempPath, m.stateFile); err != nil {
		os.Remove(tempPath)
		m.logger.WarnWithFields("failed to replace pool state", map[string]interface{}{
			"path":  m.stateFile,
			"error": err.Error(),
		})
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
