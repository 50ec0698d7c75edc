package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"igfetch/internal/ytdlp"
	"igfetch/pkg/accounts"
	"igfetch/pkg/config"
	"igfetch/pkg/logger"
	"igfetch/pkg/proxy"
)

var resetOlderThan time.Duration

// accountsCmd represents the accounts command
var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect and manage the account pool",
	Long: `Inspect and manage the rotating account pool.

The pool is built from the accounts file (one account per line,
username|password|totp-seed, or a bare username for accounts with a
pre-established session). Ban and usage state is kept in the state
file and survives restarts.`,
}

var accountsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every account's ban state, proxy and last use",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openManager()
		if err != nil {
			return err
		}

		status := manager.Status()
		fmt.Printf("Accounts: %d total, %d available, %d banned\n", status.Total, status.Available, status.Banned)
		if status.Current != "" {
			fmt.Printf("Current: %s\n", status.Current)
		}
		fmt.Println()

		for _, a := range status.Accounts {
			state := "ok"
			if a.Banned {
				state = fmt.Sprintf("banned (%s)", a.BanReason)
			}
			lastUsed := "never"
			if a.LastUsed != nil {
				lastUsed = a.LastUsed.Format(time.RFC3339)
			}
			session := "no session"
			if a.HasSession {
				session = "session"
			}
			fmt.Printf("  %-20s %-28s proxy=%-24s last_used=%-25s %s\n",
				a.Username, state, a.Proxy, lastUsed, session)
		}
		return nil
	},
}

var accountsRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the pool to the next usable account",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openManager()
		if err != nil {
			return err
		}

		if !manager.Rotate(context.Background()) {
			return fmt.Errorf("no usable account to rotate to")
		}
		fmt.Printf("Current account: %s\n", manager.Current().Username)
		return nil
	},
}

var accountsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear ban state for accounts",
	Long: `Clear ban state for accounts.

Without flags every ban is lifted. With --older-than only bans placed
before the cutoff are lifted, which is the usual way to give timed-out
accounts another chance.`,
	Example: `  # Unban everything
  igfetch accounts reset

  # Unban accounts banned more than 24 hours ago
  igfetch accounts reset --older-than 24h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openManager()
		if err != nil {
			return err
		}

		var n int
		if resetOlderThan > 0 {
			n = manager.ResetOlderThan(resetOlderThan)
		} else {
			n = manager.Reset()
		}
		fmt.Printf("Unbanned %d account(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsStatusCmd)
	accountsCmd.AddCommand(accountsRotateCmd)
	accountsCmd.AddCommand(accountsResetCmd)

	accountsResetCmd.Flags().DurationVar(&resetOlderThan, "older-than", 0, "only reset bans older than this duration")
}

// openManager loads configuration and the account pool for the
// management subcommands.
func openManager() (*accounts.Manager, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	return managerFromConfig(cfg, logger.GetLogger())
}

func managerFromConfig(cfg *config.Config, log logger.Logger) (*accounts.Manager, error) {
	return accounts.NewManager(accounts.Options{
		AccountsFile:  cfg.Accounts.File,
		StateFile:     cfg.Accounts.StateFile,
		SessionsDir:   cfg.Accounts.SessionsDir,
		Assigner:      proxy.FromConfig(cfg, log),
		Authenticator: &ytdlp.SessionAuthenticator{CookiesDir: cfg.Accounts.CookiesDir},
		Logger:        log,
	})
}
