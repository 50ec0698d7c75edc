package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"igfetch/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored account credentials",
	Long: `Manage stored account credentials securely.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read-only fallback)

These are the fallback for running without an accounts file: a single
stored account is used for the authenticated path.`,
}

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store account credentials securely",
	Long: `Store an account's password and optional TOTP seed in the system
keychain or the encrypted credential file. Values are read from hidden
prompts so they stay out of shell history.`,
	Example: `  # Interactive login
  igfetch auth login

  # Login with username
  igfetch auth login myusername`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout <username>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return fmt.Errorf("initializing credential manager: %w", err)
		}
		if err := manager.Delete(args[0]); err != nil {
			return fmt.Errorf("removing credentials: %w", err)
		}
		fmt.Printf("Removed credentials for %s\n", args[0])
		return nil
	},
}

// authListCmd represents the auth list command
var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return fmt.Errorf("initializing credential manager: %w", err)
		}
		accounts, err := manager.List()
		if err != nil {
			return fmt.Errorf("listing accounts: %w", err)
		}
		if len(accounts) == 0 {
			fmt.Println("No stored accounts")
			return nil
		}
		for _, account := range accounts {
			sanitized := auth.SanitizeAccount(account)
			totp := "no 2FA seed"
			if account.TOTPSecret != "" {
				totp = "2FA seed stored"
			}
			fmt.Printf("  %-20s password=%s  %s  (modified %s)\n",
				sanitized.Username, sanitized.Password, totp,
				account.LastModified.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authListCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("initializing credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		fmt.Print("Username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading username: %w", err)
		}
		username = strings.TrimSpace(input)
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	if existing, _ := manager.Retrieve(username); existing != nil {
		fmt.Printf("Account %q already exists. Update credentials? (y/N): ", username)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("Password (hidden): ")
	password, err := readHidden()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	fmt.Print("TOTP seed (hidden, Enter to skip): ")
	totpSecret, err := readHidden()
	if err != nil {
		return fmt.Errorf("reading TOTP seed: %w", err)
	}

	account := &auth.Account{
		Username:     username,
		Password:     password,
		TOTPSecret:   totpSecret,
		LastModified: time.Now(),
	}
	if err := manager.Store(account); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}

	fmt.Printf("Stored credentials for %s\n", username)
	return nil
}
