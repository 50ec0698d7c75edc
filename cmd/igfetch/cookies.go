package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igfetch/pkg/cookies"
)

// cookiesCmd represents the cookies command
var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Manage per-account cookie files",
	Long: `Manage the per-account Netscape cookie files the authenticated
downloader consumes.

Cookie values come from a logged-in browser session: open Developer
Tools, go to Application/Storage > Cookies for instagram.com, and copy
the cookie header as a single "name=value; name=value" string.`,
}

// cookiesImportCmd represents the cookies import command
var cookiesImportCmd = &cobra.Command{
	Use:   "import <username>",
	Short: "Import a raw cookie string for an account",
	Long: `Import a raw "name=value; name=value" cookie string for an account
and write it as a Netscape cookie file under the configured cookies
directory. The value is read from a hidden prompt so it stays out of
shell history.`,
	Example: `  # Import cookies for an account
  igfetch cookies import myaccount`,
	Args: cobra.ExactArgs(1),
	RunE: runCookiesImport,
}

func init() {
	rootCmd.AddCommand(cookiesCmd)
	cookiesCmd.AddCommand(cookiesImportCmd)
}

func runCookiesImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	username := strings.TrimSpace(args[0])
	if username == "" {
		return fmt.Errorf("username is required")
	}

	fmt.Print("Cookie string (hidden): ")
	raw, err := readHidden()
	if err != nil {
		return fmt.Errorf("reading cookie string: %w", err)
	}

	parsed := cookies.ParseRawCookieString(raw)
	if len(parsed) == 0 {
		return fmt.Errorf("no cookies found in input, expected \"name=value; name=value\"")
	}

	path := cookies.FileFor(cfg.Accounts.CookiesDir, username)
	if err := cookies.WriteNetscapeFile(path, parsed); err != nil {
		return fmt.Errorf("writing cookie file: %w", err)
	}

	fmt.Printf("Wrote %d cookie(s) to %s\n", len(parsed), path)
	return nil
}

// readHidden reads a line from stdin without echoing it.
func readHidden() (string, error) {
	value, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(value)), nil
}
