package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/quotio/quotio-cli/internal/auth/store"
)

// accountsCmd groups account inspection operations.
var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Authenticated account management",
}

// accountsListCmd lists all stored credentials with their validity status.
var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List authenticated accounts",
	RunE:  executeAccountsListCommand,
}

func executeAccountsListCommand(cmd *cobra.Command, args []string) error {
	dir, err := store.DefaultDir()
	if err != nil {
		return err
	}
	st, err := store.New(dir)
	if err != nil {
		return err
	}

	creds, err := st.List("")
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		fmt.Println("No authenticated accounts")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Provider", "Account", "Method", "Status", "Expires"})

	now := time.Now().UTC()
	for _, sc := range creds {
		status := "valid"
		expires := "-"
		if sc.ExpiresAt != "" {
			if expiry, err := sc.ExpiresAtTime(); err == nil {
				expires = expiry.Format("2006-01-02 15:04 MST")
				if expiry.Before(now) {
					status = "expired"
				}
			} else {
				status = "unknown"
			}
		}
		t.AppendRow(table.Row{sc.Type, sc.Identifier(), sc.AuthMethod, status, expires})
	}

	t.Render()
	return nil
}

func init() {
	accountsCmd.AddCommand(accountsListCmd)
	rootCmd.AddCommand(accountsCmd)
}
