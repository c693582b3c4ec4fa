package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotio/quotio-cli/internal/auth/lifecycle"
	"github.com/quotio/quotio-cli/internal/auth/store"
	"github.com/quotio/quotio-cli/internal/auth/types"
	"github.com/quotio/quotio-cli/pkg/config"
)

var tokenRefreshVerbose bool

// tokenCmd groups token lifecycle operations.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Token lifecycle management",
}

// tokenRefreshCmd refreshes all stored credentials that are expired or about
// to expire.
var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh expired or expiring tokens",
	Long: "Evaluate every stored credential and refresh those that are " +
		"expired or expiring within the 5-minute buffer. Missing identity-center " +
		"client credentials are backfilled from the AWS SSO cache first.",
	RunE: executeTokenRefreshCommand,
}

func executeTokenRefreshCommand(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	dir, err := store.DefaultDir()
	if err != nil {
		return err
	}
	st, err := store.New(dir)
	if err != nil {
		return err
	}

	manager := lifecycle.NewManager(st, lifecycle.WithSocialRefreshURL(cfg.SocialRefreshURL))

	fmt.Println("Refreshing tokens...")
	count, err := manager.RefreshAll(context.Background(), types.ProviderKiro, tokenRefreshVerbose)
	if err != nil {
		return err
	}

	fmt.Printf("\nRefreshed %d token(s)\n", count)
	return nil
}

func init() {
	tokenRefreshCmd.Flags().BoolVarP(&tokenRefreshVerbose, "verbose", "v", false, "Print the staleness decision for every credential")

	tokenCmd.AddCommand(tokenRefreshCmd)
	rootCmd.AddCommand(tokenCmd)
}
