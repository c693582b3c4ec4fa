// Package cmd wires the CLI command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the quotio CLI.
var rootCmd = &cobra.Command{
	Use:   "quotio",
	Short: "Server-side OAuth authentication and credential management",
	Long: "Quotio authenticates a headless host against Kiro-style providers " +
		"(Google social OAuth and AWS IAM Identity Center) and keeps the stored " +
		"credentials fresh for the downstream inference proxy.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
