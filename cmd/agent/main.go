// agent audits Solidity contracts for security vulnerabilities.
//
// Usage:
//
//	agent server [--addr=:8000]
//	agent local --repo=<git-url> [--output=security_audit_results.txt] [--only-selected-files]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Iterative security audit agent for Solidity contracts",
	Long: `agent reviews Solidity source with a text-generation backend, running
repeated search and evaluate passes over an accumulating list of known issues.

It runs either as a webhook server that audits contracts on request and posts
findings back, or locally against a single git repository.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(localCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
