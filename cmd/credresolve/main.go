// credresolve resolves named credentials from an environment store or a
// remote vault, and can watch them on a schedule.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "credresolve",
	Short: "credresolve: resolve credentials from env files or a secret vault.",
	Long: `credresolve fetches a fixed set of named secrets from exactly one backend
(environment store or remote vault) and either hands back a complete
bundle or fails with the first missing name. Values are never logged.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(resolveCmd, serveCmd, auditCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			fmt.Fprintf(os.Stderr, "error: %v\n", ee.err)
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(ExitFailure)
	}
}
