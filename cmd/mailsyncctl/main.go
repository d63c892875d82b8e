package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mailsyncctl",
		Short: "Mailsync operator tool",
		Long: `Mailsync operator tool.

Encrypts mailbox passwords for storage, checks that an IMAP server is
reachable with given credentials, and runs a one-off sync for an account.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(newEncryptPasswordCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newSyncCmd())
	return rootCmd
}
