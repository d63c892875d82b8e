package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

type probeOptions struct {
	host        string
	port        int
	security    string
	username    string
	password    string
	insecure    bool
	timeout     time.Duration
	sentFolders []string
}

func newProbeCmd() *cobra.Command {
	opts := probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Log in to an IMAP server and report the folders a sync would read",
		Long: `Log in to an IMAP server, list its folders and report the message counts
of INBOX and the resolved Sent folder. Nothing on the server is modified.

The password defaults to MAILSYNC_PROBE_PASSWORD.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.password == "" {
				opts.password = os.Getenv("MAILSYNC_PROBE_PASSWORD")
			}
			return runProbe(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "IMAP host (required)")
	cmd.Flags().IntVar(&opts.port, "port", 993, "IMAP port")
	cmd.Flags().StringVar(&opts.security, "security", models.SecuritySSL, "Connection security: ssl, starttls or none")
	cmd.Flags().StringVar(&opts.username, "username", "", "IMAP username (required)")
	cmd.Flags().StringVar(&opts.password, "password", "", "IMAP password (default $MAILSYNC_PROBE_PASSWORD)")
	cmd.Flags().BoolVar(&opts.insecure, "insecure", false, "Accept self-signed or mismatched certificates")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", imap.DefaultTimeout, "Connection and command timeout")
	cmd.Flags().StringSliceVar(&opts.sentFolders, "sent-folder", []string{"Sent", "Sent Items", "Sent Mail", "Sent Messages", "[Gmail]/Sent Mail", "INBOX.Sent"}, "Sent folder candidates, in order")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func runProbe(ctx context.Context, cmd *cobra.Command, opts probeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	session, err := imap.NewDialer(opts.timeout).Dial(ctx, imap.Endpoint{
		Host:               opts.host,
		Port:               opts.port,
		Security:           opts.security,
		Username:           opts.username,
		Password:           opts.password,
		RejectUnauthorized: !opts.insecure,
		Timeout:            opts.timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = session.Logout() }()

	_, _ = fmt.Fprintf(out, "Logged in to %s as %s\n", opts.host, opts.username)

	folders, err := session.ListFolders()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Folders (%d):\n", len(folders))
	for _, f := range folders {
		if len(f.Attributes) > 0 {
			_, _ = fmt.Fprintf(out, "  %s [%s]\n", f.Name, strings.Join(f.Attributes, " "))
		} else {
			_, _ = fmt.Fprintf(out, "  %s\n", f.Name)
		}
	}

	inbox, err := session.OpenFolder("INBOX")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "INBOX: %d messages\n", inbox.Messages)

	sent, err := session.ResolveFolder(opts.sentFolders)
	if err != nil {
		if imap.IsKind(err, imap.KindFolderNotFound) {
			_, _ = fmt.Fprintln(out, "Sent: not found")
			return nil
		}
		return err
	}
	sentInfo, err := session.OpenFolder(sent)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Sent (%s): %d messages\n", sent, sentInfo.Messages)
	return nil
}
