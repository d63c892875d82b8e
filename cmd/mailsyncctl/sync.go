package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/mailsync"
)

func newSyncCmd() *cobra.Command {
	var (
		userID    string
		accountID string
		maxEmails int
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync for an account using the server configuration",
		Long: `Run one sync for an account, reading the same environment as the server.

New emails are stored but not queued for analysis, and no lock is taken, so
do not run this while the server may sync the same account.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewConnection(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.CloseConnection(pool)

			store := db.NewStore(pool)
			syncer := mailsync.NewSyncer(mailsync.Deps{
				Accounts:  store,
				Emails:    store,
				Transport: mailsync.NewIMAPTransport(imap.NewDialer(cfg.IMAPConnectTimeout)),
			}, mailsync.Options{
				EncryptionKey:    cfg.EncryptionKey,
				BatchSize:        cfg.SyncBatchSize,
				DefaultMaxEmails: cfg.DefaultMaxEmails,
				MaxEmailsLimit:   cfg.MaxEmailsLimit,
				SentFolderNames:  cfg.SentFolderNames,
				ConnectTimeout:   cfg.IMAPConnectTimeout,
			})

			result, err := syncer.Sync(ctx, mailsync.Request{UserID: userID, AccountID: accountID, MaxEmails: maxEmails})
			if err != nil {
				return fmt.Errorf("sync failed (%s): %s", mailsync.KindOf(err), mailsync.MessageOf(err))
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Synced %d emails (%d inbox, %d sent)\n", result.TotalSaved, result.Inbox, result.Sent)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Owner of the account (required)")
	cmd.Flags().StringVar(&accountID, "account", "", "Account to sync (required)")
	cmd.Flags().IntVar(&maxEmails, "max", 0, "Maximum emails to read (default from config)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
