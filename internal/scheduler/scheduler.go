package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/models"
)

const defaultAccountTimeout = 5 * time.Minute

var cronLogger = cron.PrintfLogger(log.StandardLogger())

type AccountLister interface {
	ListActiveIMAPAccounts(ctx context.Context) ([]*models.EmailAccount, error)
}

type Syncer interface {
	Sync(ctx context.Context, req mailsync.Request) (*mailsync.Result, error)
}

// Summary describes one pass over all active accounts.
type Summary struct {
	Accounts   int
	Succeeded  int
	Failed     int
	Skipped    int
	TotalSaved int
}

// Scheduler syncs every active IMAP account on a cron schedule. Accounts are
// synced one after another and a run is skipped while the previous one is
// still going.
type Scheduler struct {
	accounts       AccountLister
	syncer         Syncer
	maxEmails      int
	accountTimeout time.Duration
	cron           *cron.Cron
}

func New(accounts AccountLister, syncer Syncer, maxEmails int) *Scheduler {
	return &Scheduler{
		accounts:       accounts,
		syncer:         syncer,
		maxEmails:      maxEmails,
		accountTimeout: defaultAccountTimeout,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(
				cron.Recover(cronLogger),
				cron.SkipIfStillRunning(cronLogger),
			),
		),
	}
}

// Start schedules RunOnce with a standard five-field cron expression or a
// descriptor such as "@every 15m".
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	log.WithField("schedule", schedule).Info("Scheduler: started")
	return nil
}

// Stop stops scheduling and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("Scheduler: stopped")
}

// RunOnce syncs every active account once.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	var summary Summary

	accounts, err := s.accounts.ListActiveIMAPAccounts(ctx)
	if err != nil {
		log.WithError(err).Error("Scheduler: failed to list accounts")
		return summary
	}
	summary.Accounts = len(accounts)

	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}

		accountCtx, cancel := context.WithTimeout(ctx, s.accountTimeout)
		result, err := s.syncer.Sync(accountCtx, mailsync.Request{
			UserID:    account.UserID,
			AccountID: account.ID,
			MaxEmails: s.maxEmails,
		})
		cancel()

		switch {
		case mailsync.KindOf(err) == mailsync.KindConflict:
			summary.Skipped++
		case err != nil:
			summary.Failed++
		default:
			summary.Succeeded++
			summary.TotalSaved += result.TotalSaved
		}
	}

	log.WithFields(log.Fields{
		"accounts":    summary.Accounts,
		"succeeded":   summary.Succeeded,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"total_saved": summary.TotalSaved,
	}).Info("Scheduler: pass finished")
	return summary
}
