package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Martian-dev/watchlane/internal/events"
	"github.com/Martian-dev/watchlane/internal/lock"
	"github.com/Martian-dev/watchlane/internal/metrics"
	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/store"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	// StatusBusy means the account's lock could not be taken before the cycle timed out.
	StatusBusy = "busy"
)

// AccountStore is the store surface the Manager needs
type AccountStore interface {
	WatermarkStore
	GetAccount(ctx context.Context, id string) (model.EmailAccount, error)
	ListAccounts(ctx context.Context) ([]model.EmailAccount, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]model.EmailAccount, error)
	RecordSyncRun(ctx context.Context, run store.SyncRun) error
	AppendOutbox(ctx context.Context, msg store.OutboxMessage) error
}

// AccountResult is one account's outcome inside a batch
type AccountResult struct {
	AccountID    string        `json:"accountId"`
	EmailAddress string        `json:"emailAddress"`
	Provider     string        `json:"provider"`
	RunID        string        `json:"runId"`
	Status       string        `json:"status"`
	ErrorKind    Kind          `json:"errorKind,omitempty"`
	Error        string        `json:"error,omitempty"`
	Fetched      int           `json:"fetched"`
	Dropped      int           `json:"dropped"`
	Threads      int           `json:"threads"`
	Duration     time.Duration `json:"duration"`
	Watermark    *time.Time    `json:"watermark,omitempty"`
}

// Report collects every account's outcome. Per-account failures never fail the batch.
type Report struct {
	Results []AccountResult `json:"results"`
	Started time.Time       `json:"started"`
	Elapsed time.Duration   `json:"elapsed"`
}

func (r Report) Count(status string) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// ManagerOptions tune batch execution
type ManagerOptions struct {
	Concurrency    int
	AccountTimeout time.Duration
	EventsPrefix   string // empty disables account events
}

// Manager runs account cycles with at most one active cycle per account
type Manager struct {
	store  AccountStore
	runner *Runner
	locker lock.Locker
	opts   ManagerOptions
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(st AccountStore, runner *Runner, locker lock.Locker, opts ManagerOptions, logger *zap.Logger) *Manager {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Manager{
		store:  st,
		runner: runner,
		locker: locker,
		opts:   opts,
		logger: logger.Named("sync"),
		now:    time.Now,
	}
}

// SyncAccount syncs one account now. The error is non-nil only when the account cannot be loaded.
func (m *Manager) SyncAccount(ctx context.Context, accountID string) (AccountResult, error) {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return AccountResult{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return m.syncOne(ctx, account), nil
}

// SyncAccountsForUser syncs every mailbox of one user.
func (m *Manager) SyncAccountsForUser(ctx context.Context, userID string) (Report, error) {
	accounts, err := m.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return Report{}, fmt.Errorf("list accounts of user %s: %w", userID, err)
	}
	return m.syncBatch(ctx, accounts), nil
}

// SyncAllAccounts syncs every known mailbox.
func (m *Manager) SyncAllAccounts(ctx context.Context) (Report, error) {
	accounts, err := m.store.ListAccounts(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list accounts: %w", err)
	}
	return m.syncBatch(ctx, accounts), nil
}

func (m *Manager) syncBatch(ctx context.Context, accounts []model.EmailAccount) Report {
	report := Report{Started: m.now().UTC(), Results: make([]AccountResult, len(accounts))}
	m.logger.Info("Starting sync batch", zap.Int("accounts", len(accounts)))

	var g errgroup.Group
	g.SetLimit(m.opts.Concurrency)
	for i, account := range accounts {
		g.Go(func() error {
			report.Results[i] = m.syncOne(ctx, account)
			return nil
		})
	}
	_ = g.Wait()

	report.Elapsed = m.now().Sub(report.Started)
	m.logger.Info("Sync batch finished",
		zap.Int("accounts", len(accounts)),
		zap.Int("succeeded", report.Count(StatusSuccess)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Int("busy", report.Count(StatusBusy)),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report
}

func (m *Manager) syncOne(ctx context.Context, account model.EmailAccount) AccountResult {
	started := m.now().UTC()
	res := AccountResult{
		AccountID:    account.ID,
		EmailAddress: account.EmailAddress,
		Provider:     string(account.Provider),
		RunID:        uuid.NewString(),
	}
	logger := m.logger.With(
		zap.String("run_id", res.RunID),
		zap.String("account_id", account.ID),
		zap.String("provider", res.Provider),
	)

	if m.opts.AccountTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.AccountTimeout)
		defer cancel()
	}

	unlock, err := m.locker.Lock(ctx, account.ID)
	if err != nil {
		res.Status = StatusBusy
		res.Error = err.Error()
		logger.Warn("Account sync already running", zap.Error(err))
		m.finish(&res, account, started, logger)
		return res
	}
	defer unlock()

	// Re-read under the lock so an overlapping trigger sees the watermark the previous holder wrote.
	fresh, err := m.store.GetAccount(ctx, account.ID)
	if err != nil {
		err = newError(KindStore, account.ID, "load account", err)
	} else {
		account = fresh
		var run RunResult
		run, err = m.runner.Run(ctx, account, logger)
		res.Fetched, res.Dropped, res.Threads = run.Fetched, run.Dropped, run.Threads
		if err == nil {
			wm := run.Watermark
			res.Watermark = &wm
		}
	}

	if err != nil {
		res.Status = StatusFailed
		res.ErrorKind = KindOf(err)
		if res.ErrorKind == "" {
			res.ErrorKind = KindProvider
			if errors.Is(err, context.DeadlineExceeded) {
				res.Error = "account cycle timed out: " + err.Error()
			}
		}
		if res.Error == "" {
			res.Error = err.Error()
		}
		logger.Error("Account sync failed", zap.String("kind", string(res.ErrorKind)), zap.Error(err))
	} else {
		res.Status = StatusSuccess
	}

	m.finish(&res, account, started, logger)
	return res
}

// finish records the audit row, metrics and the account event. None of these fail the cycle.
func (m *Manager) finish(res *AccountResult, account model.EmailAccount, started time.Time, logger *zap.Logger) {
	finished := m.now().UTC()
	res.Duration = finished.Sub(started)
	metrics.RecordSync(res.Provider, res.Status, string(res.ErrorKind), res.Duration)

	// The cycle's ctx may have expired; audit writes get their own short deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.store.RecordSyncRun(ctx, store.SyncRun{
		ID:           res.RunID,
		AccountID:    res.AccountID,
		StartedAt:    started,
		FinishedAt:   finished,
		Status:       res.Status,
		ErrorKind:    string(res.ErrorKind),
		ErrorMessage: res.Error,
		Fetched:      res.Fetched,
		Dropped:      res.Dropped,
		Threads:      res.Threads,
	}); err != nil {
		logger.Warn("Failed to record sync run", zap.Error(err))
	}

	if m.opts.EventsPrefix == "" {
		return
	}
	msg, err := events.NewAccountEvent(m.opts.EventsPrefix, events.AccountSynced{
		AccountID:      res.AccountID,
		OrganizationID: account.OrganizationID,
		EmailAddress:   res.EmailAddress,
		RunID:          res.RunID,
		Status:         res.Status,
		ErrorKind:      string(res.ErrorKind),
		Error:          res.Error,
		Fetched:        res.Fetched,
		Dropped:        res.Dropped,
		Threads:        res.Threads,
		At:             finished,
	})
	if err == nil {
		err = m.store.AppendOutbox(ctx, msg)
	}
	if err != nil {
		logger.Warn("Failed to queue account event", zap.Error(err))
	}
}
