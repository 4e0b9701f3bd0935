package sync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Martian-dev/watchlane/internal/auth"
	"github.com/Martian-dev/watchlane/internal/metrics"
	"github.com/Martian-dev/watchlane/internal/model"
)

// TokenSource returns a valid bearer token for an account
type TokenSource interface {
	AccessToken(ctx context.Context, account model.EmailAccount) (string, error)
}

// WatermarkStore advances an account's last_sync_at
type WatermarkStore interface {
	SetWatermark(ctx context.Context, accountID string, at time.Time) error
}

// RunResult counts one account cycle
type RunResult struct {
	Since     time.Time
	Watermark time.Time
	Fetched   int
	Dropped   int
	Threads   int
	Inserted  int
}

// Runner orchestrates one sync cycle for one mailbox account
type Runner struct {
	store      WatermarkStore
	tokens     TokenSource
	fetcher    *Fetcher
	aggregator *Aggregator
	lookback   time.Duration
	now        func() time.Time
}

func NewRunner(st WatermarkStore, tokens TokenSource, fetcher *Fetcher, aggregator *Aggregator, lookback time.Duration) *Runner {
	return &Runner{
		store:      st,
		tokens:     tokens,
		fetcher:    fetcher,
		aggregator: aggregator,
		lookback:   lookback,
		now:        time.Now,
	}
}

// Run resolves the watermark, fetches, normalizes and aggregates, then advances the watermark
// to the time the cycle started. Any failure leaves the watermark untouched.
func (r *Runner) Run(ctx context.Context, account model.EmailAccount, logger *zap.Logger) (RunResult, error) {
	start := r.now().UTC()

	res := RunResult{Since: start.Add(-r.lookback)}
	if account.LastSyncAt != nil {
		res.Since = *account.LastSyncAt
	}

	token, err := r.tokens.AccessToken(ctx, account)
	if err != nil {
		kind := KindProvider
		if errors.Is(err, auth.ErrCredential) {
			kind = KindCredential
		}
		return res, newError(kind, account.ID, "access token", err)
	}

	raw, err := r.fetcher.Fetch(ctx, account, token, res.Since)
	if err != nil {
		return res, err
	}
	res.Fetched = len(raw)
	metrics.AddMessagesFetched(string(account.Provider), len(raw))

	normalized := make([]NormalizedMessage, 0, len(raw))
	for _, m := range raw {
		n, err := Normalize(m, account.EmailAddress)
		if err != nil {
			res.Dropped++
			logger.Warn("Dropping malformed message", zap.String("external_id", m.ID), zap.Error(err))
			continue
		}
		normalized = append(normalized, n)
	}
	metrics.AddMessagesDropped(res.Dropped)

	agg, err := r.aggregator.Apply(ctx, account, normalized)
	res.Threads, res.Inserted = agg.Threads, agg.Inserted
	metrics.AddThreadsTouched(agg.Threads)
	if err != nil {
		return res, err
	}

	if err := r.store.SetWatermark(ctx, account.ID, start); err != nil {
		return res, newError(KindStore, account.ID, "set watermark", err)
	}
	res.Watermark = start

	logger.Info("Account synced",
		zap.Time("since", res.Since),
		zap.Int("fetched", res.Fetched),
		zap.Int("dropped", res.Dropped),
		zap.Int("threads", res.Threads),
		zap.Int("inserted", res.Inserted),
	)
	return res, nil
}
