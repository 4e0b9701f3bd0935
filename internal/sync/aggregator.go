package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Martian-dev/watchlane/internal/coverage"
	"github.com/Martian-dev/watchlane/internal/events"
	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/store"
)

// TxStore opens a transaction over the store's queries.
type TxStore interface {
	WithTx(ctx context.Context, fn func(*store.Queries) error) error
}

// Aggregator groups normalized messages into threads and persists them.
type Aggregator struct {
	store        TxStore
	logger       *zap.Logger
	eventsPrefix string // empty disables coverage events
	now          func() time.Time
}

func NewAggregator(st TxStore, eventsPrefix string, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:        st,
		logger:       logger.Named("aggregator"),
		eventsPrefix: eventsPrefix,
		now:          time.Now,
	}
}

// AggregateResult counts what one Apply call touched.
type AggregateResult struct {
	Threads  int
	Inserted int
}

// Apply upserts one thread per conversation and its messages, then recomputes the thread's
// coverage from its full history. Each thread commits in its own transaction.
func (a *Aggregator) Apply(ctx context.Context, account model.EmailAccount, messages []NormalizedMessage) (AggregateResult, error) {
	groups := make(map[string][]NormalizedMessage)
	for _, m := range messages {
		groups[m.ConversationID] = append(groups[m.ConversationID], m)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var res AggregateResult
	for _, conversationID := range ids {
		group := groups[conversationID]
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].Timestamp.Equal(group[j].Timestamp) {
				return group[i].Timestamp.Before(group[j].Timestamp)
			}
			return group[i].ExternalID < group[j].ExternalID
		})

		inserted, err := a.applyThread(ctx, account, conversationID, group)
		if err != nil {
			return res, newError(KindStore, account.ID, "aggregate "+conversationID, err)
		}
		res.Threads++
		res.Inserted += inserted
	}
	return res, nil
}

func (a *Aggregator) applyThread(ctx context.Context, account model.EmailAccount, conversationID string, group []NormalizedMessage) (int, error) {
	first, last := group[0], group[len(group)-1]
	inserted := 0

	err := a.store.WithTx(ctx, func(q *store.Queries) error {
		inserted = 0

		threadID, prior, err := q.UpsertThread(ctx, store.ThreadKey{
			OrganizationID:   account.OrganizationID,
			EmailAccountID:   account.ID,
			ExternalThreadID: conversationID,
		}, first.Subject, last.Timestamp)
		if err != nil {
			return err
		}

		for _, m := range group {
			ok, err := q.InsertMessage(ctx, model.Message{
				ThreadID:   threadID,
				ExternalID: m.ExternalID,
				Direction:  m.Direction,
				Sender:     m.From,
				Recipients: m.To,
				Body:       m.Body,
				SentAt:     m.Timestamp,
			})
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}

		c, err := coverage.Recompute(ctx, q, threadID)
		if err != nil {
			return err
		}

		if a.eventsPrefix == "" || c.Status == prior {
			return nil
		}

		msg, err := events.NewCoverageEvent(a.eventsPrefix, events.CoverageChanged{
			ThreadID:         threadID,
			OrganizationID:   account.OrganizationID,
			EmailAccountID:   account.ID,
			ExternalThreadID: conversationID,
			From:             prior,
			To:               c.Status,
			LastInboundAt:    c.LastInboundAt,
			LastOutboundAt:   c.LastOutboundAt,
			At:               a.now().UTC(),
		})
		if err != nil {
			return err
		}
		return q.AppendOutbox(ctx, msg)
	})
	if err != nil {
		return 0, fmt.Errorf("thread %s: %w", conversationID, err)
	}
	return inserted, nil
}
