// Package coverage derives a thread's reply state from its complete message history.
//
// The derivation is a pure fold: it never reads the thread's previous state, so replaying
// or reordering messages always converges on the same result.
package coverage

import (
	"context"
	"fmt"
	"time"

	"github.com/Martian-dev/watchlane/internal/model"
)

// Fold computes first/last inbound and outbound timestamps and the coverage status.
//
//	lastInbound  lastOutbound            status
//	null         any                     COVERED
//	present      null                    UNCOVERED
//	present      later than lastInbound  COVERED
//	present      not later               UNCOVERED
func Fold(messages []model.Message) model.Coverage {
	var c model.Coverage

	for _, m := range messages {
		at := m.SentAt
		switch m.Direction {
		case model.DirectionInbound:
			c.FirstInboundAt = earliest(c.FirstInboundAt, at)
			c.LastInboundAt = latest(c.LastInboundAt, at)
		case model.DirectionOutbound:
			c.FirstOutboundAt = earliest(c.FirstOutboundAt, at)
			c.LastOutboundAt = latest(c.LastOutboundAt, at)
		}
	}

	c.Status = Status(c.LastInboundAt, c.LastOutboundAt)
	return c
}

// Status applies the coverage decision table.
func Status(lastInbound, lastOutbound *time.Time) model.CoverageStatus {
	switch {
	case lastInbound == nil:
		return model.CoverageCovered
	case lastOutbound == nil:
		return model.CoverageUncovered
	case lastOutbound.After(*lastInbound):
		return model.CoverageCovered
	default:
		return model.CoverageUncovered
	}
}

func earliest(cur *time.Time, at time.Time) *time.Time {
	if cur == nil || at.Before(*cur) {
		return &at
	}
	return cur
}

func latest(cur *time.Time, at time.Time) *time.Time {
	if cur == nil || at.After(*cur) {
		return &at
	}
	return cur
}

// Repository is the store surface recomputation needs.
type Repository interface {
	ListThreadMessages(ctx context.Context, threadID string) ([]model.Message, error)
	UpdateThreadCoverage(ctx context.Context, threadID string, c model.Coverage) error
}

// Recompute reads every persisted message of the thread, folds it and persists the result
// in a single update.
func Recompute(ctx context.Context, repo Repository, threadID string) (model.Coverage, error) {
	messages, err := repo.ListThreadMessages(ctx, threadID)
	if err != nil {
		return model.Coverage{}, fmt.Errorf("load messages of thread %s: %w", threadID, err)
	}

	c := Fold(messages)
	if err := repo.UpdateThreadCoverage(ctx, threadID, c); err != nil {
		return model.Coverage{}, fmt.Errorf("persist coverage of thread %s: %w", threadID, err)
	}
	return c, nil
}
