package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxMessage represents a message in the outbox
type OutboxMessage struct {
	ID        string
	Subject   string
	EventType string
	Payload   []byte
	MsgID     string
	Retries   int
}

// AppendOutbox queues an event for the dispatcher. A repeated MsgID is ignored.
func (q *Queries) AppendOutbox(ctx context.Context, msg OutboxMessage) error {
	now := millis(q.now())
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	_, err := q.exec(ctx, `
		INSERT INTO outbox (id, created_at, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (msg_id) DO NOTHING
	`, msg.ID, now, msg.Subject, msg.EventType, string(msg.Payload), msg.MsgID, now)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// DequeueOutbox fetches unpublished messages that are due
func (q *Queries) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	rows, err := q.query(ctx, `
		SELECT id, subject, event_type, payload, msg_id, retries
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY created_at, id
		LIMIT ?
	`, millis(q.now()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var (
			msg     OutboxMessage
			payload string
		)
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.EventType, &payload, &msg.MsgID, &msg.Retries); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		msg.Payload = []byte(payload)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkPublished marks an outbox message as published
func (q *Queries) MarkPublished(ctx context.Context, id string) error {
	_, err := q.exec(ctx, `UPDATE outbox SET published_at = ? WHERE id = ?`, millis(q.now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	return nil
}

// MarkOutboxRetry updates retry count and next attempt time
func (q *Queries) MarkOutboxRetry(ctx context.Context, id string, backoff time.Duration) error {
	_, err := q.exec(ctx, `
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`, millis(q.now().Add(backoff)), id)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}

// SyncRun is the audit record of one account cycle.
type SyncRun struct {
	ID           string
	AccountID    string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	ErrorKind    string
	ErrorMessage string
	Fetched      int
	Dropped      int
	Threads      int
}

func (q *Queries) RecordSyncRun(ctx context.Context, run SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := q.exec(ctx, `
		INSERT INTO sync_runs
			(id, email_account_id, started_at, finished_at, status, error_kind, error_message, fetched, dropped, threads)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.AccountID, millis(run.StartedAt), millis(run.FinishedAt), run.Status, run.ErrorKind,
		run.ErrorMessage, run.Fetched, run.Dropped, run.Threads)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent runs of an account, newest first.
func (q *Queries) ListSyncRuns(ctx context.Context, accountID string, limit int) ([]SyncRun, error) {
	rows, err := q.query(ctx, `
		SELECT id, email_account_id, started_at, finished_at, status, error_kind, error_message, fetched, dropped, threads
		FROM sync_runs
		WHERE email_account_id = ?
		ORDER BY started_at DESC, id
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var (
			r                 SyncRun
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.AccountID, &started, &finished, &r.Status, &r.ErrorKind,
			&r.ErrorMessage, &r.Fetched, &r.Dropped, &r.Threads); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		r.StartedAt = fromMillis(started)
		r.FinishedAt = fromMillis(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
